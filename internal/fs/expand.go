package fs

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Expansion is the result of matching PathGlobs against a Lister.
type Expansion struct {
	// Stats are the matched files and symlinks, sorted by path.
	Stats []Stat
	// Matched has one flag per include pattern.
	Matched []bool
}

// Expand walks the tree from the root, descending only into directories that
// could hold a match, and returns every selected file and symlink.
// Symlinks are reported, never followed.
func Expand(ctx context.Context, l Lister, g PathGlobs) (Expansion, error) {
	if err := g.Validate(); err != nil {
		return Expansion{}, err
	}
	exp := Expansion{Matched: make([]bool, len(g.Include))}
	if len(g.Include) == 0 {
		return exp, nil
	}
	if err := expandDir(ctx, l, g, "", &exp); err != nil {
		return Expansion{}, err
	}
	slices.SortFunc(exp.Stats, func(a, b Stat) int { return strings.Compare(a.Path, b.Path) })
	return exp, nil
}

func expandDir(ctx context.Context, l Lister, g PathGlobs, dir string, exp *Expansion) error {
	listing, err := l.Scandir(ctx, dir)
	if err != nil {
		return fmt.Errorf("expand %s: %w", g, err)
	}
	for _, st := range listing {
		if st.Kind == KindDir {
			if g.CouldMatchUnder(st.Path) {
				if err := expandDir(ctx, l, g, st.Path, exp); err != nil {
					return err
				}
			}
			continue
		}
		if g.Excluded(st.Path) {
			continue
		}
		selected := false
		for i, inc := range g.Include {
			if matchPattern(inc, st.Path) {
				exp.Matched[i] = true
				selected = true
			}
		}
		if selected {
			exp.Stats = append(exp.Stats, st)
		}
	}
	return nil
}

package fs

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobMatchPolicy decides what happens when an include pattern matches
// nothing.
type GlobMatchPolicy string

const (
	// PolicyIgnore silently accepts unmatched patterns.
	PolicyIgnore GlobMatchPolicy = "ignore"
	// PolicyWarn logs unmatched patterns and proceeds.
	PolicyWarn GlobMatchPolicy = "warn"
	// PolicyError fails the capture with *GlobMatchError.
	PolicyError GlobMatchPolicy = "error"
)

// GlobConjunction decides which include patterns must match for the glob
// set to count as matched.
type GlobConjunction string

const (
	// AnyMatch requires at least one include to match something.
	AnyMatch GlobConjunction = "any_match"
	// AllMatch requires every include to match something.
	AllMatch GlobConjunction = "all_match"
)

// ParseGlobMatchPolicy validates a policy name. Empty means ignore.
func ParseGlobMatchPolicy(s string) (GlobMatchPolicy, error) {
	switch GlobMatchPolicy(s) {
	case "", PolicyIgnore:
		return PolicyIgnore, nil
	case PolicyWarn, PolicyError:
		return GlobMatchPolicy(s), nil
	}
	return "", fmt.Errorf("unknown glob match policy %q (want ignore, warn or error)", s)
}

// PathGlobs is a set of include patterns and exclude patterns relative to a
// root. Patterns use doublestar syntax: *, ?, [...], {a,b} within a
// component and ** for zero or more directories.
//
// PathGlobs is comparable only through its String form; it holds slices.
type PathGlobs struct {
	Include     []string
	Exclude     []string
	MatchPolicy GlobMatchPolicy
	Conjunction GlobConjunction

	// Description names the origin of the globs in error messages.
	Description string
}

// NewPathGlobs splits patterns into includes and "!"-prefixed excludes.
func NewPathGlobs(patterns ...string) PathGlobs {
	var g PathGlobs
	for _, p := range patterns {
		if ex, ok := strings.CutPrefix(p, "!"); ok {
			g.Exclude = append(g.Exclude, ex)
			continue
		}
		g.Include = append(g.Include, p)
	}
	return g
}

// Validate checks every pattern is relative, stays under the root and parses.
func (g PathGlobs) Validate() error {
	for _, p := range append(append([]string{}, g.Include...), g.Exclude...) {
		if strings.HasPrefix(p, "/") {
			return fmt.Errorf("glob %q must be relative", p)
		}
		for _, comp := range strings.Split(p, "/") {
			if comp == ".." {
				return fmt.Errorf("glob %q may not escape the root", p)
			}
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob %q", p)
		}
	}
	if _, err := ParseGlobMatchPolicy(string(g.MatchPolicy)); err != nil {
		return err
	}
	switch g.Conjunction {
	case "", AnyMatch, AllMatch:
	default:
		return fmt.Errorf("unknown glob conjunction %q", g.Conjunction)
	}
	return nil
}

// String renders the globs in "include !exclude" form.
func (g PathGlobs) String() string {
	parts := append([]string{}, g.Include...)
	for _, ex := range g.Exclude {
		parts = append(parts, "!"+ex)
	}
	return strings.Join(parts, " ")
}

// Matches reports whether the relative path p is selected: some include
// matches p and no exclude matches p or any of its ancestors.
func (g PathGlobs) Matches(p string) bool {
	return g.matchInclude(p) >= 0 && !g.Excluded(p)
}

// matchInclude returns the index of the first include matching p, or -1.
func (g PathGlobs) matchInclude(p string) int {
	for i, inc := range g.Include {
		if matchPattern(inc, p) {
			return i
		}
	}
	return -1
}

func matchPattern(pattern, p string) bool {
	ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "./"), p)
	return ok
}

// Excluded reports whether p or one of its ancestors matches an exclude.
func (g PathGlobs) Excluded(p string) bool {
	if len(g.Exclude) == 0 {
		return false
	}
	candidates := append([]string{p}, Parents(p)...)
	for _, ex := range g.Exclude {
		for _, c := range candidates {
			if c != "" && matchPattern(ex, c) {
				return true
			}
		}
	}
	return false
}

// CouldMatchUnder reports whether any path below directory dir might be
// selected. It is used to prune traversal.
func (g PathGlobs) CouldMatchUnder(dir string) bool {
	if dir != "" && g.Excluded(dir) {
		return false
	}
	var dirComps []string
	if dir != "" {
		dirComps = strings.Split(dir, "/")
	}
	for _, inc := range g.Include {
		if prefixCouldMatch(strings.Split(strings.TrimPrefix(inc, "./"), "/"), dirComps) {
			return true
		}
	}
	return false
}

func prefixCouldMatch(pattern, dir []string) bool {
	for i, comp := range dir {
		if i >= len(pattern) {
			return false
		}
		if strings.Contains(pattern[i], "**") {
			return true
		}
		if ok, _ := doublestar.Match(pattern[i], comp); !ok {
			return false
		}
	}
	return len(pattern) > len(dir)
}

// GlobMatchError reports include patterns that matched nothing under the
// error policy.
type GlobMatchError struct {
	Unmatched   []string
	Description string
}

// Error implements the error interface.
func (e *GlobMatchError) Error() string {
	msg := fmt.Sprintf("unmatched glob(s): %s", strings.Join(e.Unmatched, ", "))
	if e.Description != "" {
		msg += " from " + e.Description
	}
	return msg
}

// Enforce applies the match policy to the per-include match flags produced
// by Expand.
func (g PathGlobs) Enforce(matched []bool, logger *slog.Logger) error {
	if g.MatchPolicy == "" || g.MatchPolicy == PolicyIgnore {
		return nil
	}

	var unmatched []string
	anyMatched := false
	for i, ok := range matched {
		if ok {
			anyMatched = true
			continue
		}
		unmatched = append(unmatched, g.Include[i])
	}

	failed := len(unmatched) > 0
	if g.Conjunction != AllMatch {
		failed = !anyMatched && len(g.Include) > 0
	}
	if !failed {
		return nil
	}

	if g.MatchPolicy == PolicyWarn {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("unmatched globs",
			"globs", unmatched,
			"description", g.Description,
		)
		return nil
	}
	return &GlobMatchError{Unmatched: unmatched, Description: g.Description}
}

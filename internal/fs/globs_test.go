package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathGlobsMatches(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"star in root", []string{"*.txt"}, "a.txt", true},
		{"star does not cross dirs", []string{"*.txt"}, "sub/a.txt", false},
		{"doublestar", []string{"**/*.txt"}, "sub/deep/a.txt", true},
		{"doublestar zero dirs", []string{"**/*.txt"}, "a.txt", true},
		{"braces", []string{"src/*.{go,mod}"}, "src/go.mod", true},
		{"exclude file", []string{"**/*.go", "!**/*_test.go"}, "pkg/x_test.go", false},
		{"exclude dir", []string{"**", "!vendor"}, "vendor/lib/a.go", false},
		{"literal", []string{"BUILD"}, "BUILD", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPathGlobs(tt.patterns...).Matches(tt.path))
		})
	}
}

func TestPathGlobsCouldMatchUnder(t *testing.T) {
	g := NewPathGlobs("src/*.go", "!src/gen")
	assert.True(t, g.CouldMatchUnder(""))
	assert.True(t, g.CouldMatchUnder("src"))
	assert.False(t, g.CouldMatchUnder("docs"))
	assert.False(t, g.CouldMatchUnder("src/pkg"))
	assert.False(t, g.CouldMatchUnder("src/gen"))

	assert.True(t, NewPathGlobs("**/*.go").CouldMatchUnder("a/b/c"))
}

func TestPathGlobsValidate(t *testing.T) {
	assert.NoError(t, NewPathGlobs("a/**/b").Validate())
	assert.Error(t, NewPathGlobs("/abs").Validate())
	assert.Error(t, NewPathGlobs("../up").Validate())
	assert.Error(t, NewPathGlobs("[").Validate())
	assert.Error(t, PathGlobs{Include: []string{"x"}, MatchPolicy: "loud"}.Validate())
}

func TestEnforce(t *testing.T) {
	g := NewPathGlobs("*.txt", "*.md")
	g.MatchPolicy = PolicyError
	g.Description = "docs"

	assert.NoError(t, g.Enforce([]bool{true, false}, nil))

	var gme *GlobMatchError
	err := g.Enforce([]bool{false, false}, nil)
	require.ErrorAs(t, err, &gme)
	assert.Equal(t, []string{"*.txt", "*.md"}, gme.Unmatched)
	assert.Contains(t, err.Error(), "docs")

	g.Conjunction = AllMatch
	err = g.Enforce([]bool{true, false}, nil)
	require.ErrorAs(t, err, &gme)
	assert.Equal(t, []string{"*.md"}, gme.Unmatched)

	g.MatchPolicy = PolicyWarn
	assert.NoError(t, g.Enforce([]bool{false, false}, nil))

	g.MatchPolicy = PolicyIgnore
	assert.NoError(t, g.Enforce([]bool{false, false}, nil))
}

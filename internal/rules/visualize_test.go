package rules

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestVisualize_Golden(t *testing.T) {
	g, err := NewBuilder().
		Register(readText(), parse(WithGets(GetSpecFor[sourceText, sourceFile]()))).
		Root(tSourceFile).
		Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.Visualize(&buf))

	gd := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gd.Assert(t, "rule_graph", buf.Bytes())
}

func TestVisualize_Deterministic(t *testing.T) {
	render := func() string {
		g, err := NewBuilder().
			Register(parse(), readText(), Singleton(options{})).
			Root(tSourceFile).
			Build()
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, g.Visualize(&buf))
		return buf.String()
	}

	first := render()
	for range 5 {
		require.Equal(t, first, render())
	}
}

package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/app"
	"github.com/badgerdata/marketpipe/internal/pipeline"
)

func testApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestSelectSourcesDefaultsToWeekly(t *testing.T) {
	a := testApp(t)

	selected, err := selectSources(a, nil, "")
	require.NoError(t, err)
	names := make([]string, 0, len(selected))
	for _, s := range selected {
		names = append(names, s.Name())
		require.Equal(t, pipeline.CadenceWeekly, s.Cadence())
	}
	require.Equal(t, []string{"dfi", "traffic"}, names)
}

func TestSelectSourcesByCadence(t *testing.T) {
	a := testApp(t)

	selected, err := selectSources(a, nil, "quarterly")
	require.NoError(t, err)
	names := make([]string, 0, len(selected))
	for _, s := range selected {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"census", "fcc", "sba"}, names)

	_, err = selectSources(a, nil, "daily")
	require.Error(t, err)
}

func TestSelectSourcesExplicitOverride(t *testing.T) {
	a := testApp(t)

	selected, err := selectSources(a, []string{"bls", "places"}, "weekly")
	require.NoError(t, err)
	require.Len(t, selected, 2)

	_, err = selectSources(a, []string{"nope"}, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown source")
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"collect", "integrate", "serve"})
}

package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

type stubSource struct {
	name    string
	cadence pipeline.Cadence
}

func (s stubSource) Name() string                                    { return s.name }
func (s stubSource) Cadence() pipeline.Cadence                       { return s.cadence }
func (s stubSource) Table() pipeline.TableSpec                       { return pipeline.TableSpec{Name: s.name} }
func (s stubSource) Collect(context.Context) ([]pipeline.Row, error) { return nil, nil }
func (s stubSource) Sample() []pipeline.Row                          { return nil }
func (s stubSource) Key(pipeline.Row) string                         { return "" }

func TestRegistryLookupAndOrdering(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(
		stubSource{name: "traffic", cadence: pipeline.CadenceWeekly},
		stubSource{name: "census", cadence: pipeline.CadenceQuarterly},
		stubSource{name: "dfi", cadence: pipeline.CadenceWeekly},
	)
	require.NoError(t, err)

	require.Equal(t, []string{"census", "dfi", "traffic"}, reg.Names())

	s, ok := reg.Get("dfi")
	require.True(t, ok)
	require.Equal(t, "dfi", s.Name())

	_, ok = reg.Get("missing")
	require.False(t, ok)

	weekly := reg.ByCadence(pipeline.CadenceWeekly)
	require.Len(t, weekly, 2)
	require.Equal(t, "dfi", weekly[0].Name())
	require.Equal(t, "traffic", weekly[1].Name())

	require.Len(t, reg.All(), 3)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(
		stubSource{name: "census"},
		stubSource{name: "census"},
	)
	require.Error(t, err)
}

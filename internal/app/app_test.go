package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/runstore"
	"github.com/badgerdata/marketpipe/internal/warehouse"
)

func TestNewDefaultsToInMemoryBackends(t *testing.T) {
	a, err := New(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.IsType(t, &warehouse.Memory{}, a.Warehouse)
	require.IsType(t, &runstore.Memory{}, a.Runs)
	require.NotNil(t, a.Engine)
	require.NotNil(t, a.Submitter)

	names := a.Registry.Names()
	require.Equal(t, []string{"bls", "census", "dfi", "fcc", "places", "sba", "traffic"}, names)
}

func TestNewRejectsBadConfigPath(t *testing.T) {
	_, err := New(context.Background(), "/nonexistent/config.yaml")
	require.Error(t, err)
}

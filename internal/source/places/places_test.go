package places

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/source"
)

func resultJSON(id, name string) string {
	return fmt.Sprintf(`{
		"place_id": %q, "name": %q,
		"formatted_address": "123 State St, Madison, WI",
		"business_status": "OPERATIONAL",
		"rating": 4.2, "user_ratings_total": 100, "price_level": 2,
		"types": ["cafe", "food"],
		"geometry": {"location": {"lat": 43.07, "lng": -89.38}}
	}`, id, name)
}

func newTestSource(t *testing.T, handler http.HandlerFunc, queries ...string) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.PlacesConfig{
		BaseURL: srv.URL,
		APIKey:  "places-key",
		Queries: queries,
	}
	src := New(cfg, source.NewClient(Name, 5*time.Second, 0, nil))
	src.now = func() time.Time { return time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC) }
	src.sleep = func(context.Context, time.Duration) bool { return true }
	return src
}

func TestCollectFollowsPageTokens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/textsearch/json", r.URL.Path)
		require.Equal(t, "places-key", r.URL.Query().Get("key"))
		switch calls.Add(1) {
		case 1:
			require.Equal(t, "coffee shop in Madison, WI", r.URL.Query().Get("query"))
			fmt.Fprintf(w, `{"status":"OK","next_page_token":"tok-2","results":[%s]}`, resultJSON("p1", "Colectivo"))
		case 2:
			require.Equal(t, "tok-2", r.URL.Query().Get("pagetoken"))
			require.Empty(t, r.URL.Query().Get("query"), "pagetoken requests omit the query")
			fmt.Fprintf(w, `{"status":"OK","results":[%s]}`, resultJSON("p2", "Ancora"))
		default:
			t.Error("unexpected extra page request")
		}
	}, "coffee shop in Madison, WI")

	rows, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "p1", rows[0]["place_id"])
	require.Equal(t, "2026-08", rows[0]["snapshot_month"])
	require.Equal(t, "cafe,food", rows[0]["types"])
	require.Equal(t, "p2", rows[1]["place_id"])
}

func TestCollectStopsAtPageCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"status":"OK","next_page_token":"tok-%d","results":[%s]}`,
			n, resultJSON(fmt.Sprintf("p%d", n), "Cafe"))
	}, "coffee")

	rows, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, maxPagesPerQuery)
	require.EqualValues(t, maxPagesPerQuery, calls.Load())
}

func TestCollectZeroResults(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}, "yak farm in Mercer, WI")

	rows, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCollectSurfacesDeniedRequests(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid."}`))
	}, "coffee")

	_, err := src.Collect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestCollectRequiresConfig(t *testing.T) {
	t.Parallel()

	src := New(config.PlacesConfig{}, nil)
	_, err := src.Collect(context.Background())
	require.Error(t, err)
}

func TestKeyAndSample(t *testing.T) {
	t.Parallel()

	src := New(config.PlacesConfig{}, nil)
	samples := src.Sample()
	require.NotEmpty(t, samples)
	for _, row := range samples {
		require.NotEmpty(t, src.Key(row))
	}
	require.Empty(t, src.Key(map[string]any{"place_id": "p1"}), "month required")
}

package bls

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/source"
)

const blsPayload = `{
  "status": "REQUEST_SUCCEEDED",
  "Results": {
    "series": [
      {
        "seriesID": "CUUR0000SA0",
        "data": [
          {"year": "2024", "period": "M06", "periodName": "June", "value": "314.175", "footnotes": [{}]},
          {"year": "2024", "period": "M05", "periodName": "May", "value": "-", "footnotes": [{"text": "Suppressed"}]}
        ]
      }
    ]
  }
}`

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.BLSConfig{BaseURL: srv.URL, APIKey: "bls-key", SeriesIDs: []string{"CUUR0000SA0"}, YearsBack: 2}
	client := source.NewClient(Name, 5*time.Second, 0, nil)
	src := New(cfg, client)
	src.now = func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }
	return src
}

func TestCollectPostsWindowAndMapsRows(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/timeseries/data/", r.URL.Path)

		var req payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"CUUR0000SA0"}, req.SeriesID)
		require.Equal(t, "2022", req.StartYear)
		require.Equal(t, "2024", req.EndYear)
		require.Equal(t, "bls-key", req.RegistrationKey)

		_, _ = w.Write([]byte(blsPayload))
	})

	rows, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	june := rows[0]
	require.Equal(t, "CUUR0000SA0", june["series_id"])
	require.Equal(t, 2024, june["year"])
	require.Equal(t, "M06", june["period"])
	require.Equal(t, 314.175, june["value"])

	// Suppressed observations keep the row but carry a nil value.
	may := rows[1]
	require.Nil(t, may["value"])
	require.Equal(t, "Suppressed", may["footnotes"])
}

func TestCollectSurfacesAPIFailure(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_NOT_PROCESSED","message":["daily threshold exceeded"]}`))
	})

	_, err := src.Collect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "daily threshold exceeded")
}

func TestKeyAndSample(t *testing.T) {
	t.Parallel()

	src := New(config.BLSConfig{}, nil)
	for _, row := range src.Sample() {
		require.NotEmpty(t, src.Key(row))
	}
	require.Equal(t, "CUUR0000SA0|2024|M06", src.Key(src.Sample()[0]))
	require.Empty(t, src.Key(map[string]any{"year": 2024}))
}

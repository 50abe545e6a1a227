// Package places collects competitor listings from the Google Places Text
// Search API for the configured market queries.
package places

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Name is the registry identifier for this collector.
const Name = "places"

// maxPagesPerQuery mirrors the API's 60-result cap (3 pages of 20).
const maxPagesPerQuery = 3

type searchResponse struct {
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message"`
	NextPageToken string `json:"next_page_token"`
	Results       []struct {
		PlaceID          string   `json:"place_id"`
		Name             string   `json:"name"`
		FormattedAddress string   `json:"formatted_address"`
		BusinessStatus   string   `json:"business_status"`
		Rating           float64  `json:"rating"`
		UserRatingsTotal int      `json:"user_ratings_total"`
		PriceLevel       int      `json:"price_level"`
		Types            []string `json:"types"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Source implements pipeline.Source for Places text searches.
type Source struct {
	cfg    config.PlacesConfig
	client *source.Client
	now    func() time.Time
	// sleep is swapped in tests to avoid real pagination delays.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New builds the Places collector.
func New(cfg config.PlacesConfig, client *source.Client) *Source {
	return &Source{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceMonthly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "google_places_raw",
		Description:    "Raw Places Text Search results per market query, one snapshot per month.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"query", "place_id"},
		KeyColumns:     []string{"place_id", "snapshot_month"},
		Columns: []pipeline.ColumnSpec{
			{Name: "place_id", Type: pipeline.ColumnString, Required: true},
			{Name: "name", Type: pipeline.ColumnString, Required: true},
			{Name: "formatted_address", Type: pipeline.ColumnString},
			{Name: "lat", Type: pipeline.ColumnFloat},
			{Name: "lng", Type: pipeline.ColumnFloat},
			{Name: "rating", Type: pipeline.ColumnFloat},
			{Name: "user_ratings_total", Type: pipeline.ColumnInteger},
			{Name: "price_level", Type: pipeline.ColumnInteger},
			{Name: "business_status", Type: pipeline.ColumnString},
			{Name: "types", Type: pipeline.ColumnString, Description: "comma-joined Places types"},
			{Name: "query", Type: pipeline.ColumnString, Required: true},
			{Name: "snapshot_month", Type: pipeline.ColumnString, Required: true, Description: "YYYY-MM collection month"},
		},
	}
}

// Collect walks every configured query, following next_page_token up to the
// API's result cap. Requests are spaced by the configured delay on top of
// the client's rate limit.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("sources.places.api_key is not configured")
	}
	if len(s.cfg.Queries) == 0 {
		return nil, fmt.Errorf("sources.places.queries is empty")
	}
	month := s.now().UTC().Format("2006-01")

	var rows []pipeline.Row
	for qi, query := range s.cfg.Queries {
		if qi > 0 && !s.sleep(ctx, time.Duration(s.cfg.RequestDelay)*time.Millisecond) {
			return rows, ctx.Err()
		}
		pageRows, err := s.collectQuery(ctx, query, month)
		if err != nil {
			return rows, fmt.Errorf("query %q: %w", query, err)
		}
		rows = append(rows, pageRows...)
	}
	return rows, nil
}

func (s *Source) collectQuery(ctx context.Context, query, month string) ([]pipeline.Row, error) {
	var rows []pipeline.Row
	pageToken := ""
	for page := 0; page < maxPagesPerQuery; page++ {
		if pageToken != "" {
			// A fresh next_page_token is not valid immediately.
			if !s.sleep(ctx, time.Duration(s.cfg.PageDelayMs)*time.Millisecond) {
				return rows, ctx.Err()
			}
		}

		q := url.Values{}
		q.Set("key", s.cfg.APIKey)
		if pageToken != "" {
			q.Set("pagetoken", pageToken)
		} else {
			q.Set("query", query)
		}
		endpoint := s.cfg.BaseURL + "/textsearch/json?" + q.Encode()

		var resp searchResponse
		if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
			return rows, err
		}
		switch resp.Status {
		case "OK":
		case "ZERO_RESULTS":
			return rows, nil
		default:
			return rows, fmt.Errorf("places status %s: %s", resp.Status, resp.ErrorMessage)
		}

		for _, r := range resp.Results {
			if r.PlaceID == "" {
				continue
			}
			rows = append(rows, pipeline.Row{
				"place_id":           r.PlaceID,
				"name":               r.Name,
				"formatted_address":  r.FormattedAddress,
				"lat":                r.Geometry.Location.Lat,
				"lng":                r.Geometry.Location.Lng,
				"rating":             r.Rating,
				"user_ratings_total": r.UserRatingsTotal,
				"price_level":        r.PriceLevel,
				"business_status":    r.BusinessStatus,
				"types":              strings.Join(r.Types, ","),
				"query":              query,
				"snapshot_month":     month,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return rows, nil
		}
	}
	return rows, nil
}

// Key implements pipeline.Source. One row per place per snapshot month.
func (s *Source) Key(row pipeline.Row) string {
	id, _ := row["place_id"].(string)
	month, _ := row["snapshot_month"].(string)
	if id == "" || month == "" {
		return ""
	}
	return id + "|" + month
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	month := s.now().UTC().Format("2006-01")
	return []pipeline.Row{
		{"place_id": "ChIJ7eonYnVTBogRxujJpvcUqLk", "name": "Colectivo Coffee", "formatted_address": "25 S Pinckney St, Madison, WI 53703", "lat": 43.0744, "lng": -89.3812, "rating": 4.5, "user_ratings_total": 1433, "price_level": 2, "business_status": "OPERATIONAL", "types": "cafe,food,point_of_interest", "query": "coffee shop in Madison, WI", "snapshot_month": month},
		{"place_id": "ChIJ6XNoV3pTBogRZvmYiTqAZQk", "name": "Ancora Coffee", "formatted_address": "112 King St, Madison, WI 53703", "lat": 43.0757, "lng": -89.3796, "rating": 4.4, "user_ratings_total": 612, "price_level": 2, "business_status": "OPERATIONAL", "types": "cafe,food", "query": "coffee shop in Madison, WI", "snapshot_month": month},
		{"place_id": "ChIJB0uzhpZTBogRJ1ookJDW7ak", "name": "Barriques", "formatted_address": "127 W Washington Ave, Madison, WI 53703", "lat": 43.0735, "lng": -89.3867, "rating": 4.3, "user_ratings_total": 845, "price_level": 1, "business_status": "OPERATIONAL", "types": "cafe,bar,food", "query": "coffee shop in Madison, WI", "snapshot_month": month},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

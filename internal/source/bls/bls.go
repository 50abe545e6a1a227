// Package bls collects CPI/PPI and employment series observations from the
// BLS public timeseries API (v2).
package bls

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Name is the registry identifier for this collector.
const Name = "bls"

// defaultSeries are pulled when the config lists none: CPI-U all items,
// PPI final demand, and Wisconsin statewide unemployment (LAUS).
var defaultSeries = []string{
	"CUUR0000SA0",
	"WPUFD4",
	"LASST550000000000003",
}

type payload struct {
	SeriesID  []string `json:"seriesid"`
	StartYear string   `json:"startyear"`
	EndYear   string   `json:"endyear"`
	// RegistrationKey raises the daily query quota; optional.
	RegistrationKey string `json:"registrationkey,omitempty"`
}

type response struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year       string `json:"year"`
				Period     string `json:"period"`
				PeriodName string `json:"periodName"`
				Value      string `json:"value"`
				Footnotes  []struct {
					Text string `json:"text"`
				} `json:"footnotes"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// Source implements pipeline.Source for BLS series.
type Source struct {
	cfg    config.BLSConfig
	client *source.Client
	now    func() time.Time
}

// New builds the BLS collector.
func New(cfg config.BLSConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client, now: time.Now}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source. CPI/PPI publish monthly.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceMonthly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "bls_series_observations",
		Description:    "Monthly BLS observations for CPI, PPI, and WI employment series.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"series_id"},
		KeyColumns:     []string{"series_id", "year", "period"},
		Columns: []pipeline.ColumnSpec{
			{Name: "series_id", Type: pipeline.ColumnString, Required: true},
			{Name: "year", Type: pipeline.ColumnInteger, Required: true},
			{Name: "period", Type: pipeline.ColumnString, Required: true, Description: "BLS period code, e.g. M01"},
			{Name: "period_name", Type: pipeline.ColumnString},
			{Name: "value", Type: pipeline.ColumnFloat},
			{Name: "footnotes", Type: pipeline.ColumnString},
		},
	}
}

// Collect posts a timeseries request covering the configured window.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	series := s.cfg.SeriesIDs
	if len(series) == 0 {
		series = defaultSeries
	}
	yearsBack := s.cfg.YearsBack
	if yearsBack <= 0 {
		yearsBack = 3
	}
	endYear := s.now().Year()

	req := payload{
		SeriesID:        series,
		StartYear:       strconv.Itoa(endYear - yearsBack),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: s.cfg.APIKey,
	}

	var resp response
	endpoint := s.cfg.BaseURL + "/timeseries/data/"
	if err := s.client.PostJSON(ctx, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("fetch bls series: %w", err)
	}
	if resp.Status != "REQUEST_SUCCEEDED" {
		return nil, fmt.Errorf("bls request failed: %s", strings.Join(resp.Message, "; "))
	}

	var rows []pipeline.Row
	for _, sr := range resp.Results.Series {
		for _, obs := range sr.Data {
			year, err := strconv.Atoi(obs.Year)
			if err != nil {
				continue
			}
			row := pipeline.Row{
				"series_id":   sr.SeriesID,
				"year":        year,
				"period":      obs.Period,
				"period_name": obs.PeriodName,
				"value":       parseValue(obs.Value),
				"footnotes":   joinFootnotes(obs.Footnotes),
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Key implements pipeline.Source.
func (s *Source) Key(row pipeline.Row) string {
	id, _ := row["series_id"].(string)
	period, _ := row["period"].(string)
	if id == "" || period == "" {
		return ""
	}
	return fmt.Sprintf("%s|%v|%s", id, row["year"], period)
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	return []pipeline.Row{
		{"series_id": "CUUR0000SA0", "year": 2024, "period": "M06", "period_name": "June", "value": 314.175, "footnotes": ""},
		{"series_id": "CUUR0000SA0", "year": 2024, "period": "M05", "period_name": "May", "value": 314.069, "footnotes": ""},
		{"series_id": "WPUFD4", "year": 2024, "period": "M06", "period_name": "June", "value": 144.1, "footnotes": "Preliminary"},
		{"series_id": "LASST550000000000003", "year": 2024, "period": "M06", "period_name": "June", "value": 2.9, "footnotes": ""},
	}
}

func parseValue(s string) any {
	// BLS uses "-" for suppressed observations.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

func joinFootnotes(notes []struct {
	Text string `json:"text"`
}) string {
	var parts []string
	for _, n := range notes {
		if n.Text != "" {
			parts = append(parts, n.Text)
		}
	}
	return strings.Join(parts, "; ")
}

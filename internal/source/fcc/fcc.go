// Package fcc collects fixed broadband availability summaries for
// Wisconsin counties from the FCC broadband map API.
package fcc

import (
	"context"
	"fmt"
	"time"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Name is the registry identifier for this collector.
const Name = "fcc"

type summaryResponse struct {
	Data []struct {
		GeographyID   string  `json:"geography_id"`
		GeographyDesc string  `json:"geography_desc"`
		TechType      string  `json:"technology_type"`
		Speed         string  `json:"speed"`
		ProviderCount int     `json:"provider_count"`
		PctCovered    float64 `json:"pct_area_covered"`
	} `json:"data"`
}

// Source implements pipeline.Source for broadband availability.
type Source struct {
	cfg    config.FCCConfig
	client *source.Client
	now    func() time.Time
}

// New builds the FCC collector.
func New(cfg config.FCCConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client, now: time.Now}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source. The broadband map refreshes twice a
// year; quarterly pulls pick up corrections.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceQuarterly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "fcc_broadband_availability",
		Description:    "Fixed broadband availability summary per Wisconsin county.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"county_fips"},
		KeyColumns:     []string{"county_fips", "technology", "speed_tier", "as_of"},
		Columns: []pipeline.ColumnSpec{
			{Name: "county_fips", Type: pipeline.ColumnString, Required: true},
			{Name: "county_name", Type: pipeline.ColumnString},
			{Name: "technology", Type: pipeline.ColumnString},
			{Name: "speed_tier", Type: pipeline.ColumnString},
			{Name: "provider_count", Type: pipeline.ColumnInteger},
			{Name: "pct_area_covered", Type: pipeline.ColumnFloat},
			{Name: "as_of", Type: pipeline.ColumnString, Required: true, Description: "YYYY-MM snapshot month"},
		},
	}
}

// Collect fetches county availability summaries for Wisconsin.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("sources.fcc.base_url is not configured")
	}
	endpoint := s.cfg.BaseURL + "/map/summary/fixed/county?state_fips=55"

	var resp summaryResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch broadband summary: %w", err)
	}

	asOf := s.now().UTC().Format("2006-01")
	rows := make([]pipeline.Row, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.GeographyID == "" {
			continue
		}
		rows = append(rows, pipeline.Row{
			"county_fips":      d.GeographyID,
			"county_name":      d.GeographyDesc,
			"technology":       d.TechType,
			"speed_tier":       d.Speed,
			"provider_count":   d.ProviderCount,
			"pct_area_covered": d.PctCovered,
			"as_of":            asOf,
		})
	}
	return rows, nil
}

// Key implements pipeline.Source.
func (s *Source) Key(row pipeline.Row) string {
	fips, _ := row["county_fips"].(string)
	asOf, _ := row["as_of"].(string)
	if fips == "" || asOf == "" {
		return ""
	}
	return fmt.Sprintf("%s|%v|%v|%s", fips, row["technology"], row["speed_tier"], asOf)
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	asOf := s.now().UTC().Format("2006-01")
	return []pipeline.Row{
		{"county_fips": "55025", "county_name": "Dane County", "technology": "cable", "speed_tier": "100/20", "provider_count": 4, "pct_area_covered": 92.4, "as_of": asOf},
		{"county_fips": "55125", "county_name": "Vilas County", "technology": "fixed_wireless", "speed_tier": "25/3", "provider_count": 2, "pct_area_covered": 61.8, "as_of": asOf},
		{"county_fips": "55079", "county_name": "Milwaukee County", "technology": "fiber", "speed_tier": "1000/500", "provider_count": 3, "pct_area_covered": 88.9, "as_of": asOf},
	}
}

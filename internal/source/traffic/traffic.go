// Package traffic collects WisDOT annual average daily traffic (AADT)
// counts from the department's ArcGIS feature service.
package traffic

import (
	"context"
	"fmt"
	"net/url"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Name is the registry identifier for this collector.
const Name = "traffic"

// pageSize is the resultRecordCount requested per query page.
const pageSize = 1000

type queryResponse struct {
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Features              []struct {
		Attributes struct {
			SiteID     string `json:"SITE_ID"`
			County     string `json:"CTY_NAME"`
			Roadway    string `json:"RDWY_NAME"`
			AADT       int    `json:"AADT"`
			ReportYear int    `json:"AADT_RPTG_YR"`
		} `json:"attributes"`
		Geometry struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"geometry"`
	} `json:"features"`
}

// Source implements pipeline.Source for AADT counts.
type Source struct {
	cfg    config.TrafficConfig
	client *source.Client
}

// New builds the traffic collector.
func New(cfg config.TrafficConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceWeekly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "traffic_counts",
		Description:    "WisDOT AADT counts per monitoring site.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"county"},
		KeyColumns:     []string{"site_id", "report_year"},
		Columns: []pipeline.ColumnSpec{
			{Name: "site_id", Type: pipeline.ColumnString, Required: true},
			{Name: "county", Type: pipeline.ColumnString},
			{Name: "roadway", Type: pipeline.ColumnString},
			{Name: "aadt", Type: pipeline.ColumnInteger, Description: "annual average daily traffic"},
			{Name: "report_year", Type: pipeline.ColumnInteger},
			{Name: "lat", Type: pipeline.ColumnFloat},
			{Name: "lng", Type: pipeline.ColumnFloat},
		},
	}
}

// Collect pages through the feature service until the transfer limit flag
// clears.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	if s.cfg.ServiceURL == "" {
		return nil, fmt.Errorf("sources.traffic.service_url is not configured")
	}

	var rows []pipeline.Row
	offset := 0
	for {
		q := url.Values{}
		q.Set("where", "1=1")
		q.Set("outFields", "SITE_ID,CTY_NAME,RDWY_NAME,AADT,AADT_RPTG_YR")
		q.Set("outSR", "4326")
		q.Set("f", "json")
		q.Set("resultOffset", fmt.Sprintf("%d", offset))
		q.Set("resultRecordCount", fmt.Sprintf("%d", pageSize))
		endpoint := s.cfg.ServiceURL + "/query?" + q.Encode()

		var resp queryResponse
		if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
			return rows, fmt.Errorf("query aadt features at offset %d: %w", offset, err)
		}

		for _, f := range resp.Features {
			if f.Attributes.SiteID == "" {
				continue
			}
			rows = append(rows, pipeline.Row{
				"site_id":     f.Attributes.SiteID,
				"county":      f.Attributes.County,
				"roadway":     f.Attributes.Roadway,
				"aadt":        f.Attributes.AADT,
				"report_year": f.Attributes.ReportYear,
				"lat":         f.Geometry.Y,
				"lng":         f.Geometry.X,
			})
		}

		if !resp.ExceededTransferLimit || len(resp.Features) == 0 {
			return rows, nil
		}
		offset += len(resp.Features)
	}
}

// Key implements pipeline.Source.
func (s *Source) Key(row pipeline.Row) string {
	id, _ := row["site_id"].(string)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s|%v", id, row["report_year"])
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	return []pipeline.Row{
		{"site_id": "130019", "county": "DANE", "roadway": "USH 151", "aadt": 48900, "report_year": 2023, "lat": 43.0822, "lng": -89.3673},
		{"site_id": "400127", "county": "MILWAUKEE", "roadway": "IH 94", "aadt": 151200, "report_year": 2023, "lat": 43.0344, "lng": -87.9512},
		{"site_id": "180044", "county": "EAU CLAIRE", "roadway": "STH 93", "aadt": 18350, "report_year": 2023, "lat": 44.7760, "lng": -91.4340},
	}
}

// Package dfi collects new business registrations from the Wisconsin
// Department of Financial Institutions corporate records search.
package dfi

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
const Name = "dfi"

type searchResponse struct {
	Results []struct {
		EntityID         string `json:"entityId"`
		EntityName       string `json:"entityName"`
		EntityType       string `json:"entityType"`
		Status           string `json:"status"`
		RegistrationDate string `json:"registrationDate"`
		RegisteredAgent  string `json:"registeredAgent"`
		PrincipalCity    string `json:"principalCity"`
	} `json:"results"`
}

// Source implements pipeline.Source for DFI registrations.
type Source struct {
	cfg    config.DFIConfig
	client *source.Client
	now    func() time.Time
}

// New builds the DFI collector.
func New(cfg config.DFIConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client, now: time.Now}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source. New registrations land continuously,
// so this source runs on the weekly batch.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceWeekly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "dfi_business_registrations",
		Description:    "New Wisconsin business registrations from DFI corporate records.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"entity_type"},
		KeyColumns:     []string{"business_name", "registration_date"},
		Columns: []pipeline.ColumnSpec{
			{Name: "entity_id", Type: pipeline.ColumnString},
			{Name: "business_name", Type: pipeline.ColumnString, Required: true},
			{Name: "entity_type", Type: pipeline.ColumnString},
			{Name: "status", Type: pipeline.ColumnString},
			{Name: "registration_date", Type: pipeline.ColumnDate, Required: true},
			{Name: "registered_agent", Type: pipeline.ColumnString},
			{Name: "principal_city", Type: pipeline.ColumnString},
		},
	}
}

// Collect fetches registrations filed in the configured trailing window.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("sources.dfi.base_url is not configured")
	}
	daysBack := s.cfg.DaysBack
	if daysBack <= 0 {
		daysBack = 7
	}
	to := s.now().UTC()
	from := to.AddDate(0, 0, -daysBack)

	q := url.Values{}
	q.Set("registeredFrom", from.Format("2006-01-02"))
	q.Set("registeredTo", to.Format("2006-01-02"))
	endpoint := s.cfg.BaseURL + "/search?" + q.Encode()

	var resp searchResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("search dfi registrations: %w", err)
	}

	rows := make([]pipeline.Row, 0, len(resp.Results))
	for _, r := range resp.Results {
		name := strings.TrimSpace(r.EntityName)
		if name == "" || r.RegistrationDate == "" {
			continue
		}
		rows = append(rows, pipeline.Row{
			"entity_id":         r.EntityID,
			"business_name":     name,
			"entity_type":       r.EntityType,
			"status":            r.Status,
			"registration_date": r.RegistrationDate,
			"registered_agent":  r.RegisteredAgent,
			"principal_city":    r.PrincipalCity,
		})
	}
	return rows, nil
}

// Key implements pipeline.Source. business_name plus registration_date is
// the documented dedup key for this table.
func (s *Source) Key(row pipeline.Row) string {
	name, _ := row["business_name"].(string)
	date, _ := row["registration_date"].(string)
	if name == "" || date == "" {
		return ""
	}
	return strings.ToUpper(name) + "|" + date
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	return []pipeline.Row{
		{"entity_id": "B123456", "business_name": "Driftless Outfitters LLC", "entity_type": "Domestic Limited Liability Company", "status": "Registered", "registration_date": "2026-08-18", "registered_agent": "M. Larson", "principal_city": "Viroqua"},
		{"entity_id": "B123501", "business_name": "Third Coast Bakery Inc", "entity_type": "Domestic Business Corporation", "status": "Registered", "registration_date": "2026-08-19", "registered_agent": "Registered Agents Inc", "principal_city": "Sheboygan"},
		{"entity_id": "B123544", "business_name": "Kettle Moraine Auto Care LLC", "entity_type": "Domestic Limited Liability Company", "status": "Registered", "registration_date": "2026-08-21", "registered_agent": "T. Nguyen", "principal_city": "West Bend"},
	}
}

// Package sba collects SBA 7(a)/504 loan approvals from the FOIA CSV
// exports, filtered to Wisconsin borrowers.
package sba

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
const Name = "sba"

// Column headers in the FOIA export. The files occasionally reorder
// columns, so the header row is indexed rather than assumed positional.
const (
	colProgram       = "Program"
	colBorrName      = "BorrName"
	colBorrCity      = "BorrCity"
	colBorrState     = "BorrState"
	colBorrZip       = "BorrZip"
	colGrossApproval = "GrossApproval"
	colApprovalDate  = "ApprovalDate"
	colApprovalFY    = "ApprovalFiscalYear"
	colNaicsCode     = "NaicsCode"
	colNaicsDesc     = "NaicsDescription"
	colProjectCounty = "ProjectCounty"
	colJobsSupported = "JobsSupported"
	colTermMonths    = "TermInMonths"
)

// Source implements pipeline.Source for SBA loan approvals.
type Source struct {
	cfg    config.SBAConfig
	client *source.Client
}

// New builds the SBA collector.
func New(cfg config.SBAConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source. FOIA exports refresh quarterly.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceQuarterly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "sba_loan_approvals",
		Description:    "SBA 7(a) and 504 loan approvals for Wisconsin borrowers (FOIA export).",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"naics_code", "project_county"},
		KeyColumns:     []string{"borrower_name", "approval_date", "gross_approval"},
		Columns: []pipeline.ColumnSpec{
			{Name: "program", Type: pipeline.ColumnString, Description: "7(a) or 504"},
			{Name: "borrower_name", Type: pipeline.ColumnString, Required: true},
			{Name: "borrower_city", Type: pipeline.ColumnString},
			{Name: "borrower_state", Type: pipeline.ColumnString},
			{Name: "borrower_zip", Type: pipeline.ColumnString},
			{Name: "gross_approval", Type: pipeline.ColumnFloat},
			{Name: "approval_date", Type: pipeline.ColumnDate},
			{Name: "approval_fiscal_year", Type: pipeline.ColumnInteger},
			{Name: "naics_code", Type: pipeline.ColumnString},
			{Name: "naics_description", Type: pipeline.ColumnString},
			{Name: "project_county", Type: pipeline.ColumnString},
			{Name: "jobs_supported", Type: pipeline.ColumnInteger},
			{Name: "term_months", Type: pipeline.ColumnInteger},
		},
	}
}

// Collect downloads and filters the FOIA CSV.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	if s.cfg.CSVURL == "" {
		return nil, fmt.Errorf("sources.sba.csv_url is not configured")
	}
	records, err := s.client.GetCSV(ctx, s.cfg.CSVURL)
	if err != nil {
		return nil, fmt.Errorf("download foia csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("foia csv has no data rows")
	}

	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[strings.TrimSpace(name)] = i
	}
	for _, col := range []string{colBorrName, colBorrState, colApprovalDate} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("foia csv missing column %q", col)
		}
	}

	state := s.cfg.State
	if state == "" {
		state = "WI"
	}

	rows := make([]pipeline.Row, 0, 1024)
	for _, rec := range records[1:] {
		if !strings.EqualFold(cell(rec, idx, colBorrState), state) {
			continue
		}
		name := strings.TrimSpace(cell(rec, idx, colBorrName))
		if name == "" {
			continue
		}
		rows = append(rows, pipeline.Row{
			"program":              cell(rec, idx, colProgram),
			"borrower_name":        name,
			"borrower_city":        cell(rec, idx, colBorrCity),
			"borrower_state":       strings.ToUpper(cell(rec, idx, colBorrState)),
			"borrower_zip":         cell(rec, idx, colBorrZip),
			"gross_approval":       parseFloat(cell(rec, idx, colGrossApproval)),
			"approval_date":        parseDate(cell(rec, idx, colApprovalDate)),
			"approval_fiscal_year": parseInt(cell(rec, idx, colApprovalFY)),
			"naics_code":           cell(rec, idx, colNaicsCode),
			"naics_description":    cell(rec, idx, colNaicsDesc),
			"project_county":       strings.ToUpper(cell(rec, idx, colProjectCounty)),
			"jobs_supported":       parseInt(cell(rec, idx, colJobsSupported)),
			"term_months":          parseInt(cell(rec, idx, colTermMonths)),
		})
	}
	return rows, nil
}

// Key implements pipeline.Source. The FOIA export carries no stable loan
// id, so the key approximates one.
func (s *Source) Key(row pipeline.Row) string {
	name, _ := row["borrower_name"].(string)
	date, _ := row["approval_date"].(string)
	if name == "" || date == "" {
		return ""
	}
	return fmt.Sprintf("%s|%s|%v", strings.ToUpper(name), date, row["gross_approval"])
}

// Sample implements pipeline.Source.
func (s *Source) Sample() []pipeline.Row {
	return []pipeline.Row{
		{"program": "7A", "borrower_name": "BADGER BREW LLC", "borrower_city": "MADISON", "borrower_state": "WI", "borrower_zip": "53703", "gross_approval": 150000.0, "approval_date": "2024-03-14", "approval_fiscal_year": 2024, "naics_code": "722515", "naics_description": "Snack and Nonalcoholic Beverage Bars", "project_county": "DANE", "jobs_supported": 6, "term_months": 120},
		{"program": "7A", "borrower_name": "LAKESHORE BIKE WORKS INC", "borrower_city": "MILWAUKEE", "borrower_state": "WI", "borrower_zip": "53202", "gross_approval": 350000.0, "approval_date": "2024-02-02", "approval_fiscal_year": 2024, "naics_code": "451110", "naics_description": "Sporting Goods Stores", "project_county": "MILWAUKEE", "jobs_supported": 11, "term_months": 84},
		{"program": "504", "borrower_name": "NORTHWOODS CHEESE CO", "borrower_city": "WAUSAU", "borrower_state": "WI", "borrower_zip": "54401", "gross_approval": 1250000.0, "approval_date": "2023-11-20", "approval_fiscal_year": 2024, "naics_code": "311513", "naics_description": "Cheese Manufacturing", "project_county": "MARATHON", "jobs_supported": 24, "term_months": 240},
	}
}

func cell(rec []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloat(s string) any {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

func parseInt(s string) any {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return n
}

// parseDate normalizes the export's mm/dd/yyyy dates to ISO.
func parseDate(s string) any {
	for _, layout := range []string{"01/02/2006", "2006-01-02", "01/02/06"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return nil
}

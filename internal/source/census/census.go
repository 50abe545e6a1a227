// Package census collects ACS 5-year county demographic profiles for
// Wisconsin from the Census Bureau API.
package census

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Name is the registry identifier for this collector.
const Name = "census"

// stateFIPSWisconsin scopes every query to Wisconsin counties.
const stateFIPSWisconsin = "55"

// ACS variable codes requested per county.
const (
	varTotalPopulation = "B01003_001E"
	varMedianHHIncome  = "B19013_001E"
	varMedianHomeValue = "B25077_001E"
	varMedianAge       = "B01002_001E"
)

// Source implements pipeline.Source for ACS demographics.
type Source struct {
	cfg    config.CensusConfig
	client *source.Client
}

// New builds the census collector.
func New(cfg config.CensusConfig, client *source.Client) *Source {
	return &Source{cfg: cfg, client: client}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return Name }

// Cadence implements pipeline.Source. ACS releases are annual; a quarterly
// pull picks up revisions without hammering the API.
func (s *Source) Cadence() pipeline.Cadence { return pipeline.CadenceQuarterly }

// Table implements pipeline.Source.
func (s *Source) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name:           "census_demographics",
		Description:    "ACS 5-year demographic profile per Wisconsin county.",
		PartitionField: pipeline.ColCollectedAt,
		Clustering:     []string{"county_fips"},
		KeyColumns:     []string{"county_fips", "acs_year"},
		Columns: []pipeline.ColumnSpec{
			{Name: "county_fips", Type: pipeline.ColumnString, Required: true, Description: "5-digit state+county FIPS code"},
			{Name: "county_name", Type: pipeline.ColumnString},
			{Name: "total_population", Type: pipeline.ColumnInteger},
			{Name: "median_household_income", Type: pipeline.ColumnInteger},
			{Name: "median_home_value", Type: pipeline.ColumnInteger},
			{Name: "median_age", Type: pipeline.ColumnFloat},
			{Name: "acs_year", Type: pipeline.ColumnInteger, Required: true},
		},
	}
}

// Collect fetches the county table. The Census API returns a JSON array of
// string arrays whose first element is the header row.
func (s *Source) Collect(ctx context.Context) ([]pipeline.Row, error) {
	q := url.Values{}
	q.Set("get", fmt.Sprintf("NAME,%s,%s,%s,%s",
		varTotalPopulation, varMedianHHIncome, varMedianHomeValue, varMedianAge))
	q.Set("for", "county:*")
	q.Set("in", "state:"+stateFIPSWisconsin)
	if s.cfg.APIKey != "" {
		q.Set("key", s.cfg.APIKey)
	}
	endpoint := fmt.Sprintf("%s/%d/acs/acs5?%s", s.cfg.BaseURL, s.cfg.Year, q.Encode())

	var table [][]string
	if err := s.client.GetJSON(ctx, endpoint, &table); err != nil {
		return nil, fmt.Errorf("fetch acs county table: %w", err)
	}
	if len(table) < 2 {
		return nil, fmt.Errorf("acs response has no data rows")
	}

	idx := indexHeader(table[0])
	required := []string{"NAME", varTotalPopulation, varMedianHHIncome, varMedianHomeValue, varMedianAge, "state", "county"}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("acs response missing column %q", col)
		}
	}

	rows := make([]pipeline.Row, 0, len(table)-1)
	for _, rec := range table[1:] {
		if len(rec) != len(table[0]) {
			continue
		}
		rows = append(rows, pipeline.Row{
			"county_fips":             rec[idx["state"]] + rec[idx["county"]],
			"county_name":             rec[idx["NAME"]],
			"total_population":        parseInt(rec[idx[varTotalPopulation]]),
			"median_household_income": parseInt(rec[idx[varMedianHHIncome]]),
			"median_home_value":       parseInt(rec[idx[varMedianHomeValue]]),
			"median_age":              parseFloat(rec[idx[varMedianAge]]),
			"acs_year":                s.cfg.Year,
		})
	}
	return rows, nil
}

// Key implements pipeline.Source.
func (s *Source) Key(row pipeline.Row) string {
	fips, _ := row["county_fips"].(string)
	if fips == "" {
		return ""
	}
	return fmt.Sprintf("%s|%v", fips, row["acs_year"])
}

// Sample implements pipeline.Source with a handful of real WI counties.
func (s *Source) Sample() []pipeline.Row {
	year := s.cfg.Year
	if year == 0 {
		year = 2022
	}
	return []pipeline.Row{
		{"county_fips": "55025", "county_name": "Dane County, Wisconsin", "total_population": 568203, "median_household_income": 78864, "median_home_value": 316100, "median_age": 35.4, "acs_year": year},
		{"county_fips": "55079", "county_name": "Milwaukee County, Wisconsin", "total_population": 928059, "median_household_income": 55574, "median_home_value": 175000, "median_age": 35.6, "acs_year": year},
		{"county_fips": "55009", "county_name": "Brown County, Wisconsin", "total_population": 268740, "median_household_income": 66354, "median_home_value": 197300, "median_age": 37.6, "acs_year": year},
		{"county_fips": "55035", "county_name": "Eau Claire County, Wisconsin", "total_population": 105710, "median_household_income": 62094, "median_home_value": 211900, "median_age": 35.3, "acs_year": year},
	}
}

func indexHeader(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

// parseInt tolerates the API's null/negative sentinel values by mapping
// unparseable cells to nil.
func parseInt(s string) any {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return n
}

func parseFloat(s string) any {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

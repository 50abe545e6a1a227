package warehouse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

func TestViewQueriesQualifyTables(t *testing.T) {
	t.Parallel()

	views := ViewQueries("wi-market-prod", "wi_market")
	require.Len(t, views, 5)

	profile := views["v_county_market_profile"]
	require.Contains(t, profile, "`wi-market-prod.wi_market.census_demographics`")
	require.Contains(t, profile, "`wi-market-prod.wi_market.sba_loan_approvals`")
	// Sample rows never leak into the lending rollups.
	require.Contains(t, profile, "sampled IS NOT TRUE")

	density := views["v_business_density"]
	require.Contains(t, density, "`wi-market-prod.wi_market.google_places_raw`")
	require.Contains(t, density, "competitors_per_100k")

	for name, sql := range views {
		require.True(t, strings.HasPrefix(name, "v_"), "view %s should carry the v_ prefix", name)
		require.NotContains(t, sql, "%s", "unexpanded placeholder in %s", name)
	}
}

func TestViewNamesAreStable(t *testing.T) {
	t.Parallel()

	names := ViewNames()
	require.Equal(t, []string{
		"v_business_density",
		"v_county_market_profile",
		"v_naics_loan_activity",
		"v_registration_velocity",
		"v_traffic_exposure",
	}, names)
}

func TestSchemaForAppendsBookkeepingColumns(t *testing.T) {
	t.Parallel()

	spec := pipeline.TableSpec{
		Name: "census_demographics",
		Columns: []pipeline.ColumnSpec{
			{Name: "county_fips", Type: pipeline.ColumnString, Required: true},
			{Name: "median_age", Type: pipeline.ColumnFloat},
		},
	}
	schema := SchemaFor(spec)
	require.Len(t, schema, 6)

	byName := map[string]bool{}
	for _, f := range schema {
		byName[f.Name] = true
	}
	for _, col := range []string{pipeline.ColRunID, pipeline.ColCollectedAt, pipeline.ColRowKey, pipeline.ColSampled} {
		require.True(t, byName[col], "missing bookkeeping column %s", col)
	}
	require.Equal(t, "county_fips", schema[0].Name)
	require.True(t, schema[0].Required)
}

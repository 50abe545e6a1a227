package warehouse

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/bigquery"
)

// ViewQueries returns the derived analysis views keyed by view name. Raw
// tables stay independent snapshots; all cross-source stitching happens
// here.
func ViewQueries(projectID, datasetID string) map[string]string {
	t := func(table string) string {
		return fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, table)
	}

	return map[string]string{
		// Latest demographic profile joined to SBA lending activity per
		// county. The ACS null sentinel (-666666666) is filtered here so
		// raw tables keep exactly what the API returned.
		"v_county_market_profile": fmt.Sprintf(`
WITH latest_census AS (
  SELECT * EXCEPT (rn) FROM (
    SELECT *, ROW_NUMBER() OVER (PARTITION BY county_fips ORDER BY collected_at DESC) AS rn
    FROM %s
    WHERE total_population IS NOT NULL AND total_population >= 0
  ) WHERE rn = 1
),
loans AS (
  SELECT
    UPPER(project_county) AS county_name_upper,
    COUNT(*) AS loan_count,
    SUM(gross_approval) AS total_approved,
    AVG(gross_approval) AS avg_approval,
    SUM(jobs_supported) AS jobs_supported
  FROM %s
  WHERE sampled IS NOT TRUE
  GROUP BY county_name_upper
)
SELECT
  c.county_fips,
  c.county_name,
  c.total_population,
  IF(c.median_household_income >= 0, c.median_household_income, NULL) AS median_household_income,
  IF(c.median_home_value >= 0, c.median_home_value, NULL) AS median_home_value,
  c.median_age,
  l.loan_count,
  l.total_approved,
  l.avg_approval,
  l.jobs_supported,
  SAFE_DIVIDE(l.total_approved, c.total_population) AS approved_per_capita
FROM latest_census c
LEFT JOIN loans l
  ON UPPER(REGEXP_REPLACE(c.county_name, r' County, Wisconsin$', '')) = l.county_name_upper`,
			t("census_demographics"), t("sba_loan_approvals")),

		// Loan activity rolled up by NAICS sector and fiscal year.
		"v_naics_loan_activity": fmt.Sprintf(`
SELECT
  SUBSTR(naics_code, 1, 2) AS naics_sector,
  ANY_VALUE(naics_description) AS example_description,
  approval_fiscal_year,
  COUNT(*) AS loan_count,
  SUM(gross_approval) AS total_approved,
  APPROX_QUANTILES(gross_approval, 100)[OFFSET(50)] AS median_approval
FROM %s
WHERE naics_code IS NOT NULL AND naics_code != ''
GROUP BY naics_sector, approval_fiscal_year`,
			t("sba_loan_approvals")),

		// Competitor density per market query and snapshot month, with
		// population context for saturation analysis.
		"v_business_density": fmt.Sprintf(`
WITH place_counts AS (
  SELECT
    query,
    snapshot_month,
    COUNT(DISTINCT place_id) AS competitor_count,
    AVG(rating) AS avg_rating,
    SUM(user_ratings_total) AS total_reviews
  FROM %s
  WHERE business_status = 'OPERATIONAL'
  GROUP BY query, snapshot_month
),
state_pop AS (
  SELECT SUM(total_population) AS wi_population
  FROM (
    SELECT county_fips, ANY_VALUE(total_population HAVING MAX collected_at) AS total_population
    FROM %s
    WHERE total_population >= 0
    GROUP BY county_fips
  )
)
SELECT
  p.query,
  p.snapshot_month,
  p.competitor_count,
  p.avg_rating,
  p.total_reviews,
  s.wi_population,
  SAFE_DIVIDE(p.competitor_count * 100000, s.wi_population) AS competitors_per_100k
FROM place_counts p CROSS JOIN state_pop s`,
			t("google_places_raw"), t("census_demographics")),

		// AADT percentile rank per county, the traffic-exposure input to
		// site scoring.
		"v_traffic_exposure": fmt.Sprintf(`
SELECT
  site_id,
  county,
  roadway,
  aadt,
  report_year,
  lat,
  lng,
  PERCENT_RANK() OVER (PARTITION BY county ORDER BY aadt) AS county_percentile,
  PERCENT_RANK() OVER (ORDER BY aadt) AS state_percentile
FROM (
  SELECT * EXCEPT (rn) FROM (
    SELECT *, ROW_NUMBER() OVER (PARTITION BY site_id ORDER BY report_year DESC, collected_at DESC) AS rn
    FROM %s
  ) WHERE rn = 1
)`,
			t("traffic_counts")),

		// Weekly registration velocity from DFI filings.
		"v_registration_velocity": fmt.Sprintf(`
SELECT
  DATE_TRUNC(registration_date, WEEK(MONDAY)) AS week_start,
  entity_type,
  COUNT(DISTINCT CONCAT(business_name, '|', CAST(registration_date AS STRING))) AS registrations
FROM %s
GROUP BY week_start, entity_type`,
			t("dfi_business_registrations")),
	}
}

// ViewNames lists the derived views in stable order.
func ViewNames() []string {
	names := make([]string, 0, len(ViewQueries("p", "d")))
	for name := range ViewQueries("p", "d") {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureViews creates or replaces every derived view.
func (w *BigQuery) EnsureViews(ctx context.Context) error {
	if err := w.EnsureDataset(ctx); err != nil {
		return err
	}
	ds := w.bq.Dataset(w.cfg.DatasetID)
	for _, name := range ViewNames() {
		query := ViewQueries(w.cfg.ProjectID, w.cfg.DatasetID)[name]
		table := ds.Table(name)

		err := table.Create(ctx, &bigquery.TableMetadata{Name: name, ViewQuery: query})
		if err == nil {
			continue
		}
		if !isAlreadyExists(err) {
			return fmt.Errorf("create view %s: %w", name, err)
		}
		if _, err := table.Update(ctx, bigquery.TableMetadataToUpdate{ViewQuery: query}, ""); err != nil {
			return fmt.Errorf("update view %s: %w", name, err)
		}
	}
	return nil
}

// Package warehouse persists collected rows into BigQuery and maintains
// the derived analysis views.
package warehouse

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// BigQueryConfig identifies the destination dataset and staging bucket.
type BigQueryConfig struct {
	ProjectID     string
	DatasetID     string
	Location      string
	StagingBucket string
	StagingPrefix string
	// DedupLookback bounds how far back ExistingKeys scans. Zero disables
	// the partition filter (full-table scan).
	DedupLookback time.Duration
}

// BigQuery implements pipeline.Warehouse on BigQuery with GCS-staged loads.
type BigQuery struct {
	bq     *bigquery.Client
	gcs    *storage.Client
	cfg    BigQueryConfig
	logger *zap.Logger
}

var _ pipeline.Warehouse = (*BigQuery)(nil)

// NewBigQuery connects the BigQuery and GCS clients.
func NewBigQuery(ctx context.Context, cfg BigQueryConfig, logger *zap.Logger) (*BigQuery, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("warehouse.project_id is required")
	}
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("warehouse.dataset_id is required")
	}
	if cfg.StagingBucket == "" {
		return nil, fmt.Errorf("warehouse.staging_bucket is required")
	}
	bq, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	gcs, err := storage.NewClient(ctx)
	if err != nil {
		_ = bq.Close()
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &BigQuery{bq: bq, gcs: gcs, cfg: cfg, logger: logger}, nil
}

// EnsureDataset creates the destination dataset if it does not exist.
func (w *BigQuery) EnsureDataset(ctx context.Context) error {
	ds := w.bq.Dataset(w.cfg.DatasetID)
	err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: w.cfg.Location})
	if isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", w.cfg.DatasetID, err)
	}
	return nil
}

// EnsureTable creates the destination table with schema, partitioning, and
// clustering if it does not exist.
func (w *BigQuery) EnsureTable(ctx context.Context, spec pipeline.TableSpec) error {
	if err := w.EnsureDataset(ctx); err != nil {
		return err
	}
	meta := &bigquery.TableMetadata{
		Name:        spec.Name,
		Description: spec.Description,
		Schema:      SchemaFor(spec),
	}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	if len(spec.Clustering) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: spec.Clustering}
	}
	err := w.bq.Dataset(w.cfg.DatasetID).Table(spec.Name).Create(ctx, meta)
	if isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// Load stages rows as gzip NDJSON in GCS and runs an append load job.
func (w *BigQuery) Load(ctx context.Context, spec pipeline.TableSpec, rows []pipeline.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	objectName := fmt.Sprintf("%s/%s/%s.json.gz",
		w.cfg.StagingPrefix, spec.Name, time.Now().UTC().Format(time.RFC3339Nano))
	obj := w.gcs.Bucket(w.cfg.StagingBucket).Object(objectName)

	if err := w.stageRows(ctx, obj, rows); err != nil {
		return 0, err
	}

	gcsRef := bigquery.NewGCSReference(fmt.Sprintf("gs://%s/%s", w.cfg.StagingBucket, objectName))
	gcsRef.SourceFormat = bigquery.JSON
	gcsRef.Schema = SchemaFor(spec)
	gcsRef.MaxBadRecords = 0
	gcsRef.IgnoreUnknownValues = true

	loader := w.bq.Dataset(w.cfg.DatasetID).Table(spec.Name).LoaderFrom(gcsRef)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateIfNeeded
	if spec.PartitionField != "" {
		loader.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	if len(spec.Clustering) > 0 {
		loader.Clustering = &bigquery.Clustering{Fields: spec.Clustering}
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("start load job for %s: %w", spec.Name, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("load job %s failed: %w", job.ID(), err)
	}

	w.logger.Info("load job finished",
		zap.String("table", spec.Name),
		zap.String("job_id", job.ID()),
		zap.Int("rows", len(rows)))
	return len(rows), nil
}

func (w *BigQuery) stageRows(ctx context.Context, obj *storage.ObjectHandle, rows []pipeline.Row) error {
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.ContentEncoding = "gzip"
	gz := gzip.NewWriter(writer)

	nl := []byte("\n")
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			_ = gz.Close()
			_ = writer.Close()
			return fmt.Errorf("marshal row: %w", err)
		}
		if _, err := gz.Write(append(data, nl...)); err != nil {
			_ = writer.Close()
			return fmt.Errorf("write staging object: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		_ = writer.Close()
		return fmt.Errorf("flush gzip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close staging object: %w", err)
	}
	return nil
}

// ExistingKeys queries row_key values already present in the lookback
// window. Callers treat an error here as advisory.
func (w *BigQuery) ExistingKeys(ctx context.Context, spec pipeline.TableSpec, keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}
	sql := fmt.Sprintf(
		"SELECT DISTINCT row_key FROM `%s.%s.%s` WHERE row_key IN UNNEST(@keys)",
		w.cfg.ProjectID, w.cfg.DatasetID, spec.Name)
	params := []bigquery.QueryParameter{{Name: "keys", Value: keys}}
	if w.cfg.DedupLookback > 0 {
		sql += " AND collected_at >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @lookback_days DAY)"
		days := int(w.cfg.DedupLookback.Hours() / 24)
		if days < 1 {
			days = 1
		}
		params = append(params, bigquery.QueryParameter{Name: "lookback_days", Value: days})
	}

	q := w.bq.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query existing keys for %s: %w", spec.Name, err)
	}

	existing := make(map[string]bool)
	for {
		var row struct {
			RowKey string `bigquery:"row_key"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan existing keys: %w", err)
		}
		existing[row.RowKey] = true
	}
	return existing, nil
}

// Close releases both clients.
func (w *BigQuery) Close() error {
	var errs []error
	if err := w.bq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bigquery client: %w", err))
	}
	if err := w.gcs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage client: %w", err))
	}
	return errors.Join(errs...)
}

// SchemaFor maps a TableSpec to a BigQuery schema, appending the
// bookkeeping columns every table carries.
func SchemaFor(spec pipeline.TableSpec) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(spec.Columns)+4)
	for _, col := range spec.Columns {
		schema = append(schema, &bigquery.FieldSchema{
			Name:        col.Name,
			Type:        fieldType(col.Type),
			Required:    col.Required,
			Description: col.Description,
		})
	}
	schema = append(schema,
		&bigquery.FieldSchema{Name: pipeline.ColRunID, Type: bigquery.StringFieldType, Required: true, Description: "collection run that loaded this row"},
		&bigquery.FieldSchema{Name: pipeline.ColCollectedAt, Type: bigquery.TimestampFieldType, Required: true},
		&bigquery.FieldSchema{Name: pipeline.ColRowKey, Type: bigquery.StringFieldType, Description: "fingerprint of the natural key"},
		&bigquery.FieldSchema{Name: pipeline.ColSampled, Type: bigquery.BooleanFieldType, Description: "true when the row came from bundled sample data"},
	)
	return schema
}

func fieldType(t pipeline.ColumnType) bigquery.FieldType {
	switch t {
	case pipeline.ColumnInteger:
		return bigquery.IntegerFieldType
	case pipeline.ColumnFloat:
		return bigquery.FloatFieldType
	case pipeline.ColumnBoolean:
		return bigquery.BooleanFieldType
	case pipeline.ColumnTimestamp:
		return bigquery.TimestampFieldType
	case pipeline.ColumnDate:
		return bigquery.DateFieldType
	default:
		return bigquery.StringFieldType
	}
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/parquet-go/parquet-go"

	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/storage"
)

// ObjectStoreExporter writes the report as CSV and Parquet and links the CSV
// through a presigned URL.
type ObjectStoreExporter struct {
	store  storage.ObjectStore
	prefix string
	expiry time.Duration
	clock  clockwork.Clock
}

func NewObjectStoreExporter(store storage.ObjectStore, prefix string, expiry time.Duration, clock clockwork.Clock) (*ObjectStoreExporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if expiry <= 0 {
		return nil, fmt.Errorf("presign expiry must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ObjectStoreExporter{store: store, prefix: prefix, expiry: expiry, clock: clock}, nil
}

func (e *ObjectStoreExporter) Name() string { return TargetObjectStore }

func (e *ObjectStoreExporter) Export(ctx context.Context, table Table) (Link, error) {
	now := e.clock.Now()
	csvKey, err := storage.BuildExportPath(e.prefix, table.SessionID, now, "csv")
	if err != nil {
		return Link{}, err
	}
	parquetKey, err := storage.BuildExportPath(e.prefix, table.SessionID, now, "parquet")
	if err != nil {
		return Link{}, err
	}

	csvData, err := EncodeCSV(table)
	if err != nil {
		return Link{}, err
	}
	parquetData, err := EncodeParquet(table.Result)
	if err != nil {
		return Link{}, err
	}

	if _, err := e.store.Put(ctx, csvKey, bytes.NewReader(csvData), int64(len(csvData)), storage.PutOptions{
		ContentType:        "text/csv; charset=utf-8",
		ContentDisposition: `attachment; filename="report.csv"`,
	}); err != nil {
		return Link{}, err
	}
	if _, err := e.store.Put(ctx, parquetKey, bytes.NewReader(parquetData), int64(len(parquetData)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		_ = e.store.Delete(ctx, csvKey)
		return Link{}, err
	}

	url, err := e.store.PresignGet(ctx, csvKey, e.expiry)
	if err != nil {
		return Link{}, err
	}
	return Link{
		Target:    TargetObjectStore,
		URL:       url,
		Locations: []string{csvKey, parquetKey},
		RowCount:  int64(len(table.Result.Rows)),
	}, nil
}

// EncodeCSV writes the question line, a blank line and the table, matching
// the spreadsheet layout.
func EncodeCSV(table Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Question: " + table.Question}); err != nil {
		return nil, fmt.Errorf("write csv question: %w", err)
	}
	if err := w.Write([]string{""}); err != nil {
		return nil, fmt.Errorf("write csv spacer: %w", err)
	}
	if err := w.WriteAll(table.Result.Records(-1)); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

type parquetCell struct {
	Row    int64    `parquet:"row"`
	Column string   `parquet:"column"`
	Kind   string   `parquet:"kind"`
	Text   string   `parquet:"text"`
	Value  *float64 `parquet:"value,optional"`
}

// EncodeParquet stores the report in long form, one cell per record, so the
// file schema does not depend on which fields were queried.
func EncodeParquet(result report.Result) ([]byte, error) {
	metrics := make(map[string]struct{}, len(result.Metrics))
	for _, m := range result.Metrics {
		metrics[m] = struct{}{}
	}

	cells := make([]parquetCell, 0, len(result.Rows)*len(result.Columns))
	for i, row := range result.Rows {
		for _, col := range result.Columns {
			cell := parquetCell{Row: int64(i), Column: col, Kind: "dimension", Text: report.FormatValue(row[col])}
			if _, ok := metrics[col]; ok {
				cell.Kind = "metric"
				if f, ok := row[col].(float64); ok {
					v := f
					cell.Value = &v
				}
			}
			cells = append(cells, cell)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetCell](buf)
	if _, err := writer.Write(cells); err != nil {
		return nil, fmt.Errorf("write parquet cells: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

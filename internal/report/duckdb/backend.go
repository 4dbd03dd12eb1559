// Package duckdb answers report requests from event datasets kept in the
// object store, for development and tests without analytics credentials.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/storage"
)

const BackendName = "duckdb"

type Backend struct {
	store      storage.ObjectStore
	datasetKey string
	clock      clockwork.Clock
}

// NewBackend reads per-property datasets, or the single datasetKey object
// when it is set.
func NewBackend(store storage.ObjectStore, datasetKey string, clock clockwork.Clock) (*Backend, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Backend{store: store, datasetKey: strings.TrimSpace(datasetKey), clock: clock}, nil
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) RunReport(ctx context.Context, req report.Request) (report.RawReport, error) {
	sqlText, args, err := BuildSQL(req, dates.Now(b.clock))
	if err != nil {
		return report.RawReport{}, err
	}

	key := b.datasetKey
	if key == "" {
		key, err = storage.BuildDatasetPath(req.PropertyID)
		if err != nil {
			return report.RawReport{}, err
		}
	}

	workDir, err := os.MkdirTemp("", "whisperer-report-")
	if err != nil {
		return report.RawReport{}, fmt.Errorf("create report temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	reader, err := b.store.Get(ctx, key)
	if err != nil {
		return report.RawReport{}, fmt.Errorf("load dataset %q: %w", key, err)
	}
	localPath := filepath.Join(workDir, "events.parquet")
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return report.RawReport{}, fmt.Errorf("write local dataset %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return report.RawReport{}, fmt.Errorf("close dataset %q: %w", key, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return report.RawReport{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW events AS SELECT * FROM read_parquet(%s)`, quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return report.RawReport{}, fmt.Errorf("create events view: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return report.RawReport{}, fmt.Errorf("execute report query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	width := len(req.Dimensions) + len(req.Metrics)
	out := report.RawReport{
		DimensionHeaders: append([]string(nil), req.Dimensions...),
		MetricHeaders:    append([]string(nil), req.Metrics...),
	}
	for rows.Next() {
		values := make([]any, width+1)
		targets := make([]any, len(values))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return report.RawReport{}, fmt.Errorf("scan report row: %w", err)
		}
		cells := make([]string, width)
		for i := 0; i < width; i++ {
			cells[i] = formatCell(values[i])
		}
		out.Rows = append(out.Rows, cells)
		if n, ok := values[width].(int64); ok {
			out.RowCount = n
		}
	}
	if err := rows.Err(); err != nil {
		return report.RawReport{}, fmt.Errorf("iterate report rows: %w", err)
	}
	return out, nil
}

// BuildSQL renders the aggregate query for req. Relative date tokens are
// resolved against today. Results are ordered by date when it is requested,
// otherwise by the first metric descending.
func BuildSQL(req report.Request, today time.Time) (string, []any, error) {
	if len(req.Dimensions) == 0 || len(req.Metrics) == 0 {
		return "", nil, fmt.Errorf("at least one dimension and one metric are required")
	}
	from, to, err := dates.ResolveRange(req.DateRange.StartDate, req.DateRange.EndDate, today)
	if err != nil {
		return "", nil, err
	}

	selects := make([]string, 0, len(req.Dimensions)+len(req.Metrics)+1)
	groups := make([]string, 0, len(req.Dimensions))
	orderBy := ""
	for i, name := range req.Dimensions {
		if !report.IsDimension(name) {
			return "", nil, fmt.Errorf("unknown dimension %q", name)
		}
		expr, ok := dimensionExprs[name]
		if !ok {
			expr = quoteIdent(name)
		}
		selects = append(selects, fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", expr, quoteIdent(name)))
		groups = append(groups, strconv.Itoa(i+1))
		if name == "date" && orderBy == "" {
			orderBy = quoteIdent(name) + " ASC"
		}
	}
	for _, name := range req.Metrics {
		expr, ok := metricExprs[name]
		if !ok || !report.IsMetric(name) {
			return "", nil, fmt.Errorf("unknown metric %q", name)
		}
		selects = append(selects, fmt.Sprintf("CAST(COALESCE(%s, 0) AS DOUBLE) AS %s", expr, quoteIdent(name)))
	}
	selects = append(selects, "COUNT(*) OVER () AS row_count")
	if orderBy == "" {
		orderBy = quoteIdent(req.Metrics[0]) + " DESC"
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM events WHERE " + eventDay + " BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)")
	b.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	b.WriteString(" ORDER BY " + orderBy + ", " + strings.Join(groups, ", "))
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}
	return b.String(), []any{dates.Format(from), dates.Format(to)}, nil
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return report.FormatValue(v)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/whisperer/whisperer/internal/observability"
)

var (
	ErrFetchFailed      = errors.New("report fetch failed")
	ErrPropertyRequired = errors.New("property id is required")
)

// FetchError wraps any failure to produce a report, including a request that
// cannot be built. Callers display it; nothing retries.
type FetchError struct {
	PropertyID string
	Backend    string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("report fetch failed for property %s: %v", e.PropertyID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Detail is the underlying backend message for diagnostic display.
func (e *FetchError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Request is the backend-facing form of a Query: one property, one date range.
type Request struct {
	PropertyID string
	Dimensions []string
	Metrics    []string
	DateRange  DateRange
	Limit      int64
}

// RawReport carries backend rows as text. Each row holds dimension values
// followed by metric values in header order.
type RawReport struct {
	DimensionHeaders []string
	MetricHeaders    []string
	Rows             [][]string
	RowCount         int64
}

type Backend interface {
	Name() string
	RunReport(ctx context.Context, req Request) (RawReport, error)
}

type Executor struct {
	backend      Backend
	logger       *slog.Logger
	defaultLimit int64
}

func NewExecutor(backend Backend, logger *slog.Logger, defaultLimit int64) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Executor{backend: backend, logger: logger, defaultLimit: defaultLimit}
}

// NormalizePropertyID accepts "123" or "properties/123" and returns "123".
func NormalizePropertyID(id string) string {
	id = strings.TrimSpace(id)
	return strings.TrimPrefix(id, "properties/")
}

// BuildRequest turns q into a backend request. Only q.DateRanges[0] is used;
// comparison ranges are dropped.
func BuildRequest(propertyID string, q Query, defaultLimit int64) (Request, error) {
	propertyID = NormalizePropertyID(propertyID)
	if propertyID == "" {
		return Request{}, ErrPropertyRequired
	}
	if len(q.DateRanges) == 0 || len(q.Dimensions) == 0 || len(q.Metrics) == 0 {
		return Request{}, fmt.Errorf("query is incomplete: date range, dimension and metric are required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return Request{
		PropertyID: propertyID,
		Dimensions: q.DimensionNames(),
		Metrics:    q.MetricNames(),
		DateRange:  q.DateRanges[0],
		Limit:      limit,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, propertyID string, q Query) (Result, error) {
	req, err := BuildRequest(propertyID, q, e.defaultLimit)
	if err != nil {
		return Result{}, &FetchError{PropertyID: NormalizePropertyID(propertyID), Backend: e.backend.Name(), Err: err}
	}
	if len(q.DateRanges) > 1 {
		e.logger.InfoContext(ctx, "ignoring extra date ranges",
			append(observability.LogAttrs(ctx), slog.Int("ranges", len(q.DateRanges)))...)
	}

	start := time.Now()
	raw, err := e.backend.RunReport(ctx, req)
	observability.ObserveReportFetch(e.backend.Name(), len(raw.Rows), err)
	if err != nil {
		e.logger.WarnContext(ctx, "report fetch failed",
			append(observability.LogAttrs(ctx),
				slog.String("backend", e.backend.Name()),
				slog.String("property_id", req.PropertyID),
				slog.String("error", err.Error()),
			)...)
		return Result{}, &FetchError{PropertyID: req.PropertyID, Backend: e.backend.Name(), Err: err}
	}

	result := Flatten(req, raw)
	e.logger.DebugContext(ctx, "report fetched",
		append(observability.LogAttrs(ctx),
			slog.String("backend", e.backend.Name()),
			slog.Int("rows", len(result.Rows)),
			slog.Duration("elapsed", time.Since(start)),
		)...)
	return result, nil
}

// Flatten maps raw rows onto the request's column order, coercing metric
// values to float64 where they parse.
func Flatten(req Request, raw RawReport) Result {
	columns := make([]string, 0, len(req.Dimensions)+len(req.Metrics))
	columns = append(columns, req.Dimensions...)
	columns = append(columns, req.Metrics...)

	dimHeaders := raw.DimensionHeaders
	if len(dimHeaders) == 0 {
		dimHeaders = req.Dimensions
	}
	metricHeaders := raw.MetricHeaders
	if len(metricHeaders) == 0 {
		metricHeaders = req.Metrics
	}

	rows := make([]Row, 0, len(raw.Rows))
	for _, values := range raw.Rows {
		row := make(Row, len(columns))
		for i, name := range dimHeaders {
			if i < len(values) {
				row[name] = values[i]
			}
		}
		for i, name := range metricHeaders {
			idx := len(dimHeaders) + i
			if idx < len(values) {
				row[name] = CoerceMetric(values[idx])
			}
		}
		rows = append(rows, row)
	}

	rowCount := raw.RowCount
	if rowCount == 0 {
		rowCount = int64(len(rows))
	}
	return Result{
		Columns:    columns,
		Dimensions: append([]string(nil), req.Dimensions...),
		Metrics:    append([]string(nil), req.Metrics...),
		Rows:       rows,
		RowCount:   rowCount,
	}
}

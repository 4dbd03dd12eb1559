// Package ga4 runs reports against the Google Analytics Data API.
package ga4

import (
	"context"
	"fmt"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"github.com/whisperer/whisperer/internal/report"
)

const BackendName = "ga4"

type Backend struct {
	svc *analyticsdata.Service
}

func NewBackend(ctx context.Context, opts ...option.ClientOption) (*Backend, error) {
	opts = append([]option.ClientOption{option.WithScopes(analyticsdata.AnalyticsReadonlyScope)}, opts...)
	svc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create analytics data client: %w", err)
	}
	return &Backend{svc: svc}, nil
}

func (b *Backend) Name() string { return BackendName }

// RunReport issues a single-range runReport call. Relative date tokens are
// passed through; the API resolves them in the property's time zone.
func (b *Backend) RunReport(ctx context.Context, req report.Request) (report.RawReport, error) {
	body := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: req.DateRange.StartDate,
			EndDate:   req.DateRange.EndDate,
		}},
		Limit: req.Limit,
	}
	for _, name := range req.Dimensions {
		body.Dimensions = append(body.Dimensions, &analyticsdata.Dimension{Name: name})
	}
	for _, name := range req.Metrics {
		body.Metrics = append(body.Metrics, &analyticsdata.Metric{Name: name})
	}

	resp, err := b.svc.Properties.RunReport("properties/"+req.PropertyID, body).Context(ctx).Do()
	if err != nil {
		return report.RawReport{}, err
	}

	out := report.RawReport{RowCount: resp.RowCount}
	for _, h := range resp.DimensionHeaders {
		out.DimensionHeaders = append(out.DimensionHeaders, h.Name)
	}
	for _, h := range resp.MetricHeaders {
		out.MetricHeaders = append(out.MetricHeaders, h.Name)
	}
	for _, row := range resp.Rows {
		cells := make([]string, 0, len(row.DimensionValues)+len(row.MetricValues))
		for _, v := range row.DimensionValues {
			cells = append(cells, v.Value)
		}
		for _, v := range row.MetricValues {
			cells = append(cells, v.Value)
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}

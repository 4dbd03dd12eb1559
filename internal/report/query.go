// Package report holds the structured analytics query produced from a user
// question, the tabular result it yields, and the executor that runs one
// against a reporting backend.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/whisperer/whisperer/internal/dates"
)

const DefaultLimit int64 = 100

// maxLimit is the largest row limit the reporting API accepts.
const maxLimit int64 = 250000

var (
	DefaultDimension = Dimension{Name: "date"}
	DefaultMetric    = Metric{Name: "activeUsers"}

	// DefaultDateRange is the trailing 28-day window ending yesterday.
	DefaultDateRange = DateRange{StartDate: dates.DaysAgo(28), EndDate: dates.Yesterday}
)

type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type Dimension struct {
	Name string `json:"name"`
}

type Metric struct {
	Name string `json:"name"`
}

// Query is a single analytics report request. Only the first date range is
// honored by the executor.
type Query struct {
	DateRanges []DateRange `json:"dateRanges"`
	Dimensions []Dimension `json:"dimensions"`
	Metrics    []Metric    `json:"metrics"`
	Limit      int64       `json:"limit,omitempty"`
}

func (q Query) DimensionNames() []string {
	names := make([]string, len(q.Dimensions))
	for i, d := range q.Dimensions {
		names[i] = d.Name
	}
	return names
}

func (q Query) MetricNames() []string {
	names := make([]string, len(q.Metrics))
	for i, m := range q.Metrics {
		names[i] = m.Name
	}
	return names
}

// Repair fills the fields a model commonly leaves out. It never rejects a
// query and is idempotent.
func Repair(q Query) Query {
	out := Query{Limit: q.Limit}
	for _, d := range q.Dimensions {
		if name := strings.TrimSpace(d.Name); name != "" {
			out.Dimensions = append(out.Dimensions, Dimension{Name: name})
		}
	}
	for _, m := range q.Metrics {
		if name := strings.TrimSpace(m.Name); name != "" {
			out.Metrics = append(out.Metrics, Metric{Name: name})
		}
	}
	for _, r := range q.DateRanges {
		r = DateRange{StartDate: strings.TrimSpace(r.StartDate), EndDate: strings.TrimSpace(r.EndDate)}
		switch {
		case r.StartDate == "" && r.EndDate == "":
			continue
		case r.StartDate == "":
			r.StartDate = r.EndDate
		case r.EndDate == "":
			r.EndDate = r.StartDate
		}
		out.DateRanges = append(out.DateRanges, r)
	}

	if len(out.Dimensions) == 0 {
		out.Dimensions = []Dimension{DefaultDimension}
	}
	if len(out.Metrics) == 0 {
		out.Metrics = []Metric{DefaultMetric}
	}
	if len(out.DateRanges) == 0 {
		out.DateRanges = []DateRange{DefaultDateRange}
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	return out
}

// UnmarshalJSON accepts the camelCase shape as well as the snake_case shape
// some prompts elicit, bare strings in place of {name} objects, and a
// quoted limit.
func (q *Query) UnmarshalJSON(data []byte) error {
	var wire struct {
		DateRanges      []DateRange     `json:"dateRanges"`
		DateRangesSnake []DateRange     `json:"date_ranges"`
		Dimensions      []Dimension     `json:"dimensions"`
		Metrics         []Metric        `json:"metrics"`
		Limit           json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	limit, err := parseLimit(wire.Limit)
	if err != nil {
		return err
	}
	*q = Query{
		DateRanges: wire.DateRanges,
		Dimensions: wire.Dimensions,
		Metrics:    wire.Metrics,
		Limit:      limit,
	}
	if len(q.DateRanges) == 0 {
		q.DateRanges = wire.DateRangesSnake
	}
	return nil
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var wire struct {
		StartDate      string `json:"startDate"`
		EndDate        string `json:"endDate"`
		StartDateSnake string `json:"start_date"`
		EndDateSnake   string `json:"end_date"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = DateRange{StartDate: wire.StartDate, EndDate: wire.EndDate}
	if r.StartDate == "" {
		r.StartDate = wire.StartDateSnake
	}
	if r.EndDate == "" {
		r.EndDate = wire.EndDateSnake
	}
	return nil
}

func (d *Dimension) UnmarshalJSON(data []byte) error {
	name, err := decodeName(data)
	d.Name = name
	return err
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	name, err := decodeName(data)
	m.Name = name
	return err
}

func decodeName(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		err := json.Unmarshal(data, &name)
		return name, err
	}
	var obj struct {
		Name string `json:"name"`
	}
	err := json.Unmarshal(data, &obj)
	return obj.Name, err
}

func parseLimit(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid limit %s", raw)
	}
	switch {
	case value >= float64(maxLimit):
		return maxLimit, nil
	case value < 0:
		return 0, nil
	}
	return int64(value), nil
}

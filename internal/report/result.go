package report

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

type Row map[string]any

// Result is a flattened report. Columns lists dimension names then metric
// names in query order.
type Result struct {
	Columns    []string `json:"columns"`
	Dimensions []string `json:"dimensions"`
	Metrics    []string `json:"metrics"`
	Rows       []Row    `json:"rows"`
	RowCount   int64    `json:"row_count"`
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Head returns at most n leading rows.
func (r Result) Head(n int) []Row {
	if n < 0 || n >= len(r.Rows) {
		return r.Rows
	}
	return r.Rows[:n]
}

// Records returns the header followed by up to n rows rendered as text. A
// negative n renders every row.
func (r Result) Records(n int) [][]string {
	rows := r.Head(n)
	out := make([][]string, 0, len(rows)+1)
	out = append(out, append([]string(nil), r.Columns...))
	for _, row := range rows {
		cells := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			cells[i] = FormatValue(row[col])
		}
		out = append(out, cells)
	}
	return out
}

// WriteTable renders up to n rows as an aligned text table.
func (r Result) WriteTable(w io.Writer, n int) {
	records := r.Records(n)
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(records[0])
	for _, record := range records[1:] {
		table.Append(record)
	}
	table.Render()
}

func (r Result) Table(n int) string {
	var b strings.Builder
	r.WriteTable(&b, n)
	return b.String()
}

// CoerceMetric turns a numeric-looking metric value into float64 and leaves
// anything else as text.
func CoerceMetric(value string) any {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return value
	}
	return f
}

func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return ""
	}
}

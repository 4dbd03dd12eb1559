package export

import (
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsExporter creates a new spreadsheet per export and shares it with
// anyone holding the link.
type SheetsExporter struct {
	sheets *sheets.Service
	drive  *drive.Service
}

func NewSheetsExporter(ctx context.Context, opts ...option.ClientOption) (*SheetsExporter, error) {
	sheetsSvc, err := sheets.NewService(ctx, append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithScopes(drive.DriveFileScope)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &SheetsExporter{sheets: sheetsSvc, drive: driveSvc}, nil
}

func (e *SheetsExporter) Name() string { return TargetSheets }

func (e *SheetsExporter) Export(ctx context.Context, table Table) (Link, error) {
	created, err := e.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: Title(table.Question)},
	}).Context(ctx).Do()
	if err != nil {
		return Link{}, fmt.Errorf("create spreadsheet: %w", err)
	}

	_, err = e.sheets.Spreadsheets.Values.BatchUpdate(created.SpreadsheetId, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data: []*sheets.ValueRange{
			{Range: "A1", Values: [][]interface{}{{"Question: " + table.Question}}},
			{Range: "A3", Values: sheetValues(table)},
		},
	}).Context(ctx).Do()
	if err != nil {
		return Link{}, fmt.Errorf("write spreadsheet values: %w", err)
	}

	if _, err := e.drive.Permissions.Create(created.SpreadsheetId, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do(); err != nil {
		return Link{}, fmt.Errorf("share spreadsheet: %w", err)
	}

	url := created.SpreadsheetUrl
	if url == "" {
		url = "https://docs.google.com/spreadsheets/d/" + created.SpreadsheetId
	}
	return Link{Target: TargetSheets, URL: url, RowCount: int64(len(table.Result.Rows))}, nil
}

// sheetValues renders header plus rows. Metric values stay numeric.
func sheetValues(table Table) [][]interface{} {
	result := table.Result
	out := make([][]interface{}, 0, len(result.Rows)+1)
	header := make([]interface{}, len(result.Columns))
	for i, col := range result.Columns {
		header[i] = col
	}
	out = append(out, header)
	for _, row := range result.Rows {
		cells := make([]interface{}, len(result.Columns))
		for i, col := range result.Columns {
			switch v := row[col].(type) {
			case float64:
				cells[i] = v
			case nil:
				cells[i] = ""
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		out = append(out, cells)
	}
	return out
}

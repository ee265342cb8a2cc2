// Package report renders the finish-day spreadsheet.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// Row is one line of the day report.
type Row struct {
	StudentName    string
	Status         string
	ParentNotified bool
	TimeSpent      string
	Date           string
	CheckinTime    time.Time
	CheckoutTime   *time.Time
}

const sheetName = "Checkins"

var headers = []string{"Student", "Status", "Parent Notified", "Time Spent", "Date", "Check-in", "Check-out"}

const timeLayout = "2006-01-02 15:04"

// FormatMinutes renders elapsed minutes as "2h 5m", or "45m" under an hour.
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	h := mins / 60
	m := mins % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// Build produces the xlsx report: bold header on a light blue fill, rows
// with both timestamps on a teal fill, incomplete rows on a pink fill.
func Build(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9E1F2"}},
		Border: thinBorder(),
	})
	if err != nil {
		return nil, err
	}
	completeStyle, err := f.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E0F7FA"}},
		Border: thinBorder(),
	})
	if err != nil {
		return nil, err
	}
	incompleteStyle, err := f.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FCE4EC"}},
		Border: thinBorder(),
	})
	if err != nil {
		return nil, err
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
		widths[i] = len(h)
	}
	if err := setRowStyle(f, 1, len(headers), headerStyle); err != nil {
		return nil, err
	}

	for idx, row := range rows {
		values := rowValues(row)
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, idx+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
			if len(v) > widths[j] {
				widths[j] = len(v)
			}
		}
		style := incompleteStyle
		if row.CheckoutTime != nil {
			style = completeStyle
		}
		if err := setRowStyle(f, idx+2, len(headers), style); err != nil {
			return nil, err
		}
	}

	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, float64(w+2)); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rowValues(row Row) []string {
	notified := "no"
	if row.ParentNotified {
		notified = "yes"
	}
	out := ""
	if row.CheckoutTime != nil {
		out = row.CheckoutTime.Format(timeLayout)
	}
	return []string{
		row.StudentName,
		row.Status,
		notified,
		row.TimeSpent,
		row.Date,
		row.CheckinTime.Format(timeLayout),
		out,
	}
}

func setRowStyle(f *excelize.File, row, cols, style int) error {
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(cols, row)
	return f.SetCellStyle(sheetName, first, last, style)
}

func thinBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "top", Style: 1, Color: "000000"},
		{Type: "left", Style: 1, Color: "000000"},
		{Type: "bottom", Style: 1, Color: "000000"},
		{Type: "right", Style: 1, Color: "000000"},
	}
}

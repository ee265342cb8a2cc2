package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ParseCSV reads bulk-registration entries from a CSV stream. The first row
// must be a header containing studentName and parentNumber columns, in any
// order. Blank lines are skipped.
func ParseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	nameCol, phoneCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "studentname":
			nameCol = i
		case "parentnumber":
			phoneCol = i
		}
	}
	if nameCol < 0 || phoneCol < 0 {
		return nil, fmt.Errorf("csv header must contain studentName and parentNumber columns")
	}

	var entries []Entry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(row) <= nameCol || len(row) <= phoneCol {
			continue
		}
		name := strings.TrimSpace(row[nameCol])
		phone := strings.TrimSpace(row[phoneCol])
		if name == "" && phone == "" {
			continue
		}
		entries = append(entries, Entry{StudentName: name, ParentNumber: phone})
	}
	return entries, nil
}

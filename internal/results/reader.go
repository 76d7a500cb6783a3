package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// ReadCSV parses a results log written by CSVLog. A row with the wrong number
// of fields or an unparsable timestamp is reported with its line number.
func ReadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results log: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results log: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if line == 1 && slices.Equal(row, Header) {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, row[3])
		if err != nil {
			return nil, fmt.Errorf("results log line %d: bad timestamp %q: %w", line, row[3], err)
		}
		decision, status := parseDecisionColumn(row[2])
		records = append(records, Record{
			RobotID:   row[0],
			Proposal:  row[1],
			Decision:  decision,
			Timestamp: ts,
			Status:    status,
		})
	}
	return records, nil
}

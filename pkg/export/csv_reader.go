package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// ReadCSV parses a CSV payload, stripping a leading UTF-8 BOM and tolerating ragged rows.
// Semicolon-separated files are detected from the header line.
func ReadCSV(payload []byte) ([][]string, error) {
	payload = bytes.TrimPrefix(payload, utf8BOM)
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if line, _, _ := bytes.Cut(payload, []byte("\n")); bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		reader.Comma = ';'
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

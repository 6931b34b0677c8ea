package roster

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// identifierFields is the identifier column precedence for import rows.
// The first present, non-empty field wins.
var identifierFields = []string{"user_id", "username", "display_name", "name"}

// Row is one imported record: an identifier plus the variable values supplied
// for the matching recipient. Import rows never create recipients; unmatched
// identifiers are ignored by the caller.
type Row struct {
	Identifier     string
	IdentifierType string
	Variables      map[string]string
}

// ImportResult aggregates an import parse: the rows that produced usable data
// and non-fatal, per-row problems.
type ImportResult struct {
	Rows   []Row
	Errors []string
}

// UserData flattens rows into identifier -> variable map form, the shape the
// import API responds with.
func (r *ImportResult) UserData() map[string]map[string]string {
	out := make(map[string]map[string]string, len(r.Rows))
	for _, row := range r.Rows {
		out[row.Identifier] = row.Variables
	}
	return out
}

// ParseImport sniffs the file format (extension first, content second) and
// parses it. A file that is empty or matches neither format is an error;
// row-level problems are reported in ImportResult.Errors instead.
func ParseImport(filename string, content []byte) (*ImportResult, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return parseJSON(content)
	case ".csv":
		return parseCSV(content)
	}

	// No recognized extension: guess from content.
	if json.Valid(content) {
		return parseJSON(content)
	}
	if res, err := parseCSV(content); err == nil {
		return res, nil
	}
	return nil, fmt.Errorf("unknown file format: expected CSV or JSON")
}

func parseCSV(content []byte) (*ImportResult, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("csv: missing header row: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !hasIdentifierColumn(header) {
		return nil, fmt.Errorf("csv must contain at least one of: %s", strings.Join(identifierFields, ", "))
	}

	res := &ImportResult{}
	rowNum := 1 // header was row 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		fields := map[string]string{}
		empty := true
		for i, v := range record {
			if i >= len(header) {
				break
			}
			v = strings.TrimSpace(v)
			fields[header[i]] = v
			if v != "" {
				empty = false
			}
		}
		if empty {
			continue
		}

		row, ok := buildRow(fields)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: no valid user identifier found", rowNum))
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func parseJSON(content []byte) (*ImportResult, error) {
	var items []map[string]any
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("json must be an array of user objects: %w", err)
	}

	res := &ImportResult{}
	for i, item := range items {
		fields := make(map[string]string, len(item))
		for k, v := range item {
			fields[k] = stringify(v)
		}
		row, ok := buildRow(fields)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: no valid user identifier found", i))
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func buildRow(fields map[string]string) (Row, bool) {
	row := Row{Variables: map[string]string{}}
	for _, f := range identifierFields {
		if v := strings.TrimSpace(fields[f]); v != "" {
			row.Identifier = v
			row.IdentifierType = f
			break
		}
	}
	if row.Identifier == "" {
		return Row{}, false
	}
	for k, v := range fields {
		if isIdentifierField(k) {
			continue
		}
		row.Variables[k] = v
	}
	return row, true
}

func hasIdentifierColumn(header []string) bool {
	for _, h := range header {
		if isIdentifierField(h) {
			return true
		}
	}
	return false
}

func isIdentifierField(name string) bool {
	for _, f := range identifierFields {
		if name == f {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		// JSON numbers: render integers without a trailing .0
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

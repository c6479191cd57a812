package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

// decodeRows decodes one source object into raw rows according to its format.
func decodeRows(format string, r io.Reader) ([]model.Row, error) {
	switch format {
	case "json":
		return decodeJSON(r)
	case "jsonl":
		return decodeJSONLines(r)
	case "csv":
		return decodeCSV(r)
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}

// decodeJSON accepts either a top-level array of objects or a single object.
func decodeJSON(r io.Reader) ([]model.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}

	switch v := raw.(type) {
	case []interface{}:
		rows := make([]model.Row, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("JSON array element %d is not an object", i)
			}
			rows = append(rows, normalizeRow(obj))
		}
		return rows, nil
	case map[string]interface{}:
		return []model.Row{normalizeRow(v)}, nil
	default:
		return nil, fmt.Errorf("JSON document is neither an object nor an array of objects")
	}
}

// decodeJSONLines decodes newline-delimited JSON objects. Blank lines are skipped.
func decodeJSONLines(r io.Reader) ([]model.Row, error) {
	var rows []model.Row
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", lineNo, err)
		}
		rows = append(rows, normalizeRow(obj))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// decodeCSV decodes a header-first CSV document. All values stay strings;
// typing happens in the transform step. Empty cells become nil.
func decodeCSV(r io.Reader) ([]model.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []model.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row := make(model.Row, len(header))
		for i, name := range header {
			if i >= len(record) || record[i] == "" {
				row[name] = nil
				continue
			}
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normalizeRow converts json.Number values into int64 or float64 and leaves
// nested structures as-is (they end up in the rescue bucket downstream).
func normalizeRow(obj map[string]interface{}) model.Row {
	row := make(model.Row, len(obj))
	for k, v := range obj {
		row[k] = normalizeValue(v)
	}
	return row
}

func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// observeTypes infers a field-type map over the batch, widening on conflicts.
// Fields that are nil in every row fall back to string.
func observeTypes(rows []model.Row) map[string]model.FieldType {
	observed := make(map[string]model.FieldType)
	names := make(map[string]bool)
	for _, row := range rows {
		for name, value := range row {
			names[name] = true
			if value == nil {
				continue
			}
			ft := model.InferFieldType(value)
			if prev, seen := observed[name]; seen {
				observed[name] = model.WidenFieldType(prev, ft)
			} else {
				observed[name] = ft
			}
		}
	}
	for name := range names {
		if _, seen := observed[name]; !seen {
			observed[name] = model.FieldTypeString
		}
	}
	return observed
}

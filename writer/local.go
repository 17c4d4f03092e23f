package writer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// localJSONSink writes below a root directory. appendRecord keeps one JSON
// document per line so repeated calls preserve order; writeObject produces
// an indented .json file per batch.
type localJSONSink struct {
	root string
}

func (s *localJSONSink) appendRecord(ctx context.Context, basePath string, record interface{}) error {
	full := filepath.Join(s.root, basePath+".json")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}

	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(record); err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}

	return nil
}

func (s *localJSONSink) writeObject(ctx context.Context, writePath string, data interface{}) error {
	full := filepath.Join(s.root, writePath+".json")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}

	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}

	if err := os.WriteFile(full, body, 0o644); err != nil {
		return &WriteError{Destination: DestLocalJSON, Path: full, Err: err}
	}

	return nil
}

// localCSVSink writes CSV rows below a root directory. Record fields are
// emitted in sorted key order so rows line up across calls.
type localCSVSink struct {
	root string
}

func (s *localCSVSink) appendRecord(ctx context.Context, basePath string, record interface{}) error {
	full := filepath.Join(s.root, basePath+".csv")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}

	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvRow(record)); err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}

	return nil
}

func (s *localCSVSink) writeObject(ctx context.Context, writePath string, data interface{}) error {
	full := filepath.Join(s.root, writePath+".csv")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}

	f, err := os.Create(full)
	if err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)

	rows, ok := data.([]interface{})
	if !ok {
		rows = []interface{}{data}
	}
	for _, row := range rows {
		if err := w.Write(csvRow(row)); err != nil {
			return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
		}
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return &WriteError{Destination: DestLocalCSV, Path: full, Err: err}
	}

	return nil
}

// csvRow flattens a record into one row. Maps emit values in sorted key
// order, slices emit elements in place, anything else becomes one cell.
func csvRow(record interface{}) []string {
	switch v := record.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		row := make([]string, 0, len(keys))
		for _, k := range keys {
			row = append(row, fmt.Sprintf("%v", v[k]))
		}
		return row
	case []interface{}:
		row := make([]string, 0, len(v))
		for _, e := range v {
			row = append(row, fmt.Sprintf("%v", e))
		}
		return row
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

// Package table reads and writes the structured container files consumed by
// managed task inputs. A container maps storage keys to table-shaped values
// stored in "split" orientation (columns, optional index, row data).
package table

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrKeyNotFound is returned when the container has no entry for the requested key.
	ErrKeyNotFound = errors.New("key not found in container")

	// ErrNotTable is returned when the entry under a key is not table-shaped.
	ErrNotTable = errors.New("value is not a table")

	// ErrUnsupportedFormat is returned for file extensions with no known codec.
	ErrUnsupportedFormat = errors.New("unsupported container format")

	// ErrColumnNotFound is returned when ReadOptions selects an unknown column.
	ErrColumnNotFound = errors.New("column not found")
)

// Table is a column-labelled set of rows.
type Table struct {
	Columns []string `json:"columns" yaml:"columns"`
	Index   []any    `json:"index,omitempty" yaml:"index,omitempty"`
	Data    [][]any  `json:"data" yaml:"data"`
}

// Container maps storage keys to tables.
type Container map[string]*Table

// ReadOptions narrows what is decoded from a container entry.
type ReadOptions struct {
	// Columns restricts the result to the listed columns, in order.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{Columns: []string{}, Data: [][]any{}}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}

// IsEmpty reports whether the table has no rows.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Column returns the values of one column, or false if it does not exist.
func (t *Table) Column(name string) ([]any, bool) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]any, len(t.Data))
	for i, row := range t.Data {
		values[i] = row[idx]
	}
	return values, true
}

// Select returns a new table holding only the named columns.
func (t *Table) Select(columns ...string) (*Table, error) {
	if len(columns) == 0 {
		return t, nil
	}

	indexes := make([]int, len(columns))
	for i, name := range columns {
		idx := t.columnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
		}
		indexes[i] = idx
	}

	out := &Table{
		Columns: append([]string(nil), columns...),
		Index:   t.Index,
		Data:    make([][]any, len(t.Data)),
	}
	for r, row := range t.Data {
		selected := make([]any, len(indexes))
		for i, idx := range indexes {
			selected[i] = row[idx]
		}
		out.Data[r] = selected
	}
	return out, nil
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Validate checks that every row and the index agree with the column count.
func (t *Table) Validate() error {
	for i, row := range t.Data {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrNotTable, i, len(row), len(t.Columns))
		}
	}
	if len(t.Index) > 0 && len(t.Index) != len(t.Data) {
		return fmt.Errorf("%w: index has %d entries for %d rows", ErrNotTable, len(t.Index), len(t.Data))
	}
	return nil
}

// ReadFile decodes the table stored under key in the container at path.
// Keys are matched with and without a leading slash.
func ReadFile(path, key string, opts ReadOptions) (*Table, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}

	value, ok := lookup(raw, key)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrKeyNotFound, key, path)
	}

	t, err := decodeTable(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q in %s: %w", key, path, err)
	}

	return t.Select(opts.Columns...)
}

// ReadContainer decodes every table in the container at path.
func ReadContainer(path string) (Container, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}

	c := make(Container, len(raw))
	for key, value := range raw {
		t, err := decodeTable(value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %q in %s: %w", key, path, err)
		}
		c[key] = t
	}
	return c, nil
}

// WriteFile encodes c to path using the codec implied by its extension.
func WriteFile(path string, c Container) error {
	format, compressed, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case "json":
		data, err = json.Marshal(c)
	case "yaml":
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode container: %w", err)
	}

	if compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to compress container: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress container: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readRaw(path string) (map[string]any, error) {
	format, compressed, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	raw := make(map[string]any)
	switch format {
	case "json":
		err = json.NewDecoder(r).Decode(&raw)
	case "yaml":
		err = yaml.NewDecoder(r).Decode(&raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrNotTable, path, err)
	}
	return raw, nil
}

func formatOf(path string) (format string, compressed bool, err error) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".gz") {
		compressed = true
		name = strings.TrimSuffix(name, ".gz")
	}

	switch filepath.Ext(name) {
	case ".json":
		return "json", compressed, nil
	case ".yaml", ".yml":
		return "yaml", compressed, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func lookup(raw map[string]any, key string) (any, bool) {
	if v, ok := raw[key]; ok {
		return v, true
	}
	trimmed := strings.TrimPrefix(key, "/")
	if v, ok := raw[trimmed]; ok {
		return v, true
	}
	v, ok := raw["/"+trimmed]
	return v, ok
}

func decodeTable(value any) (*Table, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, ErrNotTable
	}

	rawColumns, ok := m["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing columns", ErrNotTable)
	}
	rawData, ok := m["data"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing data", ErrNotTable)
	}

	t := &Table{
		Columns: make([]string, len(rawColumns)),
		Data:    make([][]any, len(rawData)),
	}
	for i, c := range rawColumns {
		t.Columns[i] = fmt.Sprint(c)
	}
	for i, r := range rawData {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is not a list", ErrNotTable, i)
		}
		t.Data[i] = row
	}
	if idx, ok := m["index"].([]any); ok {
		t.Index = idx
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

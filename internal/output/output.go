// Package output publishes derived tables as CSV files under the derived directory.
//
// Every file is written to a temporary file in its target directory and renamed
// into place, so readers never observe a partially written table. Floats are
// rendered through fixed-point decimals; NaN becomes an empty cell.
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-forex-centuries/internal/config"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
)

// FullPrecision renders a float with the shortest exact decimal representation
const FullPrecision int32 = -1

// Table is a rendered table ready to be written
type Table struct {
	Name   string // path relative to the derived directory
	Header []string
	Rows   [][]string
}

// Float renders v with precision decimal places, or shortest form for FullPrecision.
// NaN and infinities render as an empty cell.
func Float(v float64, precision int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	d := decimal.NewFromFloat(v)
	if precision == FullPrecision {
		return d.String()
	}
	return d.StringFixed(precision)
}

// Int renders an integer cell
func Int(n int) string {
	return strconv.Itoa(n)
}

// Bool renders a boolean cell
func Bool(b bool) string {
	return strconv.FormatBool(b)
}

// Writer writes tables under a root directory and remembers what it wrote
type Writer struct {
	root    string
	config  config.OutputConfig
	logger  *logger.ComponentLogger
	mu      sync.Mutex
	written map[string]int
	sheets  []Table
}

// NewWriter creates a writer rooted at the derived directory
func NewWriter(root string, cfg config.OutputConfig, loggerMgr *logger.LoggerManager) *Writer {
	return &Writer{
		root:    root,
		config:  cfg,
		logger:  loggerMgr.GetComponentLogger("output"),
		written: make(map[string]int),
	}
}

// Root returns the derived directory
func (w *Writer) Root() string {
	return w.root
}

// Path resolves a table name against the derived directory
func (w *Writer) Path(name string) string {
	return filepath.Join(w.root, filepath.FromSlash(name))
}

// Write renders t as CSV and atomically replaces the target file
func (w *Writer) Write(t Table) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header of %s: %w", t.Name, err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows of %s: %w", t.Name, err)
	}

	if err := WriteFileAtomic(w.Path(t.Name), buf.Bytes()); err != nil {
		return err
	}

	w.mu.Lock()
	w.written[t.Name] = len(t.Rows)
	w.mu.Unlock()
	w.logger.Debug("table written", "table", t.Name, "rows", len(t.Rows))
	return nil
}

// Written returns the row count of every table written so far
func (w *Writer) Written() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.written))
	for k, v := range w.written {
		out[k] = v
	}
	return out
}

// Tables returns the names of the written tables, sorted
func (w *Writer) Tables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.written))
	for k := range w.written {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadTable reads a published CSV table
func ReadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse %s: %w", path, err)
	}
	t := Table{Name: filepath.Base(path)}
	if len(records) == 0 {
		return t, nil
	}
	t.Header = records[0]
	t.Rows = records[1:]
	return t, nil
}

// Column returns the index of a header column, or -1
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

package output

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// LongRow is one (time, entity, value) triple of a long table
type LongRow struct {
	Time   time.Time
	Entity string
	Value  float64
}

// WideTable has one row per time key and one column per entity. Missing cells
// hold NaN.
type WideTable struct {
	Frequency models.Frequency
	Entities  []string
	Times     []time.Time
	Values    [][]float64
}

// LongToWide pivots long rows into a wide table with sorted entities and times.
// A later duplicate of a (time, entity) cell replaces the earlier one.
func LongToWide(freq models.Frequency, rows []LongRow) WideTable {
	entitySet := make(map[string]struct{})
	timeSet := make(map[time.Time]struct{})
	for _, r := range rows {
		entitySet[r.Entity] = struct{}{}
		timeSet[r.Time] = struct{}{}
	}

	w := WideTable{Frequency: freq}
	for e := range entitySet {
		w.Entities = append(w.Entities, e)
	}
	sort.Strings(w.Entities)
	for t := range timeSet {
		w.Times = append(w.Times, t)
	}
	sort.Slice(w.Times, func(i, j int) bool { return w.Times[i].Before(w.Times[j]) })

	col := make(map[string]int, len(w.Entities))
	for i, e := range w.Entities {
		col[e] = i
	}
	row := make(map[time.Time]int, len(w.Times))
	w.Values = make([][]float64, len(w.Times))
	for i, t := range w.Times {
		row[t] = i
		w.Values[i] = make([]float64, len(w.Entities))
		for j := range w.Values[i] {
			w.Values[i][j] = math.NaN()
		}
	}
	for _, r := range rows {
		w.Values[row[r.Time]][col[r.Entity]] = r.Value
	}
	return w
}

// WideToLong melts a wide table back into long rows sorted by time, then entity.
// Empty cells produce no row.
func WideToLong(w WideTable) []LongRow {
	var out []LongRow
	for i, t := range w.Times {
		for j, e := range w.Entities {
			v := w.Values[i][j]
			if math.IsNaN(v) {
				continue
			}
			out = append(out, LongRow{Time: t, Entity: e, Value: v})
		}
	}
	return out
}

// Table renders the wide table with the frequency's key column first
func (w WideTable) Table(name string, precision int32) Table {
	t := Table{Name: name, Header: append([]string{w.Frequency.KeyName()}, w.Entities...)}
	t.Rows = make([][]string, len(w.Times))
	for i, tm := range w.Times {
		row := make([]string, 0, len(w.Entities)+1)
		row = append(row, w.Frequency.Format(tm))
		for _, v := range w.Values[i] {
			row = append(row, Float(v, precision))
		}
		t.Rows[i] = row
	}
	return t
}

// WideFromTable parses a table written by WideTable.Table
func WideFromTable(t Table, freq models.Frequency) (WideTable, error) {
	if len(t.Header) == 0 || t.Header[0] != freq.KeyName() {
		return WideTable{}, fmt.Errorf("%s: first column must be %q", t.Name, freq.KeyName())
	}
	w := WideTable{Frequency: freq, Entities: append([]string(nil), t.Header[1:]...)}
	for n, rec := range t.Rows {
		tm, err := freq.Parse(rec[0])
		if err != nil {
			return WideTable{}, fmt.Errorf("%s row %d: %w", t.Name, n+2, err)
		}
		vals := make([]float64, len(w.Entities))
		for j := range vals {
			vals[j] = math.NaN()
			if j+1 >= len(rec) || rec[j+1] == "" {
				continue
			}
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return WideTable{}, fmt.Errorf("%s row %d column %s: %w", t.Name, n+2, w.Entities[j], err)
			}
			vals[j] = v
		}
		w.Times = append(w.Times, tm)
		w.Values = append(w.Values, vals)
	}
	return w, nil
}

// LongTable renders long rows as key, entity and value columns
func LongTable(name string, freq models.Frequency, entityColumn, valueColumn string, rows []LongRow, precision int32) Table {
	t := Table{Name: name, Header: []string{freq.KeyName(), entityColumn, valueColumn}}
	t.Rows = make([][]string, len(rows))
	for i, r := range rows {
		t.Rows[i] = []string{freq.Format(r.Time), r.Entity, Float(r.Value, precision)}
	}
	return t
}

// MatrixTable renders a correlation matrix with the entity names as first column
func MatrixTable(name, entityColumn string, m models.CorrelationMatrix, precision int32) Table {
	t := Table{Name: name, Header: append([]string{entityColumn}, m.Entities...)}
	t.Rows = make([][]string, len(m.Entities))
	for i, e := range m.Entities {
		row := make([]string, 0, len(m.Entities)+1)
		row = append(row, e)
		for _, v := range m.Values[i] {
			row = append(row, Float(v, precision))
		}
		t.Rows[i] = row
	}
	return t
}

// WriteLong writes a long table
func (w *Writer) WriteLong(name string, freq models.Frequency, entityColumn, valueColumn string, rows []LongRow, precision int32) error {
	return w.Write(LongTable(name, freq, entityColumn, valueColumn, rows, precision))
}

// WriteWide writes a wide table and keeps it for the workbook
func (w *Writer) WriteWide(name string, wide WideTable, precision int32) error {
	t := wide.Table(name, precision)
	if err := w.Write(t); err != nil {
		return err
	}
	if w.config.Workbook {
		w.mu.Lock()
		w.sheets = append(w.sheets, t)
		w.mu.Unlock()
	}
	return nil
}

// WriteMatrix writes a correlation matrix
func (w *Writer) WriteMatrix(name, entityColumn string, m models.CorrelationMatrix, precision int32) error {
	return w.Write(MatrixTable(name, entityColumn, m, precision))
}

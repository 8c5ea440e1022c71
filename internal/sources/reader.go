// Package sources reads the canonical source files of the forex-centuries build.
// Readers are thin adapters: they check each file's column contract, turn sentinel
// cells into unobserved points and leave quoting conventions to the normalizer.
package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/logger"
)

// Canonical locations relative to the source directory
const (
	FREDDailyDir    = "fred/daily"
	MWRatesFile     = "measuringworth/measuringworth_exchange_rates.csv"
	MWGoldFile      = "measuringworth/measuringworth_gold_prices.csv"
	CIRatesFile     = "clio_infra/clio_infra_exchange_rates.csv"
	CIGBPRatesFile  = "clio_infra/clio_infra_exchange_rates_gbp.csv"
	CIInflationFile = "clio_infra/clio_infra_inflation.csv"
	GMDFile         = "gmd/gmd_exchange_rates.csv"
	IRRFineFile     = "irr/irr_regime_fine.csv"
	GoldMonthlyFile = "gold/gold_monthly_usd.csv"
	IMFFile         = "imf/imf_exchange_rates.csv"
	JSTFile         = "jst/jst_macrohistory.xlsx"
	JSTSheet        = "Sheet1"
)

const (
	componentName = "sources"
	utf8BOM       = "\ufeff"
	yearColumn    = "year"
)

// naTokens are the cells read as "no observation"
var naTokens = map[string]struct{}{
	"":     {},
	".":    {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"#N/A": {},
}

// Reader reads canonical source files below a root directory
type Reader struct {
	root       string
	classifier *apperrors.ErrorClassifier
	logger     *logger.ComponentLogger
}

// NewReader creates a reader rooted at the source directory
func NewReader(root string, classifier *apperrors.ErrorClassifier, loggerMgr *logger.LoggerManager) *Reader {
	return &Reader{
		root:       root,
		classifier: classifier,
		logger:     loggerMgr.GetComponentLogger(componentName),
	}
}

// Root returns the source directory
func (r *Reader) Root() string {
	return r.root
}

// Path resolves a canonical relative path
func (r *Reader) Path(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Exists reports whether a canonical file or directory is present
func (r *Reader) Exists(rel string) bool {
	_, err := os.Stat(r.Path(rel))
	return err == nil
}

// readFile loads a file, retrying transient I/O failures
func (r *Reader) readFile(ctx context.Context, rel string) ([]byte, error) {
	var data []byte
	err := r.classifier.Retry(ctx, componentName, "read "+rel, func() error {
		var readErr error
		data, readErr = os.ReadFile(r.Path(rel))
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readCSV loads every record of a CSV file. Rows may have differing widths.
func (r *Reader) readCSV(ctx context.Context, rel string) ([][]string, error) {
	data, err := r.readFile(ctx, rel)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", rel, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// header maps column names to positions
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.TrimSpace(name)
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

// require returns the positions of the named columns or a SchemaError for the first absent one
func (h header) require(source, file string, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		pos, ok := h[name]
		if !ok {
			return nil, apperrors.NewMissingColumn(source, file, name)
		}
		idx[i] = pos
	}
	return idx, nil
}

// cell returns the trimmed value at i, or "" past the end of a short row
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseValue reads a numeric cell. Sentinel cells are returned as unobserved.
func parseValue(raw string) (v float64, observed bool, err error) {
	if _, na := naTokens[raw]; na {
		return math.NaN(), false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN(), false, err
	}
	if math.IsNaN(v) {
		return v, false, nil
	}
	return v, true, nil
}

// parseNumber is parseValue that reports failures as a SchemaError at a data row
func parseNumber(source, file, column string, row int, raw string) (float64, bool, error) {
	v, ok, err := parseValue(raw)
	if err != nil {
		return v, false, apperrors.NewBadNumber(source, file, column, row, raw)
	}
	return v, ok, nil
}

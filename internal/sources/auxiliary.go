package sources

import (
	"context"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/johnayoung/go-forex-centuries/internal/errors"
	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// IRR layout: 0-based rows 4 and 5 hold the two halves of each country name
// from column 2 on, data rows start at row 7 with the month label in column 1.
const (
	irrNameRowA   = 4
	irrNameRowB   = 5
	irrDataRow    = 7
	irrLabelCol   = 1
	irrFirstValue = 2
)

var irrMonthLabel = regexp.MustCompile(`^(\d{4})M(\d+)$`)

// ReadIRRFine reads the headerless fine regime table. The returned labels carry
// only the fine code; classification into coarse regimes happens downstream.
// Cells that are not numbers are skipped.
func (r *Reader) ReadIRRFine(ctx context.Context) ([]models.RegimeLabel, error) {
	records, err := r.readCSV(ctx, IRRFineFile)
	if err != nil {
		return nil, err
	}
	if len(records) <= irrNameRowB {
		return nil, apperrors.NewMissingColumn(string(models.SourceIRR), path.Base(IRRFineFile), "country names")
	}

	rowA, rowB := records[irrNameRowA], records[irrNameRowB]
	width := len(rowA)
	if len(rowB) > width {
		width = len(rowB)
	}
	var countries []string
	for j := irrFirstValue; j < width; j++ {
		a, b := cell(rowA, j), cell(rowB, j)
		name := a
		if b != "" {
			name = strings.TrimSpace(a + " " + b)
		}
		countries = append(countries, name)
	}

	var labels []models.RegimeLabel
	skipped := 0
	for i := irrDataRow; i < len(records); i++ {
		row := records[i]
		m := irrMonthLabel.FindStringSubmatch(cell(row, irrLabelCol))
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			skipped++
			continue
		}
		t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

		for j, country := range countries {
			if country == "" {
				continue
			}
			v, ok, err := parseValue(cell(row, irrFirstValue+j))
			if err != nil || !ok || math.IsInf(v, 0) {
				continue
			}
			labels = append(labels, models.RegimeLabel{Entity: country, Time: t, Fine: int(v)})
		}
	}

	if skipped > 0 {
		r.logger.Warn("skipped IRR rows with invalid month", "rows", skipped)
	}
	r.logger.Debug("read IRR fine regimes", "labels", len(labels), "countries", len(countries))
	return labels, nil
}

// ReadGoldYearly reads the yearly gold price table. Missing prices are NaN.
func (r *Reader) ReadGoldYearly(ctx context.Context) ([]models.GoldYear, error) {
	source := string(models.SourceMW)
	file := path.Base(MWGoldFile)

	records, err := r.readCSV(ctx, MWGoldFile)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewMissingColumn(source, file, yearColumn)
	}
	cols := []string{yearColumn, "new_york_market_usd", "us_official_usd", "british_official_gbp"}
	idx, err := newHeader(records[0]).require(source, file, cols...)
	if err != nil {
		return nil, err
	}

	var out []models.GoldYear
	for i, row := range records[1:] {
		rowNum := i + 1
		rawYear := cell(row, idx[0])
		if rawYear == "" {
			continue
		}
		t, err := models.FrequencyYearly.Parse(rawYear)
		if err != nil {
			return nil, apperrors.NewBadTime(source, file, yearColumn, rowNum, rawYear)
		}
		var prices [3]float64
		for k := 0; k < 3; k++ {
			v, _, err := parseNumber(source, file, cols[k+1], rowNum, cell(row, idx[k+1]))
			if err != nil {
				return nil, err
			}
			prices[k] = v
		}
		out = append(out, models.GoldYear{
			Year:        t.Year(),
			NewYorkUSD:  prices[0],
			OfficialUSD: prices[1],
			BritishGBP:  prices[2],
		})
	}
	return out, nil
}

// jstColumns are the macro-history columns the asset stages need
var jstColumns = []string{"year", "country", "eq_tr", "housing_tr", "bond_tr", "bill_rate", "cpi"}

// ReadJST reads the macro-history workbook
func (r *Reader) ReadJST(ctx context.Context) ([]models.AssetYear, error) {
	source := string(models.SourceJST)
	file := path.Base(JSTFile)

	var rows [][]string
	err := r.classifier.Retry(ctx, componentName, "read "+JSTFile, func() error {
		f, openErr := excelize.OpenFile(r.Path(JSTFile))
		if openErr != nil {
			return openErr
		}
		defer f.Close()

		var rowsErr error
		rows, rowsErr = f.GetRows(JSTSheet, excelize.Options{RawCellValue: true})
		return rowsErr
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewMissingColumn(source, file, "year")
	}

	idx, err := newHeader(rows[0]).require(source, file, jstColumns...)
	if err != nil {
		return nil, err
	}

	var out []models.AssetYear
	for i, row := range rows[1:] {
		rowNum := i + 1
		country := cell(row, idx[1])
		rawYear := cell(row, idx[0])
		if country == "" || rawYear == "" {
			continue
		}
		t, err := models.FrequencyYearly.Parse(rawYear)
		if err != nil {
			return nil, apperrors.NewBadTime(source, file, "year", rowNum, rawYear)
		}

		var vals [5]float64
		for k := 0; k < 5; k++ {
			v, _, err := parseNumber(source, file, jstColumns[k+2], rowNum, cell(row, idx[k+2]))
			if err != nil {
				return nil, err
			}
			vals[k] = v
		}
		out = append(out, models.AssetYear{
			Country:   country,
			Year:      t.Year(),
			EquityTR:  vals[0],
			HousingTR: vals[1],
			BondTR:    vals[2],
			BillRate:  vals[3],
			CPI:       vals[4],
		})
	}

	r.logger.Debug("read macro-history workbook", "rows", len(out))
	return out, nil
}

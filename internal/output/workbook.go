package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// sheetName derives an Excel sheet name from a table path
func sheetName(table string) string {
	name := strings.TrimSuffix(filepath.Base(table), filepath.Ext(table))
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// WriteWorkbook writes every wide table written so far to one xlsx file, one
// sheet per table. It is a no-op unless the workbook is enabled.
func (w *Writer) WriteWorkbook() error {
	if !w.config.Workbook {
		return nil
	}
	w.mu.Lock()
	sheets := append([]Table(nil), w.sheets...)
	w.mu.Unlock()
	if len(sheets) == 0 {
		return nil
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, t := range sheets {
		name := sheetName(t.Name)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("name sheet %s: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, t); err != nil {
			return err
		}
	}

	path := w.Path(w.config.WorkbookName)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp.xlsx")
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}

	w.logger.Info("workbook written", "path", path, "sheets", len(sheets))
	return nil
}

func writeSheet(f *excelize.File, sheet string, t Table) error {
	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}

	for r, rec := range t.Rows {
		row := make([]interface{}, len(rec))
		for i, v := range rec {
			switch {
			case v == "":
				row[i] = nil
			case i == 0:
				row[i] = v
			default:
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					row[i] = n
				} else {
					row[i] = v
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, r+2, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

type sheetData struct {
	columns []string       // header, columns[0] == "name"
	colIdx  map[string]int // column -> 0-based index
	rows    []Row
	rowIdx  map[string]int // name -> index into rows
	// lines[i] is the 1-based sheet row holding rows[i]. Blank and
	// duplicate lines are kept in the sheet, so indexes and lines differ.
	lines   []int
	lastRow int
}

// Workbook is the xlsx backend. The whole workbook is held in memory and
// written back after every mutation.
type Workbook struct {
	mu     sync.Mutex
	path   string
	f      *excelize.File
	sheets map[string]*sheetData
}

// OpenWorkbook opens path, creating the workbook and any missing sheets.
func OpenWorkbook(path string) (*Workbook, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workbook directory: %w", err)
		}
	}

	var f *excelize.File
	created := false
	if _, err := os.Stat(path); err == nil {
		f, err = excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
	} else if os.IsNotExist(err) {
		f = excelize.NewFile()
		created = true
	} else {
		return nil, err
	}

	w := &Workbook{path: path, f: f, sheets: make(map[string]*sheetData)}
	if err := w.load(created); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.save(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workbook) load(created bool) error {
	for _, name := range Sheets {
		idx, err := w.f.GetSheetIndex(name)
		if err != nil {
			return err
		}
		if idx < 0 {
			if _, err := w.f.NewSheet(name); err != nil {
				return fmt.Errorf("failed to create sheet %s: %w", name, err)
			}
			if err := w.f.SetCellStr(name, "A1", NameColumn); err != nil {
				return err
			}
		}

		raw, err := w.f.GetRows(name)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		w.sheets[name] = parseSheet(raw)
	}

	if created {
		// NewFile starts with a default sheet we never use.
		w.f.DeleteSheet("Sheet1")
		if idx, err := w.f.GetSheetIndex(SheetSubdomains); err == nil && idx >= 0 {
			w.f.SetActiveSheet(idx)
		}
	}
	return nil
}

func parseSheet(raw [][]string) *sheetData {
	sd := &sheetData{
		columns: []string{NameColumn},
		colIdx:  map[string]int{NameColumn: 0},
		rowIdx:  make(map[string]int),
		lastRow: max(len(raw), 1),
	}
	if len(raw) == 0 {
		return sd
	}

	for i, col := range raw[0] {
		if i == 0 {
			continue
		}
		col = strings.TrimSpace(col)
		sd.colIdx[col] = len(sd.columns)
		sd.columns = append(sd.columns, col)
	}

	for n, cells := range raw[1:] {
		if len(cells) == 0 {
			continue
		}
		name := strings.TrimSpace(cells[0])
		if name == "" {
			continue
		}
		if _, dup := sd.rowIdx[name]; dup {
			continue
		}
		row := Row{Name: name, Fields: make(map[string]string)}
		for i := 1; i < len(cells) && i < len(sd.columns); i++ {
			if cells[i] != "" {
				row.Fields[sd.columns[i]] = cells[i]
			}
		}
		sd.rowIdx[name] = len(sd.rows)
		sd.rows = append(sd.rows, row)
		sd.lines = append(sd.lines, n+2)
	}
	return sd
}

func (w *Workbook) save() error {
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Rows implements Store.
func (w *Workbook) Rows(ctx context.Context, sheet string, f Filter, limit int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkSheet(sheet); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Row
	for _, r := range w.sheets[sheet].rows {
		if !f.Match(r) {
			continue
		}
		out = append(out, copyRow(r))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Append implements Store.
func (w *Workbook) Append(ctx context.Context, sheet string, names []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkSheet(sheet); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sd := w.sheets[sheet]
	added := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := sd.rowIdx[name]; ok {
			continue
		}
		sd.lastRow++
		sd.rowIdx[name] = len(sd.rows)
		sd.rows = append(sd.rows, Row{Name: name, Fields: make(map[string]string)})
		sd.lines = append(sd.lines, sd.lastRow)

		cell, err := excelize.CoordinatesToCellName(1, sd.lastRow)
		if err != nil {
			return added, err
		}
		if err := w.f.SetCellStr(sheet, cell, name); err != nil {
			return added, err
		}
		added++
	}

	if added == 0 {
		return 0, nil
	}
	return added, w.save()
}

// Update implements Store.
func (w *Workbook) Update(ctx context.Context, sheet, column string, values map[string]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkSheet(sheet); err != nil {
		return 0, err
	}
	if err := checkColumn(column); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sd := w.sheets[sheet]
	col, known := sd.colIdx[column]
	if !known {
		col = len(sd.columns)
		sd.colIdx[column] = col
		sd.columns = append(sd.columns, column)
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return 0, err
		}
		if err := w.f.SetCellStr(sheet, cell, column); err != nil {
			return 0, err
		}
	}

	updated := 0
	for name, value := range values {
		i, ok := sd.rowIdx[name]
		if !ok {
			continue
		}
		sd.rows[i].Fields[column] = value

		cell, err := excelize.CoordinatesToCellName(col+1, sd.lines[i])
		if err != nil {
			return updated, err
		}
		if err := w.f.SetCellStr(sheet, cell, value); err != nil {
			return updated, err
		}
		updated++
	}

	if updated == 0 && known {
		return 0, nil
	}
	return updated, w.save()
}

// Close implements Store.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func copyRow(r Row) Row {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Row{Name: r.Name, Fields: fields}
}

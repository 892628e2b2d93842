package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/mssqlpool/pkg/result"
	"github.com/ruslano69/mssqlpool/pkg/value"
)

// Built-in excelize number formats.
const (
	numFmtInteger  = 1  // 0
	numFmtDate     = 14 // m/d/yy
	numFmtDateTime = 22 // m/d/yy h:mm
	numFmtText     = 49 // @
)

const defaultSheet = "Sheet1"

// Workbook - Excel файл с одним листом на результат
//
// Заголовки показывают имя колонки и SQL тип (например, "amount (DECIMAL)").
// NULL остается пустой ячейкой. Результат без строк пишется как лист с
// одной колонкой rows_affected.
//
// Example:
//
//	wb := xlsx.NewWorkbook()
//	defer wb.Close()
//	wb.AddResult("Orders", res)
//	err := wb.SaveAs("orders.xlsx")
type Workbook struct {
	f      *excelize.File
	sheets int

	header   int
	integer  int
	date     int
	dateTime int
	text     int
	decimals map[int64]int
}

// NewWorkbook - создание пустой книги
func NewWorkbook() *Workbook {
	return &Workbook{f: excelize.NewFile(), decimals: make(map[int64]int)}
}

// Sheets - количество добавленных листов
func (w *Workbook) Sheets() int { return w.sheets }

// AddResult - запись результата на новый лист
func (w *Workbook) AddResult(sheetName string, res *result.ExecutionResult) error {
	if res == nil {
		return fmt.Errorf("nil result for sheet %q", sheetName)
	}
	if sheetName == "" {
		sheetName = fmt.Sprintf("Result%d", w.sheets+1)
	}
	if err := w.ensureStyles(); err != nil {
		return err
	}

	// Первый лист переименовывает Sheet1 по умолчанию
	if w.sheets == 0 {
		if err := w.f.SetSheetName(defaultSheet, sheetName); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	} else {
		index, err := w.f.NewSheet(sheetName)
		if err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
		w.f.SetActiveSheet(index)
	}
	w.sheets++

	if !res.HasRows() {
		return w.writeAffected(sheetName, res)
	}
	return w.writeRows(sheetName, res)
}

func (w *Workbook) writeAffected(sheet string, res *result.ExecutionResult) error {
	if err := w.setHeader(sheet, 1, "rows_affected"); err != nil {
		return err
	}
	if !res.HasAffectedCount() {
		return nil
	}
	n, _ := res.AffectedRows()
	if err := w.f.SetCellValue(sheet, "A2", n); err != nil {
		return err
	}
	return w.f.SetCellStyle(sheet, "A2", "A2", w.integer)
}

func (w *Workbook) writeRows(sheet string, res *result.ExecutionResult) error {
	cols := res.Columns()
	for i, col := range cols {
		name := col.Name
		if name == "" {
			name = fmt.Sprintf("column%d", i+1)
		}
		header := name
		if col.TypeName != "" {
			header = fmt.Sprintf("%s (%s)", name, strings.ToUpper(col.TypeName))
		}
		if err := w.setHeader(sheet, i+1, header); err != nil {
			return err
		}
	}

	for r, row := range res.Rows() {
		for c := 0; c < row.Len(); c++ {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := w.writeValue(sheet, cell, row.At(c)); err != nil {
				return fmt.Errorf("row %d column %d: %w", r+1, c+1, err)
			}
		}
	}

	// Auto-fit колонок
	for i := range cols {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(sheet, name, name, 15); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) setHeader(sheet string, col int, text string) error {
	cell, err := excelize.CoordinatesToCellName(col, 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellValue(sheet, cell, text); err != nil {
		return err
	}
	return w.f.SetCellStyle(sheet, cell, cell, w.header)
}

// writeValue - запись значения с типом ячейки по Kind
func (w *Workbook) writeValue(sheet, cell string, v value.Value) error {
	if v.IsNull() {
		return nil
	}

	var (
		cellValue any
		style     int
	)
	switch v.Kind() {
	case value.KindInteger:
		n, _ := v.Int()
		cellValue, style = n, w.integer
	case value.KindFloat:
		f, _ := v.Float()
		cellValue = f
	case value.KindDecimal:
		d, _ := v.Decimal()
		s, err := w.decimalStyle(int64(d.Scale()))
		if err != nil {
			return err
		}
		cellValue, style = d.Float64(), s
	case value.KindBool:
		b, _ := v.Bool()
		cellValue = b
	case value.KindDate:
		d, _ := v.Date()
		cellValue, style = d.In(time.UTC), w.date
	case value.KindDateTime:
		dt, _ := v.DateTime()
		cellValue, style = dt.In(time.UTC), w.dateTime
	default:
		// TIME, DATETIMEOFFSET, binary, uuid и текст - как текст:
		// у Excel нет типов для смещения и времени суток с 100нс
		cellValue, style = v.String(), w.text
	}

	if err := w.f.SetCellValue(sheet, cell, cellValue); err != nil {
		return err
	}
	if style == 0 {
		return nil
	}
	return w.f.SetCellStyle(sheet, cell, cell, style)
}

func (w *Workbook) ensureStyles() error {
	if w.header != 0 {
		return nil
	}

	var err error
	w.header, err = w.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for _, s := range []struct {
		dst    *int
		numFmt int
	}{
		{&w.integer, numFmtInteger},
		{&w.date, numFmtDate},
		{&w.dateTime, numFmtDateTime},
		{&w.text, numFmtText},
	} {
		if *s.dst, err = w.f.NewStyle(&excelize.Style{NumFmt: s.numFmt}); err != nil {
			return fmt.Errorf("failed to create style: %w", err)
		}
	}
	return nil
}

// decimalStyle - формат с фиксированным числом знаков после запятой
func (w *Workbook) decimalStyle(scale int64) (int, error) {
	if id, ok := w.decimals[scale]; ok {
		return id, nil
	}
	format := "0"
	if scale > 0 {
		format += "." + strings.Repeat("0", int(scale))
	}
	id, err := w.f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return 0, fmt.Errorf("failed to create decimal style: %w", err)
	}
	w.decimals[scale] = id
	return id, nil
}

// SaveAs - сохранение книги в файл
func (w *Workbook) SaveAs(path string) error {
	if w.sheets == 0 {
		return fmt.Errorf("workbook has no results")
	}
	return w.f.SaveAs(path)
}

// WriteTo - запись книги в поток (stdout CLI)
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	if w.sheets == 0 {
		return 0, fmt.Errorf("workbook has no results")
	}
	return w.f.WriteTo(out)
}

// Close - освобождение временных файлов excelize
func (w *Workbook) Close() error {
	return w.f.Close()
}

// ToXLSX - запись одного результата в файл
//
// Example:
//
//	err := xlsx.ToXLSX(res, "output.xlsx", "Orders")
func ToXLSX(res *result.ExecutionResult, filePath string, sheetName string) error {
	wb := NewWorkbook()
	defer wb.Close()

	if err := wb.AddResult(sheetName, res); err != nil {
		return err
	}
	return wb.SaveAs(filePath)
}

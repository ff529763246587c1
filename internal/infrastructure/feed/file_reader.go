package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/xuri/excelize/v2"
)

// maxLineBytes bounds one JSON-Lines record
const maxLineBytes = 1 << 20

// ReadFile reads observations from path, picking the format by extension:
// .jsonl/.ndjson (one object or array per line), .json (one object or array), .xlsx.
func ReadFile(path string) ([]domain.RawObservation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".ndjson":
		return ReadJSONLines(f)
	case ".json":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return DecodeObservations(data)
	case ".xlsx":
		return ReadXLSX(f)
	default:
		return nil, fmt.Errorf("unsupported observation file type %q", ext)
	}
}

// ReadJSONLines decodes one observation object or array per line. Blank lines are skipped;
// a malformed line fails the whole read with its line number.
func ReadJSONLines(r io.Reader) ([]domain.RawObservation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []domain.RawObservation
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		obs, err := DecodeObservations(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, obs...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return out, nil
}

// ReadXLSX reads the first sheet of a workbook. The first row holds the headers
// (supermercado, nombre, precio_actual, ...); rows without any value are skipped.
func ReadXLSX(r io.Reader) ([]domain.RawObservation, error) {
	xlsx, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer xlsx.Close()

	sheets := xlsx.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := xlsx.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make([]column, len(rows[0]))
	known := false
	for i, header := range rows[0] {
		columns[i] = columnForHeader(header)
		known = known || columns[i] != colUnknown
	}
	if !known {
		return nil, fmt.Errorf("sheet %s: no recognised header in first row", sheet)
	}

	var out []domain.RawObservation
	for i, row := range rows[1:] {
		rowNum := i + 2
		cells := make([]cell, len(row))
		empty := true
		for j, value := range row {
			if strings.TrimSpace(value) == "" {
				continue
			}
			empty = false
			c, err := readCell(xlsx, sheet, j+1, rowNum, value)
			if err != nil {
				return nil, err
			}
			if j < len(columns) && columns[j] == colObservedAt && c.Numeric {
				c = dateCell(c)
			}
			cells[j] = c
		}
		if empty {
			continue
		}
		out = append(out, mapRow(columns, cells))
	}
	return out, nil
}

func readCell(xlsx *excelize.File, sheet string, col, row int, value string) (cell, error) {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return cell{}, err
	}
	kind, err := xlsx.GetCellType(sheet, name)
	if err != nil {
		return cell{}, fmt.Errorf("cell %s: %w", name, err)
	}
	numeric := kind == excelize.CellTypeNumber || kind == excelize.CellTypeUnset
	if numeric {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			numeric = false
		}
	}
	return cell{Value: value, Numeric: numeric}, nil
}

// dateCell turns an Excel date serial into an RFC 3339 timestamp
func dateCell(c cell) cell {
	serial, err := strconv.ParseFloat(c.Value, 64)
	if err != nil {
		return c
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return c
	}
	return cell{Value: t.UTC().Format(time.RFC3339Nano)}
}

package forecast

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/guregu/null/v6"

	"github.com/Dan9191/tsf-backend/internal/models"
)

func formatCell(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func parseCell(s string) (null.Float, error) {
	if s == "" {
		return null.Float{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(v), nil
}

// WriteCSV writes the table with the fixed forecast header
func WriteCSV(w io.Writer, table *models.ForecastTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(models.ForecastHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, len(models.ForecastHeader))
	for _, row := range table.Rows {
		record[0] = row.Date.Format(models.DateLayout)
		record[1] = formatCell(row.Value)
		for i, f := range row.Forecasts {
			record[i+2] = formatCell(f)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", record[0], err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path through a temporary file and rename
func WriteCSVFile(path string, table *models.ForecastTable) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output file into place: %w", err)
	}
	return nil
}

// ReadCSV parses a table written by WriteCSV
func ReadCSV(r io.Reader) (*models.ForecastTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(models.ForecastHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range models.ForecastHeader {
		if header[i] != h {
			return nil, fmt.Errorf("unexpected column %q at position %d", header[i], i)
		}
	}

	table := &models.ForecastTable{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		var row models.ForecastRow
		if row.Date, err = time.Parse(models.DateLayout, record[0]); err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		if row.Value, err = parseCell(record[1]); err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", line, err)
		}
		for i := range row.Forecasts {
			if row.Forecasts[i], err = parseCell(record[i+2]); err != nil {
				return nil, fmt.Errorf("line %d: invalid %s: %w", line, models.ForecastHeader[i+2], err)
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// ReadCSVFile opens path and parses it with ReadCSV
func ReadCSVFile(path string) (*models.ForecastTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open forecast table: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

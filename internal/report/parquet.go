package report

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ExportParquet writes the audit rows to a Parquet file for downstream
// analysis tooling.
func ExportParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[Row](file)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	slog.Info("Exported audit report", "path", path, "rows", len(rows))
	return nil
}

// ImportParquet reads audit rows back from a Parquet file.
func ImportParquet(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var rows []Row
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		if n > 0 {
			rows = append(rows, batch[:n]...)
		}
		if err != nil {
			break
		}
	}
	return rows, nil
}

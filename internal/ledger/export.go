package ledger

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dex-trade-bot-go/internal/metrics"
	"go.uber.org/zap"
)

// suffixLayout is the timestamp shared by all files of one export pass.
const suffixLayout = "20060102_150405"

type tabular interface {
	CSVHeader() []string
	CSVRow() []string
}

// Export describes one ExportAll pass.
type Export struct {
	Suffix string
	Files  []string
}

// ExportSnapshot writes the current contents of one kind to path. The format
// follows the extension: .csv for a header plus rows, .json for an array of objects.
func (l *Ledger) ExportSnapshot(kind Kind, path string) error {
	var err error
	switch kind {
	case KindTrades:
		rows, rerr := l.Trades()
		if rerr != nil {
			return rerr
		}
		err = writeSnapshot(path, rows)
	case KindSignals:
		rows, rerr := l.Signals()
		if rerr != nil {
			return rerr
		}
		err = writeSnapshot(path, rows)
	case KindProfits:
		rows, rerr := l.Profits()
		if rerr != nil {
			return rerr
		}
		err = writeSnapshot(path, rows)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		l.logger.Error("Export failed", zap.String("kind", string(kind)), zap.String("path", path), zap.Error(err))
		return err
	}
	l.logger.Info("Export written", zap.String("kind", string(kind)), zap.String("path", path))
	return nil
}

// ExportAll writes every kind as CSV and JSON into the export directory using one
// timestamp suffix. A failing file does not stop the remaining ones.
func (l *Ledger) ExportAll() (Export, error) {
	out := Export{Suffix: l.now().Format(suffixLayout)}
	if err := os.MkdirAll(l.exportDir, 0o755); err != nil {
		metrics.ExportsTotal.WithLabelValues("failure").Inc()
		return out, fmt.Errorf("create export dir: %w", err)
	}

	var errs []error
	for _, kind := range Kinds {
		for _, ext := range []string{"csv", "json"} {
			path := filepath.Join(l.exportDir, fmt.Sprintf("%s_%s.%s", kind, out.Suffix, ext))
			if err := l.ExportSnapshot(kind, path); err != nil {
				errs = append(errs, err)
				continue
			}
			out.Files = append(out.Files, path)
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.ExportsTotal.WithLabelValues("failure").Inc()
		return out, err
	}
	metrics.ExportsTotal.WithLabelValues("success").Inc()
	return out, nil
}

func writeSnapshot[T tabular](path string, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSV(path, rows)
	case ".json":
		return writeJSON(path, rows)
	default:
		return fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
}

func writeCSV[T tabular](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	defer file.Close()

	var zero T
	writer := csv.NewWriter(file)
	if err := writer.Write(zero.CSVHeader()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row.CSVRow()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return file.Close()
}

func writeJSON[T tabular](path string, rows []T) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}

package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"codeberg.org/snonux/transbench/internal/dispatch"
	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/translation"
)

// CombinedFileName is the file holding the rows of every task
const CombinedFileName = "result_combine.csv"

var (
	taskHeader     = []string{"index", "source_text", "translated_text", "error"}
	combinedHeader = []string{"task", "index", "source_text", "translated_text", "error"}

	utf8BOM = []byte{0xEF, 0xBB, 0xBF}
)

// TaskFileName returns the result file name of a task
func TaskFileName(task exam.Task) string {
	return fmt.Sprintf("result_%s.csv", task)
}

// WriterOptions configures the CSV export
type WriterOptions struct {
	OutputDir string
	ExcelBOM  bool // prefix files with a UTF-8 BOM
}

// DefaultWriterOptions returns the default export settings
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		OutputDir: "outputs",
	}
}

// Writer exports dispatch outcomes as CSV files
type Writer struct {
	options *WriterOptions
	logger  zerolog.Logger
}

// NewWriter creates a new CSV writer
func NewWriter(options *WriterOptions, logger zerolog.Logger) *Writer {
	if options == nil {
		options = DefaultWriterOptions()
	}
	return &Writer{
		options: options,
		logger:  logger.With().Str("component", "report").Logger(),
	}
}

// WriteAll writes one file per task and the combined file, returning the
// paths written. Files written before a failure are left in place.
func (w *Writer) WriteAll(outcome *dispatch.Outcome, tasks []exam.Task) ([]string, error) {
	if err := os.MkdirAll(w.options.OutputDir, 0755); err != nil {
		return nil, &WriteError{Path: w.options.OutputDir, Op: "create directory", Err: err}
	}

	var written []string
	for _, task := range tasks {
		path, err := w.WriteTask(task, outcome.Results[task])
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	path, err := w.WriteCombined(outcome, tasks)
	if err != nil {
		return written, err
	}
	return append(written, path), nil
}

// WriteTask writes result_<task>.csv
func (w *Writer) WriteTask(task exam.Task, results []translation.Result) (string, error) {
	path := filepath.Join(w.options.OutputDir, TaskFileName(task))

	err := w.writeFile(path, taskHeader, func(cw *csv.Writer) error {
		for i, res := range results {
			if err := cw.Write(row(i, res)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	w.logger.Info().Str("task", task.String()).Str("path", path).Int("rows", len(results)).Msg("Wrote results")
	return path, nil
}

// WriteCombined writes result_combine.csv with the rows of every task, tasks
// in the given order
func (w *Writer) WriteCombined(outcome *dispatch.Outcome, tasks []exam.Task) (string, error) {
	path := filepath.Join(w.options.OutputDir, CombinedFileName)

	rows := 0
	err := w.writeFile(path, combinedHeader, func(cw *csv.Writer) error {
		for _, task := range tasks {
			for i, res := range outcome.Results[task] {
				if err := cw.Write(append([]string{task.String()}, row(i, res)...)); err != nil {
					return err
				}
				rows++
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	w.logger.Info().Str("path", path).Int("rows", rows).Msg("Wrote combined results")
	return path, nil
}

func (w *Writer) writeFile(path string, header []string, writeRows func(*csv.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return &WriteError{Path: path, Op: "create", Err: err}
	}

	if err := w.encode(file, header, writeRows); err != nil {
		file.Close()
		return &WriteError{Path: path, Op: "write", Err: err}
	}
	if err := file.Close(); err != nil {
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	return nil
}

func (w *Writer) encode(out io.Writer, header []string, writeRows func(*csv.Writer) error) error {
	if w.options.ExcelBOM {
		if _, err := out.Write(utf8BOM); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writeRows(cw); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// row formats one result; the index column is 1-based
func row(position int, res translation.Result) []string {
	return []string{
		strconv.Itoa(position + 1),
		res.Item.Source,
		res.Text,
		res.ErrorString(),
	}
}

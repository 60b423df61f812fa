package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"codeberg.org/snonux/transbench/internal/dispatch"
	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/testutil"
	"codeberg.org/snonux/transbench/internal/translation"
)

func testOutcome() *dispatch.Outcome {
	batch := exam.Batch{
		exam.ZhEn: {
			{Task: exam.ZhEn, Index: 0, LineNo: 3, Source: "你好，世界"},
			{Task: exam.ZhEn, Index: 1, LineNo: 5, Source: "他说：\"走吧\""},
		},
		exam.EnZh: {
			{Task: exam.EnZh, Index: 0, LineNo: 9, Source: "Hello, world"},
		},
	}
	outcome := dispatch.NewOutcome(batch, exam.AllTasks)
	outcome.Results[exam.ZhEn][0].Text = "Hello, world"
	outcome.Results[exam.ZhEn][0].Attempts = 1
	outcome.Results[exam.ZhEn][1].Err = &translation.Error{Kind: translation.KindTimeout, Err: errors.New("deadline exceeded")}
	outcome.Results[exam.ZhEn][1].Attempts = 3
	outcome.Results[exam.EnZh][0].Text = "你好，世界"
	outcome.Results[exam.EnZh][0].Attempts = 1
	return outcome
}

func TestDefaultWriterOptions(t *testing.T) {
	opts := DefaultWriterOptions()

	if opts.OutputDir != "outputs" {
		t.Errorf("Expected output dir 'outputs', got '%s'", opts.OutputDir)
	}
	if opts.ExcelBOM {
		t.Error("Expected ExcelBOM to be false")
	}
}

func TestTaskFileName(t *testing.T) {
	if got := TaskFileName(exam.ZhEn); got != "result_zh_en.csv" {
		t.Errorf("TaskFileName(zh_en) = %s", got)
	}
	if got := TaskFileName(exam.EnZh); got != "result_en_zh.csv" {
		t.Errorf("TaskFileName(en_zh) = %s", got)
	}
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "outputs")
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	written, err := writer.WriteAll(testOutcome(), exam.AllTasks)
	if err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	wantFiles := []string{
		filepath.Join(dir, "result_zh_en.csv"),
		filepath.Join(dir, "result_en_zh.csv"),
		filepath.Join(dir, "result_combine.csv"),
	}
	if !reflect.DeepEqual(written, wantFiles) {
		t.Errorf("written = %v, want %v", written, wantFiles)
	}

	zhEn := testutil.ReadCSV(t, wantFiles[0])
	wantZhEn := [][]string{
		{"index", "source_text", "translated_text", "error"},
		{"1", "你好，世界", "Hello, world", ""},
		{"2", "他说：\"走吧\"", "", "timeout: deadline exceeded"},
	}
	if !reflect.DeepEqual(zhEn, wantZhEn) {
		t.Errorf("zh_en rows = %v, want %v", zhEn, wantZhEn)
	}

	enZh := testutil.ReadCSV(t, wantFiles[1])
	if len(enZh) != 2 || enZh[1][2] != "你好，世界" {
		t.Errorf("Unexpected en_zh rows: %v", enZh)
	}

	combined := testutil.ReadCSV(t, wantFiles[2])
	wantCombined := [][]string{
		{"task", "index", "source_text", "translated_text", "error"},
		{"zh_en", "1", "你好，世界", "Hello, world", ""},
		{"zh_en", "2", "他说：\"走吧\"", "", "timeout: deadline exceeded"},
		{"en_zh", "1", "Hello, world", "你好，世界", ""},
	}
	if !reflect.DeepEqual(combined, wantCombined) {
		t.Errorf("combined rows = %v, want %v", combined, wantCombined)
	}
}

func TestWriteAll_TaskOrder(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	tasks := []exam.Task{exam.EnZh, exam.ZhEn}
	if _, err := writer.WriteAll(testOutcome(), tasks); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	combined := testutil.ReadCSV(t, filepath.Join(dir, CombinedFileName))
	if combined[1][0] != "en_zh" || combined[2][0] != "zh_en" {
		t.Errorf("Combined rows not in configured task order: %v", combined)
	}
}

func TestWriteAll_SingleTask(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	if _, err := writer.WriteAll(testOutcome(), []exam.Task{exam.EnZh}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	testutil.AssertFileNotExists(t, filepath.Join(dir, "result_zh_en.csv"))
	combined := testutil.ReadCSV(t, filepath.Join(dir, CombinedFileName))
	if len(combined) != 2 {
		t.Errorf("Expected header and 1 row, got %d rows", len(combined))
	}
}

func TestWriteAll_EmptyTask(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	outcome := dispatch.NewOutcome(exam.NewBatch(), exam.AllTasks)
	if _, err := writer.WriteAll(outcome, exam.AllTasks); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	rows := testutil.ReadCSV(t, filepath.Join(dir, "result_zh_en.csv"))
	if len(rows) != 1 {
		t.Errorf("Expected only the header, got %v", rows)
	}
}

func TestWriteAll_ExcelBOM(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(&WriterOptions{OutputDir: dir, ExcelBOM: true}, zerolog.Nop())

	if _, err := writer.WriteAll(testOutcome(), exam.AllTasks); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "result_en_zh.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, utf8BOM) {
		t.Error("Expected UTF-8 BOM prefix")
	}
	if !bytes.HasPrefix(data[len(utf8BOM):], []byte("index,source_text")) {
		t.Errorf("Header does not follow the BOM: %q", data[:20])
	}
}

func TestWriteAll_OutputDirIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "outputs")
	testutil.CreateTestFile(t, blocker, []byte("not a directory"))
	writer := NewWriter(&WriterOptions{OutputDir: blocker}, zerolog.Nop())

	_, err := writer.WriteAll(testOutcome(), exam.AllTasks)

	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Expected *WriteError, got %T: %v", err, err)
	}
	if writeErr.Path != blocker {
		t.Errorf("WriteError.Path = %s, want %s", writeErr.Path, blocker)
	}
}

func TestWriteAll_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory in place of the combined file makes the last write fail
	if err := os.Mkdir(filepath.Join(dir, CombinedFileName), 0755); err != nil {
		t.Fatal(err)
	}
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	written, err := writer.WriteAll(testOutcome(), exam.AllTasks)

	var writeErr *WriteError
	if !errors.As(err, &writeErr) || writeErr.Op != "create" {
		t.Fatalf("Expected create WriteError, got %v", err)
	}
	if len(written) != 2 {
		t.Errorf("Expected both task files to be reported, got %v", written)
	}
	testutil.AssertFileExists(t, filepath.Join(dir, "result_zh_en.csv"))
	testutil.AssertFileExists(t, filepath.Join(dir, "result_en_zh.csv"))
}

func TestWriteError(t *testing.T) {
	cause := os.ErrPermission
	err := &WriteError{Path: "/out/x.csv", Op: "create", Err: cause}

	if err.Error() != "failed to create /out/x.csv: permission denied" {
		t.Errorf("Error() = %s", err.Error())
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("WriteError should unwrap to its cause")
	}
}

func TestWriteCombined_UnsentRows(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(&WriterOptions{OutputDir: dir}, zerolog.Nop())

	batch := exam.Batch{exam.ZhEn: {{Task: exam.ZhEn, Source: "一"}, {Task: exam.ZhEn, Index: 1, Source: "二"}}}
	outcome := dispatch.NewOutcome(batch, []exam.Task{exam.ZhEn})
	outcome.Results[exam.ZhEn][0].Text = "one"
	outcome.Results[exam.ZhEn][1].Err = &translation.Error{Kind: translation.KindCancelled, Err: context.Canceled}

	if _, err := writer.WriteCombined(outcome, []exam.Task{exam.ZhEn}); err != nil {
		t.Fatal(err)
	}

	rows := testutil.ReadCSV(t, filepath.Join(dir, CombinedFileName))
	if rows[2][4] != "cancelled: context canceled" {
		t.Errorf("Unsent row error = %q", rows[2][4])
	}
}

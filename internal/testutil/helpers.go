package testutil

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// CreateTestFile creates a test file with content
func CreateTestFile(t *testing.T, path string, content []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory for test file: %v", err)
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to create test file %s: %v", path, err)
	}
}

// WriteExam writes an exam file with the given task blocks into dir and
// returns its path. Each block's lines are written verbatim, so comments
// and blank lines can be included.
func WriteExam(t *testing.T, dir string, zhEn, enZh []string) string {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("<exam>\n<zh_en>\n")
	for _, line := range zhEn {
		sb.WriteString(line + "\n")
	}
	sb.WriteString("</zh_en>\n<en_zh>\n")
	for _, line := range enZh {
		sb.WriteString(line + "\n")
	}
	sb.WriteString("</en_zh>\n</exam>\n")

	path := filepath.Join(dir, "exam.txt")
	CreateTestFile(t, path, []byte(sb.String()))
	return path
}

// ReadCSV reads all records of a CSV file, header included
func ReadCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open CSV %s: %v", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV %s: %v", path, err)
	}
	return records
}

// AssertFileExists checks if a file exists
func AssertFileExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file to exist: %s", path)
	}
}

// AssertFileNotExists checks if a file does not exist
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err == nil {
		t.Errorf("Expected file to not exist: %s", path)
	}
}

// AssertFileContains checks if a file contains a substring
func AssertFileContains(t *testing.T, path string, substring string) {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}

	if !strings.Contains(string(content), substring) {
		t.Errorf("File %s does not contain expected substring: %q", path, substring)
	}
}

package exam

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	examOpen  = "<exam>"
	examClose = "</exam>"

	commentMarker = "#"

	maxLineSize = 1024 * 1024
)

// ParseError reports a malformed exam file
type ParseError struct {
	Line int // 1-based line number, 0 when the problem is at end of input
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed exam file (line %d): %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("malformed exam file: %s", e.Msg)
}

// ParseFile reads and parses an exam file
func ParseFile(filename string) (Batch, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open exam file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse turns exam text into a batch of items. Task blocks are only
// recognised inside the <exam> container and everything after </exam>
// is ignored. Within a task block blank lines and lines starting with
// "#" are skipped.
func Parse(r io.Reader) (Batch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	batch := NewBatch()
	insideExam := false
	seenExam := false
	var current Task
	currentLine := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		if lineNo == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		line := strings.TrimSpace(raw)

		switch {
		case line == examOpen:
			if seenExam {
				return nil, &ParseError{Line: lineNo, Msg: "duplicate <exam> container"}
			}
			insideExam = true
			seenExam = true
			continue

		case line == examClose:
			if !insideExam {
				return nil, &ParseError{Line: lineNo, Msg: "</exam> without matching <exam>"}
			}
			if current != "" {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("</exam> while <%s> (line %d) is still open", current, currentLine)}
			}
			return batch, nil
		}

		if !insideExam {
			continue
		}

		if task, ok := openTag(line); ok {
			if current != "" {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("<%s> opened while <%s> (line %d) is still open", task, current, currentLine)}
			}
			current = task
			currentLine = lineNo
			continue
		}

		if task, ok := closeTag(line); ok {
			if current != task {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("</%s> without matching <%s>", task, task)}
			}
			current = ""
			continue
		}

		if current == "" {
			continue
		}

		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}

		batch[current] = append(batch[current], Item{
			Task:   current,
			Index:  len(batch[current]),
			LineNo: lineNo,
			Source: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exam file: %w", err)
	}

	if current != "" {
		return nil, &ParseError{Msg: fmt.Sprintf("unclosed <%s> block opened at line %d", current, currentLine)}
	}
	if insideExam {
		return nil, &ParseError{Msg: "missing </exam>"}
	}
	return nil, &ParseError{Msg: "missing <exam> container"}
}

func openTag(line string) (Task, bool) {
	for _, task := range AllTasks {
		if line == "<"+string(task)+">" {
			return task, true
		}
	}
	return "", false
}

func closeTag(line string) (Task, bool) {
	for _, task := range AllTasks {
		if line == "</"+string(task)+">" {
			return task, true
		}
	}
	return "", false
}

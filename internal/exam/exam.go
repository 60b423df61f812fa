package exam

import (
	"fmt"
	"strings"
)

// Task identifies a translation direction
type Task string

const (
	// ZhEn translates Chinese source text into English
	ZhEn Task = "zh_en"
	// EnZh translates English source text into Simplified Chinese
	EnZh Task = "en_zh"
)

// AllTasks lists every task in canonical output order
var AllTasks = []Task{ZhEn, EnZh}

// Valid reports whether t is a known task
func (t Task) Valid() bool {
	return t == ZhEn || t == EnZh
}

// String returns the task name as used in tags, flags and file names
func (t Task) String() string {
	return string(t)
}

// ParseTasks parses a comma separated task list such as "zh_en,en_zh".
// Empty entries are ignored; unknown or duplicated tasks are an error.
func ParseTasks(raw string) ([]Task, error) {
	var tasks []Task
	seen := make(map[Task]bool)

	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		task := Task(token)
		if !task.Valid() {
			return nil, fmt.Errorf("unsupported task: %s", token)
		}
		if seen[task] {
			return nil, fmt.Errorf("duplicate task: %s", token)
		}
		seen[task] = true
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks selected")
	}
	return tasks, nil
}

// Item is a single line to translate
type Item struct {
	Task   Task
	Index  int    // 0-based position within its task, in file order
	LineNo int    // 1-based line number in the exam file
	Source string // source text, trimmed
}

// Batch maps each task to its ordered items
type Batch map[Task][]Item

// NewBatch returns a batch with an empty sequence for every known task
func NewBatch() Batch {
	b := make(Batch, len(AllTasks))
	for _, task := range AllTasks {
		b[task] = []Item{}
	}
	return b
}

// Len returns the number of items for a task
func (b Batch) Len(task Task) int {
	return len(b[task])
}

// Total returns the number of items across the given tasks
func (b Batch) Total(tasks []Task) int {
	total := 0
	for _, task := range tasks {
		total += len(b[task])
	}
	return total
}

package dispatch

import (
	"context"
	"time"

	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/translation"
)

// Outcome holds the results of a run, one slot per input item and in input
// order for every task
type Outcome struct {
	Tasks   []exam.Task
	Results map[exam.Task][]translation.Result

	// Cancelled is set when the run context was cancelled
	Cancelled bool
	// BudgetExceeded is set when the time budget stopped submission
	BudgetExceeded bool
	Elapsed        time.Duration

	submitted map[exam.Task][]bool
}

// TaskCounts summarises one task of an outcome
type TaskCounts struct {
	Total     int
	Succeeded int
	Failed    int
	Unsent    int // cancelled or stopped by the budget
}

// NewOutcome creates an outcome with one empty slot per item of the given tasks
func NewOutcome(batch exam.Batch, tasks []exam.Task) *Outcome {
	o := &Outcome{
		Tasks:     tasks,
		Results:   make(map[exam.Task][]translation.Result, len(tasks)),
		submitted: make(map[exam.Task][]bool, len(tasks)),
	}
	for _, task := range tasks {
		o.Results[task] = make([]translation.Result, len(batch[task]))
		o.submitted[task] = make([]bool, len(batch[task]))
		for slot, item := range batch[task] {
			o.Results[task][slot].Item = item
		}
	}
	return o
}

// Total returns the number of result slots
func (o *Outcome) Total() int {
	n := 0
	for _, task := range o.Tasks {
		n += len(o.Results[task])
	}
	return n
}

// Counts returns the per-task summary
func (o *Outcome) Counts(task exam.Task) TaskCounts {
	var c TaskCounts
	for _, res := range o.Results[task] {
		c.Total++
		if res.OK() {
			c.Succeeded++
			continue
		}
		c.Failed++
		if Unsent(res) {
			c.Unsent++
		}
	}
	return c
}

// Succeeded returns the number of translated items across all tasks
func (o *Outcome) Succeeded() int {
	n := 0
	for _, task := range o.Tasks {
		n += o.Counts(task).Succeeded
	}
	return n
}

// Failed returns the number of failed or unsent items across all tasks
func (o *Outcome) Failed() int {
	n := 0
	for _, task := range o.Tasks {
		n += o.Counts(task).Failed
	}
	return n
}

// Unsent reports whether res was synthesized for an item that was never sent
func Unsent(res translation.Result) bool {
	if res.Err == nil || res.Attempts > 0 {
		return false
	}
	return res.Err.Kind == translation.KindCancelled || res.Err.Kind == translation.KindBudgetExhausted
}

func (o *Outcome) unsent() int {
	n := 0
	for _, task := range o.Tasks {
		for _, sent := range o.submitted[task] {
			if !sent {
				n++
			}
		}
	}
	return n
}

// fillUnsent gives every item that never reached a worker a result
func (o *Outcome) fillUnsent() {
	kind, cause := translation.KindCancelled, context.Canceled
	if o.BudgetExceeded {
		kind, cause = translation.KindBudgetExhausted, context.DeadlineExceeded
	}

	for _, task := range o.Tasks {
		for slot, sent := range o.submitted[task] {
			if sent {
				continue
			}
			res := &o.Results[task][slot]
			res.Err = &translation.Error{Kind: kind, Err: cause}
		}
	}
}

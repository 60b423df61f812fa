package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/translation"
)

// Translator translates a single item. Implementations report failures in
// the returned Result instead of returning an error.
type Translator interface {
	Translate(ctx context.Context, item exam.Item) translation.Result
}

// ProgressFunc is called after every completed item with the number of
// completed items and the number of items in the run
type ProgressFunc func(done, total int)

// DefaultWorkers is used when Options.Workers is not positive
const DefaultWorkers = 4

// Options configures a Dispatcher
type Options struct {
	Workers  int
	Budget   time.Duration // soft limit on submission time, 0 for none
	Progress ProgressFunc
}

// Dispatcher fans items out to a Translator
type Dispatcher struct {
	translator Translator
	opts       Options
	logger     zerolog.Logger
}

// New creates a dispatcher
func New(translator Translator, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Dispatcher{
		translator: translator,
		opts:       opts,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Workers returns the size of the worker pool
func (d *Dispatcher) Workers() int {
	return d.opts.Workers
}

type job struct {
	item exam.Item
	slot int
}

// Run translates every item of the given tasks and returns the results in
// input order. It returns once all submitted items have completed. After
// ctx is cancelled no further item is sent and translators start no new
// attempts, while requests already on the wire finish.
func (d *Dispatcher) Run(ctx context.Context, batch exam.Batch, tasks []exam.Task) *Outcome {
	start := time.Now()
	outcome := NewOutcome(batch, tasks)
	total := outcome.Total()

	submitCtx := ctx
	if d.opts.Budget > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, d.opts.Budget)
		defer cancel()
	}

	d.logger.Info().
		Int("items", total).
		Int("workers", d.opts.Workers).
		Dur("budget", d.opts.Budget).
		Msg("Dispatching translations")

	var (
		mu   sync.Mutex
		done int

		progressMu sync.Mutex
		reported   int
	)
	complete := func(res translation.Result, slot int) {
		mu.Lock()
		outcome.Results[res.Item.Task][slot] = res
		done++
		n := done
		mu.Unlock()

		if d.opts.Progress == nil {
			return
		}
		// Reports every count once and in order, outside the results lock
		progressMu.Lock()
		defer progressMu.Unlock()
		for reported < n {
			reported++
			d.opts.Progress(reported, total)
		}
	}

	queue := make(chan job)
	var g errgroup.Group

	g.Go(func() error {
		defer close(queue)
		for _, task := range tasks {
			for slot, item := range batch[task] {
				// Checked first so a stopped run never sends another item
				if submitCtx.Err() != nil {
					return nil
				}
				select {
				case queue <- job{item: item, slot: slot}:
					outcome.submitted[task][slot] = true
				case <-submitCtx.Done():
					return nil
				}
			}
		}
		return nil
	})

	for w := 0; w < d.opts.Workers; w++ {
		g.Go(func() error {
			for j := range queue {
				res := d.translator.Translate(ctx, j.item)
				res.Item = j.item
				if !res.OK() {
					d.logFailure(res)
				}
				complete(res, j.slot)
			}
			return nil
		})
	}

	_ = g.Wait()

	switch {
	case ctx.Err() != nil:
		outcome.Cancelled = true
	case submitCtx.Err() != nil && outcome.unsent() > 0:
		outcome.BudgetExceeded = true
	}
	outcome.fillUnsent()
	outcome.Elapsed = time.Since(start)

	d.logger.Info().
		Int("succeeded", outcome.Succeeded()).
		Int("failed", outcome.Failed()).
		Bool("cancelled", outcome.Cancelled).
		Bool("budget_exceeded", outcome.BudgetExceeded).
		Dur("elapsed", outcome.Elapsed).
		Msg("Dispatch finished")

	return outcome
}

func (d *Dispatcher) logFailure(res translation.Result) {
	d.logger.Error().
		Str("task", res.Item.Task.String()).
		Int("line", res.Item.LineNo).
		Str("source", truncate(res.Item.Source, 40)).
		Str("kind", string(res.Err.Kind)).
		Int("attempts", res.Attempts).
		Err(res.Err.Err).
		Msg("Translation failed")
}

// LogProgress returns a ProgressFunc that logs roughly every tenth of the run
func LogProgress(logger zerolog.Logger) ProgressFunc {
	return func(done, total int) {
		step := total / 10
		if step == 0 {
			step = 1
		}
		if done%step != 0 && done != total {
			return
		}
		logger.Info().
			Int("done", done).
			Int("total", total).
			Str("percent", fmt.Sprintf("%.0f%%", 100*float64(done)/float64(total))).
			Msg("Progress")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

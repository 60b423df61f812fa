package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"codeberg.org/snonux/transbench/internal"
	"codeberg.org/snonux/transbench/internal/archive"
	"codeberg.org/snonux/transbench/internal/config"
	"codeberg.org/snonux/transbench/internal/dispatch"
	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/report"
	"codeberg.org/snonux/transbench/internal/sampling"
	"codeberg.org/snonux/transbench/internal/translation"
)

// Processor runs one benchmark
type Processor struct {
	config     *config.Config
	translator dispatch.Translator
	runID      string
	logger     zerolog.Logger
	out        io.Writer
	now        func() time.Time
}

// Summary describes a finished run
type Summary struct {
	RunID          string
	Tasks          []exam.Task
	Counts         map[exam.Task]dispatch.TaskCounts
	Files          []string
	ArchivedTo     string
	Cancelled      bool
	BudgetExceeded bool
	Elapsed        time.Duration
}

// Failed returns the number of items without a translation
func (s *Summary) Failed() int {
	n := 0
	for _, c := range s.Counts {
		n += c.Failed
	}
	return n
}

// NewProcessor creates a processor translating through the configured
// endpoint. An empty runID is derived from the model and start time.
func NewProcessor(cfg *config.Config, runID string, logger zerolog.Logger) (*Processor, error) {
	client, err := translation.NewClient(cfg.TranslationConfig(), logger)
	if err != nil {
		return nil, err
	}
	return NewProcessorWithTranslator(cfg, client, runID, logger), nil
}

// NewProcessorWithTranslator creates a processor on top of any Translator
func NewProcessorWithTranslator(cfg *config.Config, translator dispatch.Translator, runID string, logger zerolog.Logger) *Processor {
	return &Processor{
		config:     cfg,
		translator: translator,
		runID:      runID,
		logger:     logger.With().Str("component", "processor").Logger(),
		out:        os.Stdout,
		now:        time.Now,
	}
}

// SetOutput redirects the summary printed at the end of a run
func (p *Processor) SetOutput(w io.Writer) {
	p.out = w
}

// Run executes the benchmark. Parse, archive and write failures are
// returned as errors; per-item failures are part of the Summary. A
// cancelled ctx stops submitting new items, and the partial results are
// still written.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	start := p.now()
	if p.runID == "" {
		p.runID = internal.GenerateRunID(p.config.Model, start)
	}
	summary := &Summary{RunID: p.runID, Tasks: p.config.Tasks}

	batch, err := exam.ParseFile(p.config.InputFile)
	if err != nil {
		return nil, err
	}
	for _, task := range p.config.Tasks {
		p.logger.Info().Str("task", task.String()).Int("items", batch.Len(task)).Msg("Parsed exam")
	}

	sampled := sampling.SampleBatch(batch, p.config.Limits, p.config.Seed)
	for _, task := range p.config.Tasks {
		if sampled.Len(task) != batch.Len(task) {
			p.logger.Info().
				Str("task", task.String()).
				Int("sampled", sampled.Len(task)).
				Int("available", batch.Len(task)).
				Int64("seed", p.config.Seed).
				Msg("Sampled items")
		}
	}

	if p.config.Archive {
		archived, err := archive.ArchiveOutputs(p.config.OutputDir, start)
		if err != nil {
			return nil, err
		}
		if archived != "" {
			p.logger.Info().Str("path", archived).Msg("Archived previous outputs")
		}
		summary.ArchivedTo = archived
	}

	d := dispatch.New(p.translator, dispatch.Options{
		Workers:  p.config.Workers,
		Budget:   p.config.Budget,
		Progress: dispatch.LogProgress(p.logger),
	}, p.logger)
	outcome := d.Run(ctx, sampled, p.config.Tasks)

	summary.Cancelled = outcome.Cancelled
	summary.BudgetExceeded = outcome.BudgetExceeded
	summary.Counts = make(map[exam.Task]dispatch.TaskCounts, len(p.config.Tasks))
	for _, task := range p.config.Tasks {
		summary.Counts[task] = outcome.Counts(task)
	}

	writer := report.NewWriter(&report.WriterOptions{
		OutputDir: p.config.OutputDir,
		ExcelBOM:  p.config.ExcelBOM,
	}, p.logger)
	summary.Files, err = writer.WriteAll(outcome, p.config.Tasks)
	if err != nil {
		return summary, err
	}

	if p.config.History != "" {
		if err := p.recordHistory(ctx, start, outcome); err != nil {
			return summary, err
		}
	}

	summary.Elapsed = p.now().Sub(start)
	p.printSummary(summary)
	return summary, nil
}

func (p *Processor) recordHistory(ctx context.Context, start time.Time, outcome *dispatch.Outcome) error {
	history, err := report.OpenHistory(p.config.History)
	if err != nil {
		return err
	}
	defer history.Close()

	run := report.RunInfo{
		RunID:     p.runID,
		Model:     p.config.Model,
		BaseURL:   p.config.BaseURL,
		StartedAt: start,
		Seed:      p.config.Seed,
		Workers:   p.config.Workers,
		Settings:  p.config.Settings(),
	}
	// Interrupted runs are recorded too
	if err := history.Record(context.WithoutCancel(ctx), run, outcome); err != nil {
		return err
	}

	p.logger.Info().Str("path", history.Path()).Msg("Recorded run history")
	return nil
}

func (p *Processor) printSummary(s *Summary) {
	fmt.Fprintf(p.out, "\n=== Translation Benchmark Summary ===\n")
	fmt.Fprintf(p.out, "Run: %s\n", s.RunID)
	fmt.Fprintf(p.out, "Model: %s\n", p.config.Model)
	for _, task := range s.Tasks {
		c := s.Counts[task]
		fmt.Fprintf(p.out, "%s: %d items, %d succeeded, %d failed", task, c.Total, c.Succeeded, c.Failed)
		if c.Unsent > 0 {
			fmt.Fprintf(p.out, " (%d not sent)", c.Unsent)
		}
		fmt.Fprintln(p.out)
	}
	if s.Cancelled {
		fmt.Fprintf(p.out, "Run interrupted: partial results written\n")
	}
	if s.BudgetExceeded {
		fmt.Fprintf(p.out, "Time budget of %s exhausted\n", p.config.Budget)
	}
	fmt.Fprintf(p.out, "Elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(p.out, "Results: %s\n", p.config.OutputDir)
	fmt.Fprintf(p.out, "=====================================\n")
}

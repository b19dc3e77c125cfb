package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mailkite/filtra/logger"
	"github.com/mailkite/filtra/pkg/metrics"
)

// Engine holds a compiled, immutable ruleset and applies it to messages.
// One Engine is safe for concurrent use across workers.
type Engine struct {
	filters []*Filter
	runner  Runner
	dryRun  bool
}

// Options configures an Engine.
type Options struct {
	// Runner spawns external commands; defaults to ExecRunner.
	Runner Runner
	// DryRun evaluates matches without mutating tags, running commands,
	// deleting files or persisting anything.
	DryRun bool
}

// New compiles the filters and returns an Engine. Compilation is fail-fast:
// any invalid definition or pattern aborts before any message is processed.
func New(filters []*Filter, opts Options) (*Engine, error) {
	if err := Compile(filters); err != nil {
		return nil, err
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Engine{filters: filters, runner: runner, dryRun: opts.DryRun}, nil
}

// Filters returns the engine's ruleset in application order.
func (e *Engine) Filters() []*Filter { return e.filters }

// MessageResult is the outcome of one message's filter pass.
type MessageResult struct {
	ID      string
	Path    string
	Matched []string // ordered names of the filters that matched
	Deleted bool     // a matched filter deleted the message file
	Errors  []error  // non-fatal per-filter errors (resolution, command)
	Err     error    // fatal for this message only (storage failure)
}

// Apply runs the full ruleset against one message, strictly in order,
// mutating the view's tag set as filters match. Later filters observe
// earlier mutations; a filter is applied at most once and skipped filters
// are never revisited, even if a later mutation would have made them match.
// Per-filter failures count as non-matches and never abort the pass.
func (e *Engine) Apply(ctx context.Context, v *View) *MessageResult {
	res := &MessageResult{ID: v.msg.ID(), Path: v.msg.Path()}

	for _, f := range e.filters {
		ok, err := f.Match(v)
		if err != nil {
			var resolveErr *ResolveError
			if errors.As(err, &resolveErr) && resolveErr.Filter == "" {
				resolveErr.Filter = f.DisplayName()
			}
			logger.Warn("Filter evaluation failed, treating as non-match",
				"filter", f.DisplayName(), "message", res.ID, "error", err)
			res.Errors = append(res.Errors, err)
			metrics.ResolveErrorsTotal.Inc()
			continue
		}
		if !ok {
			continue
		}

		res.Matched = append(res.Matched, f.DisplayName())
		metrics.FiltersMatchedTotal.WithLabelValues(f.DisplayName()).Inc()
		logger.Debug("Filter matched", "filter", f.DisplayName(), "message", res.ID)

		if e.dryRun {
			continue
		}
		e.execute(ctx, f, v, res)
		if res.Deleted {
			// The file is gone; nothing left for later filters to read.
			break
		}
	}
	return res
}

// RunOptions configures one batch run.
type RunOptions struct {
	// QueryTag selects the messages to process (default "new"). It is
	// removed from each message after its pass unless KeepQueryTag is set.
	QueryTag string
	// Workers bounds batch concurrency (default 1).
	Workers int
	// KeepQueryTag leaves the query tag in place after processing.
	KeepQueryTag bool
}

// Summary is the per-run result surface: counts plus per-message results.
// Mutations already applied are never rolled back; Failed counts messages
// whose tag state could not be persisted.
type Summary struct {
	Processed int
	Matched   int
	Failed    int
	Duration  time.Duration
	Results   []*MessageResult
}

// Run processes every message carrying the query tag. Thread-tag snapshots
// are taken for the whole batch in a read-only pass before any message is
// filtered, so sibling mutations in this run never leak into @thread-tags
// and messages can be processed in any order. Each worker exclusively owns
// its message's tag set; the compiled ruleset and the snapshot table are the
// only shared state, both read-only. One message's failure never aborts the
// batch.
func (e *Engine) Run(ctx context.Context, src Source, opts RunOptions) (*Summary, error) {
	start := time.Now()
	if opts.QueryTag == "" {
		opts.QueryTag = "new"
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	msgs, err := src.Enumerate(ctx, opts.QueryTag)
	if err != nil {
		return nil, fmt.Errorf("enumerating messages tagged %q: %w", opts.QueryTag, err)
	}
	if workers > len(msgs) && len(msgs) > 0 {
		workers = len(msgs)
	}
	logger.Info("Starting filter run",
		"messages", len(msgs), "filters", len(e.filters),
		"query_tag", opts.QueryTag, "workers", workers, "dry_run", e.dryRun)

	// Read-only snapshot pass, one index query per thread.
	threadTags := make(map[string][]string)
	for _, msg := range msgs {
		tid := msg.ThreadID()
		if _, ok := threadTags[tid]; ok {
			continue
		}
		tags, err := src.ThreadTags(ctx, msg)
		if err != nil {
			logger.Warn("Thread tag snapshot failed",
				"message", msg.ID(), "thread", tid, "error", err)
			tags = nil
		}
		threadTags[tid] = tags
	}

	jobs := make(chan Message)
	var (
		mu      sync.Mutex
		results = make([]*MessageResult, 0, len(msgs))
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				res := e.processMessage(ctx, src, msg, threadTags[msg.ThreadID()], opts)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, msg := range msgs {
		select {
		case jobs <- msg:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	summary := &Summary{Results: results, Duration: time.Since(start)}
	for _, res := range results {
		summary.Processed++
		if len(res.Matched) > 0 {
			summary.Matched++
		}
		status := "ok"
		if res.Err != nil {
			summary.Failed++
			status = "failed"
		}
		metrics.MessagesProcessedTotal.WithLabelValues(status).Inc()
	}
	metrics.RunDuration.Observe(summary.Duration.Seconds())
	logger.Info("Filter run finished",
		"processed", summary.Processed, "matched", summary.Matched,
		"failed", summary.Failed, "duration", summary.Duration)
	return summary, nil
}

// processMessage runs one message's pass and persists the outcome. Storage
// failures mark this message failed; the rest of the batch proceeds.
func (e *Engine) processMessage(ctx context.Context, src Source, msg Message, threadTags []string, opts RunOptions) *MessageResult {
	view := NewView(msg, threadTags)
	res := e.Apply(ctx, view)

	if e.dryRun {
		return res
	}
	if res.Deleted {
		if err := src.RemoveMessage(ctx, msg); err != nil {
			res.Err = fmt.Errorf("removing deleted message from index: %w", err)
		}
		return res
	}
	if !opts.KeepQueryTag {
		view.Tags().Remove(opts.QueryTag)
	}
	if err := src.SetTags(ctx, msg, view.Tags().List()); err != nil {
		res.Err = fmt.Errorf("persisting tags: %w", err)
		logger.Error("Persisting tags failed", "message", msg.ID(), "error", err)
	}
	return res
}

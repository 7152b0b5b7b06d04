package ingest

import (
	"context"
	"errors"
	"fmt"
)

// BackfillStore drives bounded runs for one tenant until its history window
// is exhausted, a run stages zero new records, or the iteration ceiling is
// hit. Progress survives interruption: every run checkpoints per page, so a
// restarted backfill resumes where the last one stopped.
func (s *Service) BackfillStore(ctx context.Context, domain string, opts BackfillOptions) (BackfillResult, error) {
	store, ok := s.registry.Lookup(domain)
	if !ok {
		return BackfillResult{}, fmt.Errorf("%w: %q", ErrUnknownStore, domain)
	}
	return s.backfillStore(ctx, store, opts)
}

// BackfillAll backfills every tenant in registration order. A failed tenant
// never stops the others; failures come back joined.
func (s *Service) BackfillAll(ctx context.Context, opts BackfillOptions) ([]BackfillResult, error) {
	var (
		results []BackfillResult
		errs    error
	)
	for _, store := range s.registry.All() {
		result, err := s.backfillStore(ctx, store, opts)
		results = append(results, result)
		if err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return results, errs
}

func (s *Service) backfillStore(ctx context.Context, store Store, opts BackfillOptions) (BackfillResult, error) {
	result := BackfillResult{StoreDomain: store.Domain}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	runOpts := RunOptions{WindowDays: opts.WindowDays, Reset: opts.Reset}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		run, err := s.runStore(ctx, store, runOpts)
		result.Iterations++
		result.Pages += run.Pages
		result.Records += run.Records
		if err != nil {
			return result, err
		}

		// Only the first iteration may reset the cursor; later iterations
		// must resume from it or the loop would re-walk page one forever.
		runOpts.Reset = false

		if run.Exhausted {
			result.Completed = true
			return result, nil
		}
		if run.Records == 0 {
			// A full page count with nothing staged means the upstream is
			// feeding us empty pages; stop rather than spin.
			result.Completed = true
			return result, nil
		}
	}

	return result, nil
}

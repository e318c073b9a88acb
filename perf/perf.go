// Package perf implements the Performance Wrapper (spec §4.12): it wraps a
// named operation, measures elapsed wall-clock time, logs one line on
// completion, and warns when a declared per-operation budget is exceeded.
package perf

import (
	"context"
	"log/slog"
	"time"
)

// Budgets is the one table of operational (not business) thresholds spec
// §4.12 requires. Keys are operation names as passed to Wrap.
type Budgets map[string]time.Duration

// DefaultBudgets are the operation budgets this server ships with; callers
// may override any entry via config (SPEC_FULL.md §A).
func DefaultBudgets() Budgets {
	return Budgets{
		"analyze_risk_local":    50 * time.Millisecond,
		"analyze_risk_upstream": 5 * time.Second,
		"check_dependencies":    50 * time.Millisecond,
		"create_snapshot":       200 * time.Millisecond,
		"restore_snapshot":      500 * time.Millisecond,
		"resolve_library_id":    3 * time.Second,
		"get_library_docs":      3 * time.Second,
	}
}

// Wrapper times named operations against Budgets and logs accordingly.
type Wrapper struct {
	budgets Budgets
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Wrapper. A nil logger defaults to slog.Default(); a nil
// budgets map uses DefaultBudgets.
func New(budgets Budgets, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Wrapper{budgets: budgets, logger: logger, now: time.Now}
}

// Wrap runs fn, measuring elapsed wall-clock time, then logs completion
// (and a warning if the named operation's budget, when declared, was
// exceeded).
func (w *Wrapper) Wrap(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := w.now()
	err := fn(ctx)
	elapsed := w.now().Sub(start)

	budget, hasBudget := w.budgets[operation]
	switch {
	case hasBudget && elapsed > budget:
		w.logger.WarnContext(ctx, "operation exceeded budget",
			"operation", operation, "elapsed_ms", elapsed.Milliseconds(), "budget_ms", budget.Milliseconds())
	default:
		w.logger.DebugContext(ctx, "operation completed",
			"operation", operation, "elapsed_ms", elapsed.Milliseconds())
	}

	return err
}

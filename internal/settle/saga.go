package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bullionworks/trade-engine/internal/metrics"
)

// sagaStep is one mutating settlement step paired with its compensating
// action. Compensations must be safe to run after a partial failure.
type sagaStep struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error // nil if the step needs no unwind
}

// runSaga executes steps in order. On failure, the already-applied steps are
// compensated in reverse order and the original step error is returned.
// Compensation failures are best-effort: logged and counted, never masking
// the original error.
func runSaga(ctx context.Context, steps []sagaStep) error {
	for i, step := range steps {
		if err := step.run(ctx); err != nil {
			slog.Error("settlement step failed, compensating",
				"step", step.name, "applied", i, "err", err)

			for j := i - 1; j >= 0; j-- {
				comp := steps[j]
				if comp.compensate == nil {
					continue
				}
				if cerr := comp.compensate(ctx); cerr != nil {
					metrics.CompensationFailures.Inc()
					slog.Error("compensation failed, manual reconciliation required",
						"step", comp.name, "err", cerr)
				}
			}
			metrics.SettlementCompensations.Inc()
			return fmt.Errorf("settle: step %s: %w", step.name, err)
		}
	}
	return nil
}

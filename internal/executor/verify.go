package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

type verification struct {
	yesDone   bool
	noDone    bool
	yesFilled float64
	noFilled  float64
	why       string
}

func (v verification) ok() bool {
	return v.yesDone && v.noDone
}

// verifyFills polls both legs up to FillCheckAttempts times, waiting
// FillCheckDelay before each round. A leg that reaches CANCELLED or REJECTED
// without filling ends the verification early.
func (e *Executor) verifyFills(ctx context.Context, req domain.PlacementRequest, yesID, noID string) verification {
	var v verification
	for attempt := 1; attempt <= e.cfg.FillCheckAttempts; attempt++ {
		if err := e.sleep(ctx, e.cfg.FillCheckDelay); err != nil {
			v.why = fmt.Sprintf("interrupted: %v", err)
			return v
		}

		if !v.yesDone {
			st, err := e.pollStatus(ctx, yesID)
			if err != nil {
				v.why = fmt.Sprintf("YES status: %v", err)
			} else {
				v.yesFilled = st.FilledOr(req.Size)
				v.yesDone = st.IsFilled(req.Size)
				if !v.yesDone && st.Status.Terminal() {
					v.why = fmt.Sprintf("YES %s", st.Status)
					return v
				}
			}
		}
		if !v.noDone {
			st, err := e.pollStatus(ctx, noID)
			if err != nil {
				v.why = fmt.Sprintf("NO status: %v", err)
			} else {
				v.noFilled = st.FilledOr(req.Size)
				v.noDone = st.IsFilled(req.Size)
				if !v.noDone && st.Status.Terminal() {
					v.why = fmt.Sprintf("NO %s", st.Status)
					return v
				}
			}
		}

		slog.Debug("executor: fill check", "market", req.MarketID, "attempt", attempt,
			"yes_filled", v.yesFilled, "no_filled", v.noFilled)
		if v.ok() {
			return v
		}
	}
	if v.why == "" {
		v.why = "budget exhausted"
	}
	return v
}

// pollStatus retries transport errors with exponential backoff. Status reads
// are idempotent, unlike submissions.
func (e *Executor) pollStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	var lastErr error
	for i := 0; i <= e.cfg.StatusRetries; i++ {
		if i > 0 {
			wait := e.cfg.RetryBackoff * time.Duration(1<<(i-1))
			if err := e.sleep(ctx, wait); err != nil {
				return domain.OrderState{}, err
			}
		}
		st, err := e.api.OrderStatus(ctx, orderID)
		if err == nil {
			return st, nil
		}
		lastErr = err
		slog.Debug("executor: status poll failed", "id", orderID, "try", i+1, "err", err)
	}
	return domain.OrderState{}, fmt.Errorf("status %s after %d tries: %w", orderID, e.cfg.StatusRetries+1, lastErr)
}

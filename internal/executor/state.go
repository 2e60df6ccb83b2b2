package executor

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// placement tracks one attempt through the state machine.
type placement struct {
	res domain.PlacementResult
	now func() time.Time
}

func newPlacement(id string, req domain.PlacementRequest, now func() time.Time) *placement {
	start := now()
	return &placement{
		res: domain.PlacementResult{
			ID:        id,
			Request:   req,
			State:     domain.StateValidating,
			StartedAt: start,
		},
		now: now,
	}
}

// to moves to the next state. An edge outside the table is a bug in the
// executor, not a runtime condition.
func (p *placement) to(next domain.PlacementState) {
	from := p.res.State
	if !domain.CanTransition(from, next) {
		panic(fmt.Sprintf("executor: illegal transition %s -> %s", from, next))
	}
	p.res.State = next
	p.res.Transitions = append(p.res.Transitions, domain.Transition{From: from, To: next, At: p.now()})
}

// fail ends the attempt in FAILED with the given outcome.
func (p *placement) fail(outcome domain.PlacementOutcome, reason string) domain.PlacementResult {
	p.to(domain.StateFailed)
	p.res.Outcome = outcome
	p.res.Reason = reason
	return p.finish()
}

// fill ends the attempt in FILLED.
func (p *placement) fill() domain.PlacementResult {
	p.to(domain.StateFilled)
	p.res.Outcome = domain.OutcomeFilled
	return p.finish()
}

func (p *placement) finish() domain.PlacementResult {
	p.res.Elapsed = p.now().Sub(p.res.StartedAt)
	return p.res
}

package domain

import (
	"fmt"
	"time"
)

// PlacementState is a node of the dual-order state machine.
type PlacementState string

const (
	StateValidating      PlacementState = "VALIDATING"
	StateYesPending      PlacementState = "YES_PENDING"
	StateNoPending       PlacementState = "NO_PENDING"
	StateVerifying       PlacementState = "VERIFYING"
	StateCancelingOrphan PlacementState = "CANCELING_ORPHAN"
	StateCancelingBoth   PlacementState = "CANCELING_BOTH"
	StateFilled          PlacementState = "FILLED"
	StateFailed          PlacementState = "FAILED"
)

// Terminal returns true for FILLED and FAILED.
func (s PlacementState) Terminal() bool {
	return s == StateFilled || s == StateFailed
}

var placementEdges = map[PlacementState][]PlacementState{
	StateValidating:      {StateYesPending, StateFailed},
	StateYesPending:      {StateNoPending, StateFailed},
	StateNoPending:       {StateVerifying, StateCancelingOrphan},
	StateVerifying:       {StateFilled, StateCancelingBoth},
	StateCancelingOrphan: {StateFailed},
	StateCancelingBoth:   {StateFailed},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to PlacementState) bool {
	for _, next := range placementEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureClass groups outcomes by how the caller should react.
type FailureClass string

const (
	ClassNone          FailureClass = ""
	ClassValidation    FailureClass = "validation"
	ClassAdmission     FailureClass = "admission"
	ClassTransient     FailureClass = "transient"
	ClassInconsistency FailureClass = "inconsistency"
)

// PlacementOutcome is the strongly-typed terminal result of a placement.
type PlacementOutcome string

const (
	// OutcomeFilled: both legs verified filled and registered.
	OutcomeFilled PlacementOutcome = "FILLED"
	// OutcomeRejected: bad price, size, duplicate market or cap. No network call.
	OutcomeRejected PlacementOutcome = "REJECTED"
	// OutcomeDenied: kill switch, breaker or risk limit. No network call.
	OutcomeDenied PlacementOutcome = "DENIED"
	// OutcomeYesFailed: YES submission failed, NO never submitted.
	OutcomeYesFailed PlacementOutcome = "YES_FAILED"
	// OutcomeOrphanCancelled: NO failed, YES cancelled.
	OutcomeOrphanCancelled PlacementOutcome = "ORPHAN_CANCELLED"
	// OutcomeOrphanCancelFailed: NO failed and YES may still be resting.
	OutcomeOrphanCancelFailed PlacementOutcome = "ORPHAN_CANCEL_FAILED"
	// OutcomeUnconfirmedCancelled: fills not confirmed, both cancels succeeded.
	OutcomeUnconfirmedCancelled PlacementOutcome = "UNCONFIRMED_CANCELLED"
	// OutcomeUnconfirmedCancelFailed: fills not confirmed and a cancel failed.
	OutcomeUnconfirmedCancelFailed PlacementOutcome = "UNCONFIRMED_CANCEL_FAILED"
)

// Class maps an outcome to its failure class.
// Any path that involved an orphaned or unverified leg is an inconsistency,
// even when the cancel succeeded: the operator must know a leg was exposed.
func (o PlacementOutcome) Class() FailureClass {
	switch o {
	case OutcomeFilled:
		return ClassNone
	case OutcomeRejected:
		return ClassValidation
	case OutcomeDenied:
		return ClassAdmission
	case OutcomeYesFailed:
		return ClassTransient
	default:
		return ClassInconsistency
	}
}

// LeavesExposure returns true when a resting order may remain on the venue.
func (o PlacementOutcome) LeavesExposure() bool {
	return o == OutcomeOrphanCancelFailed || o == OutcomeUnconfirmedCancelFailed
}

// PlacementRequest describes one dual-order attempt.
type PlacementRequest struct {
	MarketID string
	YesToken string
	NoToken  string
	Size     float64
	YesPrice float64
	NoPrice  float64
}

// TotalCost is size·(yes_price + no_price).
func (r PlacementRequest) TotalCost() float64 {
	return r.Size * (r.YesPrice + r.NoPrice)
}

// Transition is one recorded edge.
type Transition struct {
	From PlacementState
	To   PlacementState
	At   time.Time
}

// PlacementResult is the full record of a placement attempt.
type PlacementResult struct {
	ID        string
	Request   PlacementRequest
	State     PlacementState
	Outcome   PlacementOutcome
	Reason    string
	YesOrder  string
	NoOrder   string
	YesFilled float64
	NoFilled  float64
	Delta     float64 // yes_filled − no_filled, only set on success
	Position  *Position

	// Cancel errors are kept as text so the result can be persisted and logged.
	YesCancelErr string
	NoCancelErr  string

	Transitions []Transition
	StartedAt   time.Time
	Elapsed     time.Duration
}

// Success returns true only for FILLED.
func (r PlacementResult) Success() bool {
	return r.Outcome == OutcomeFilled
}

// Class is shorthand for r.Outcome.Class().
func (r PlacementResult) Class() FailureClass {
	return r.Outcome.Class()
}

func (r PlacementResult) String() string {
	return fmt.Sprintf("%s market=%s yes=%s no=%s reason=%q",
		r.Outcome, r.Request.MarketID, r.YesOrder, r.NoOrder, r.Reason)
}

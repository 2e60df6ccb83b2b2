// Package executor places a YES bid and a NO bid as a single unit: either
// both legs end verified filled and registered in the ledger, or no leg is
// left resting without its hedge.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
	"github.com/alejandrodnm/deltamaker/internal/ports"
)

// Config controls validation bounds and the verification budget.
type Config struct {
	MinPrice          float64
	MaxPrice          float64
	MaxPositionSize   float64 // 0 disables
	MaxOpenPositions  int     // 0 disables
	FillCheckAttempts int
	FillCheckDelay    time.Duration
	StatusRetries     int           // extra attempts per status poll on transport errors
	RetryBackoff      time.Duration // base for exponential backoff between status retries
	CancelTimeout     time.Duration
	WalletAddress     string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinPrice:          0.01,
		MaxPrice:          0.99,
		MaxPositionSize:   100,
		MaxOpenPositions:  5,
		FillCheckAttempts: 3,
		FillCheckDelay:    2 * time.Second,
		StatusRetries:     2,
		RetryBackoff:      250 * time.Millisecond,
		CancelTimeout:     10 * time.Second,
	}
}

// RiskGate is the part of the risk monitor the executor depends on.
type RiskGate interface {
	Halted(ctx context.Context) (bool, string)
	CanOpenPosition(ctx context.Context, marketID string, size float64) (bool, string)
	RecordPositionOpened(ctx context.Context, marketID string, size float64) error
	RecordExecutionFailure(ctx context.Context, level domain.AlertLevel, category, message string) error
	CheckDelta(ctx context.Context, delta, totalExposure float64) bool
}

// Ledger is the part of the position ledger the executor depends on.
type Ledger interface {
	Has(marketID string) bool
	Count() int
	AddPosition(marketID string, yesSize, noSize, yesPrice, noPrice float64) (domain.Position, error)
	Exposure() domain.Exposure
}

var errEmptyAck = errors.New("venue returned an empty order id")

// Executor runs dual-order placements. One mutex covers admission,
// submission, verification and registration, so two placements can never
// both pass an exposure check only one of them fits in.
type Executor struct {
	cfg     Config
	api     ports.OrderAPI
	risk    RiskGate
	ledger  Ledger
	balance ports.BalanceSource
	store   ports.PlacementStore

	mu          sync.Mutex
	balanceOnce sync.Once
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	newID       func() string
}

// New creates an executor. balance and store may be nil.
func New(cfg Config, api ports.OrderAPI, risk RiskGate, ledger Ledger, balance ports.BalanceSource, store ports.PlacementStore) *Executor {
	def := DefaultConfig()
	if cfg.MinPrice <= 0 {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MaxPrice <= 0 || cfg.MaxPrice >= 1 {
		cfg.MaxPrice = def.MaxPrice
	}
	if cfg.FillCheckAttempts <= 0 {
		cfg.FillCheckAttempts = def.FillCheckAttempts
	}
	if cfg.StatusRetries < 0 {
		cfg.StatusRetries = 0
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	return &Executor{
		cfg:     cfg,
		api:     api,
		risk:    risk,
		ledger:  ledger,
		balance: balance,
		store:   store,
		now:     time.Now,
		sleep:   sleepCtx,
		newID:   uuid.NewString,
	}
}

// PlaceDeltaNeutral places the YES and NO legs of req and returns the
// terminal result. It never returns an error: every failure is a result
// variant the caller can switch on.
func (e *Executor) PlaceDeltaNeutral(ctx context.Context, req domain.PlacementRequest) domain.PlacementResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := newPlacement(e.newID(), req, e.now)
	res := e.place(ctx, p)
	e.report(ctx, res)
	return res
}

func (e *Executor) place(ctx context.Context, p *placement) domain.PlacementResult {
	req := p.res.Request

	// 1. Kill switch / breaker: nothing goes to the venue.
	if halted, reason := e.risk.Halted(ctx); halted {
		return p.fail(domain.OutcomeDenied, reason)
	}

	// 2-3. Validation and caps.
	if err := e.validate(req); err != nil {
		return p.fail(domain.OutcomeRejected, err.Error())
	}
	if ok, reason := e.risk.CanOpenPosition(ctx, req.MarketID, req.Size); !ok {
		return p.fail(domain.OutcomeDenied, reason)
	}

	// 4. Balance (advisory).
	if ok, reason := e.checkBalance(ctx, req); !ok {
		return p.fail(domain.OutcomeRejected, reason)
	}

	// 5. YES leg.
	p.to(domain.StateYesPending)
	yesID, err := e.submit(ctx, e.leg(req, domain.OutcomeYes))
	if err != nil {
		reason := fmt.Sprintf("YES submit failed: %v", err)
		e.recordFailure(ctx, domain.AlertWarning, "yes_submit", req.MarketID, reason)
		return p.fail(domain.OutcomeYesFailed, reason)
	}
	p.res.YesOrder = yesID

	// 6. NO leg. On failure the YES leg is an orphan and must be cancelled.
	p.to(domain.StateNoPending)
	noID, err := e.submit(ctx, e.leg(req, domain.OutcomeNo))
	if err != nil {
		p.to(domain.StateCancelingOrphan)
		slog.Warn("executor: NO order failed, cancelling YES", "market", req.MarketID, "yes_id", yesID, "err", err)
		if cerr := e.cancel(ctx, yesID); cerr != nil {
			p.res.YesCancelErr = cerr.Error()
			reason := fmt.Sprintf("NO submit failed: %v; YES %s cancel failed: %v", err, yesID, cerr)
			e.recordFailure(ctx, domain.AlertCritical, "orphan_cancel_failed", req.MarketID, reason)
			return p.fail(domain.OutcomeOrphanCancelFailed, reason)
		}
		reason := fmt.Sprintf("NO submit failed: %v; YES %s cancelled", err, yesID)
		e.recordFailure(ctx, domain.AlertCritical, "orphan_cancelled", req.MarketID, reason)
		return p.fail(domain.OutcomeOrphanCancelled, reason)
	}
	p.res.NoOrder = noID

	// 7. Verification.
	p.to(domain.StateVerifying)
	v := e.verifyFills(ctx, req, yesID, noID)
	p.res.YesFilled, p.res.NoFilled = v.yesFilled, v.noFilled
	if !v.ok() {
		p.to(domain.StateCancelingBoth)
		yesErr := e.cancel(ctx, yesID)
		noErr := e.cancel(ctx, noID)
		if yesErr != nil {
			p.res.YesCancelErr = yesErr.Error()
		}
		if noErr != nil {
			p.res.NoCancelErr = noErr.Error()
		}
		reason := fmt.Sprintf("fills unconfirmed after %d checks (%s); yes_filled=%.2f no_filled=%.2f",
			e.cfg.FillCheckAttempts, v.why, v.yesFilled, v.noFilled)
		if yesErr != nil || noErr != nil {
			reason += fmt.Sprintf("; cancel errors yes=%v no=%v", yesErr, noErr)
			e.recordFailure(ctx, domain.AlertCritical, "unconfirmed_cancel_failed", req.MarketID, reason)
			return p.fail(domain.OutcomeUnconfirmedCancelFailed, reason)
		}
		e.recordFailure(ctx, domain.AlertCritical, "unconfirmed_cancelled", req.MarketID, reason)
		return p.fail(domain.OutcomeUnconfirmedCancelled, reason)
	}

	// 8. Registration.
	p.res.Delta = v.yesFilled - v.noFilled
	pos, err := e.ledger.AddPosition(req.MarketID, v.yesFilled, v.noFilled, req.YesPrice, req.NoPrice)
	if err != nil {
		// Both legs are on the book; the ledger must be fixed by hand.
		p.res.Reason = fmt.Sprintf("filled but not registered: %v", err)
		e.recordFailure(ctx, domain.AlertCritical, "ledger_register", req.MarketID, p.res.Reason)
	} else {
		p.res.Position = &pos
	}
	if err := e.risk.RecordPositionOpened(ctx, req.MarketID, math.Max(v.yesFilled, v.noFilled)); err != nil {
		slog.Error("executor: risk record failed", "market", req.MarketID, "err", err)
	}
	exp := e.ledger.Exposure()
	e.risk.CheckDelta(ctx, exp.Delta, exp.Total)
	return p.fill()
}

// validate checks price bounds, the price sum and the caps that do not
// depend on the risk monitor.
func (e *Executor) validate(req domain.PlacementRequest) error {
	if req.MarketID == "" || req.YesToken == "" || req.NoToken == "" {
		return errors.New("market id and both token ids are required")
	}
	for _, leg := range []struct {
		name  string
		price float64
	}{{"yes_price", req.YesPrice}, {"no_price", req.NoPrice}} {
		if leg.price < e.cfg.MinPrice || leg.price > e.cfg.MaxPrice {
			return fmt.Errorf("%s %.4f outside [%.2f, %.2f]: %w", leg.name, leg.price, e.cfg.MinPrice, e.cfg.MaxPrice, domain.ErrInvalidPrice)
		}
	}
	if err := domain.ValidatePair(req.Size, req.Size, req.YesPrice, req.NoPrice); err != nil {
		return err
	}
	if e.cfg.MaxPositionSize > 0 && req.Size > e.cfg.MaxPositionSize {
		return fmt.Errorf("size %.2f exceeds per-position cap %.2f", req.Size, e.cfg.MaxPositionSize)
	}
	if e.ledger.Has(req.MarketID) {
		return fmt.Errorf("%s: %w", req.MarketID, domain.ErrDuplicateMarket)
	}
	if e.cfg.MaxOpenPositions > 0 && e.ledger.Count()+1 > e.cfg.MaxOpenPositions {
		return fmt.Errorf("open positions cap %d reached", e.cfg.MaxOpenPositions)
	}
	return nil
}

func (e *Executor) checkBalance(ctx context.Context, req domain.PlacementRequest) (bool, string) {
	if e.balance == nil {
		e.balanceOnce.Do(func() {
			slog.Warn("executor: no balance source configured, balance check skipped")
		})
		return true, ""
	}
	bal, err := e.balance.AvailableBalance(ctx, e.cfg.WalletAddress)
	if err != nil {
		slog.Warn("executor: balance check failed, skipping", "market", req.MarketID, "err", err)
		return true, ""
	}
	cost := req.TotalCost()
	if cost > bal {
		return false, fmt.Sprintf("insufficient balance: cost $%.2f > available $%.2f", cost, bal)
	}
	return true, ""
}

func (e *Executor) leg(req domain.PlacementRequest, side domain.Outcome) domain.OrderRequest {
	o := domain.OrderRequest{MarketID: req.MarketID, Outcome: side, Size: req.Size}
	if side == domain.OutcomeYes {
		o.TokenID, o.Price = req.YesToken, req.YesPrice
	} else {
		o.TokenID, o.Price = req.NoToken, req.NoPrice
	}
	return o
}

// submit sends one order. Submissions are not idempotent and are never retried.
func (e *Executor) submit(ctx context.Context, o domain.OrderRequest) (string, error) {
	ack, err := e.api.SubmitOrder(ctx, o)
	if err != nil {
		return "", err
	}
	if ack.OrderID == "" {
		return "", errEmptyAck
	}
	slog.Debug("executor: order submitted", "market", o.MarketID, "side", o.Outcome, "id", ack.OrderID,
		"price", fmt.Sprintf("%.2f", o.Price), "size", fmt.Sprintf("%.2f", o.Size))
	return ack.OrderID, nil
}

// cancel makes exactly one attempt. It runs detached from ctx so a shutdown
// in the middle of a placement still tries to pull the resting legs.
func (e *Executor) cancel(ctx context.Context, orderID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
	defer cancel()
	if err := e.api.CancelOrder(cctx, orderID); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, level domain.AlertLevel, category, marketID, reason string) {
	msg := fmt.Sprintf("%s: %s", marketID, reason)
	if err := e.risk.RecordExecutionFailure(context.WithoutCancel(ctx), level, category, msg); err != nil {
		slog.Error("executor: risk record failed", "market", marketID, "err", err)
	}
}

// report logs, counts and persists a terminal result.
func (e *Executor) report(ctx context.Context, r domain.PlacementResult) {
	metrics.PlacementsTotal.WithLabelValues(string(r.Outcome)).Inc()
	metrics.PlacementDuration.Observe(r.Elapsed.Seconds())

	attrs := []any{
		"id", r.ID,
		"market", r.Request.MarketID,
		"outcome", r.Outcome,
		"yes_id", r.YesOrder,
		"no_id", r.NoOrder,
		"yes_price", fmt.Sprintf("%.2f", r.Request.YesPrice),
		"no_price", fmt.Sprintf("%.2f", r.Request.NoPrice),
		"size", fmt.Sprintf("%.2f", r.Request.Size),
		"yes_filled", fmt.Sprintf("%.2f", r.YesFilled),
		"no_filled", fmt.Sprintf("%.2f", r.NoFilled),
		"elapsed", r.Elapsed.Round(time.Millisecond),
	}
	if r.Reason != "" {
		attrs = append(attrs, "reason", r.Reason)
	}
	switch r.Class() {
	case domain.ClassNone:
		attrs = append(attrs, "delta", fmt.Sprintf("%.2f", r.Delta), "cost", fmt.Sprintf("$%.2f", r.Request.TotalCost()))
		slog.Info("executor: placement filled", attrs...)
	case domain.ClassValidation, domain.ClassAdmission:
		slog.Info("executor: placement rejected", attrs...)
	case domain.ClassTransient:
		slog.Warn("executor: placement failed", attrs...)
	default:
		slog.Error("executor: placement inconsistency", attrs...)
	}

	if e.store == nil {
		return
	}
	if err := e.store.SavePlacement(context.WithoutCancel(ctx), r); err != nil {
		slog.Warn("executor: save placement failed", "id", r.ID, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

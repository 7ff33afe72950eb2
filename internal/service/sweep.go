package service

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"carshare/internal/domain"
	"carshare/internal/redis"
)

const (
	defaultSweepBatch = 100
	maxSweepBatch     = 1000
)

// ExpiryPlan is the deterministic outcome of a booking that outlived its end date.
type ExpiryPlan struct {
	Next  *domain.Booking
	Void  bool
	Event domain.EventType
}

// PlanExpiry maps an expired, non-terminal booking to its terminal state. It
// performs no I/O; the returned plan is applied by the sweep.
func PlanExpiry(now time.Time, b *domain.Booking) (ExpiryPlan, bool) {
	if b.Status.IsTerminal() || !b.EndDate.Before(now) {
		return ExpiryPlan{}, false
	}

	next := b.Clone()
	plan := ExpiryPlan{Next: next}
	switch b.Status {
	case domain.BookingStatusPending:
		next.Status = domain.BookingStatusCancelled
		next.CancelReason = "expired before approval"
		plan.Event = domain.EventBookingAutoCancelled
	case domain.BookingStatusOnHold:
		next.Status = domain.BookingStatusNoShow
		next.Hold = nil
		plan.Event = domain.EventBookingNoShow
	case domain.BookingStatusConfirmed, domain.BookingStatusActive:
		next.Status = domain.BookingStatusCompleted
		if b.Status == domain.BookingStatusActive && next.TripEndedAt == nil {
			end := b.EndDate
			next.TripEndedAt = &end
		}
		plan.Event = domain.EventTripAutoCompleted
	default:
		return ExpiryPlan{}, false
	}
	// A terminal booking keeps no claim on an uncaptured hold.
	plan.Void = b.PaymentStatus == domain.PaymentStatusAuthorized
	return plan, true
}

// FallbackPlan is the outcome of a handoff whose host confirmation window elapsed.
type FallbackPlan struct {
	Next *domain.Booking
}

// PlanFallback reports whether b's handoff auto-fallback is due at now.
func PlanFallback(now time.Time, b *domain.Booking) (FallbackPlan, bool) {
	at := b.Handoff.AutoFallbackAt
	if b.Status != domain.BookingStatusConfirmed || b.HandoffStatus != domain.HandoffStatusGuestVerified {
		return FallbackPlan{}, false
	}
	if at == nil || at.After(now) || b.PastDeadline(now) {
		return FallbackPlan{}, false
	}

	next := b.Clone()
	next.Status = domain.BookingStatusActive
	next.HandoffStatus = domain.HandoffStatusComplete
	next.TripStartedAt = &now
	next.Handoff.CompletedAt = &now
	next.Handoff.CompletedBy = "system:auto-fallback"
	return FallbackPlan{Next: next}, true
}

// applyFallback commits a due auto-fallback. It is shared by lazy reads and the sweep.
func (d Deps) applyFallback(ctx context.Context, b *domain.Booking) (*domain.Booking, bool, error) {
	plan, ok := PlanFallback(d.Clock.Now(), b)
	if !ok {
		return b, false, nil
	}

	rec := d.record(b, domain.SystemActor, "handoff_auto_fallback", string(b.Status), string(plan.Next.Status),
		"host confirmation window elapsed")
	if err := d.commit(ctx, b, plan.Next, rec, nil); err != nil {
		return nil, false, err
	}

	d.Notifier.Notify(ctx, domain.EventTripStarted, plan.Next, notice{reason: "auto_fallback"})
	return plan.Next, true, nil
}

// SweepOptions restricts and shapes one sweep run.
type SweepOptions struct {
	Preview   bool     `json:"preview"`
	Codes     []string `json:"codes" validate:"max=500,dive,required,max=64"`
	BatchSize int      `json:"batch_size" validate:"gte=0,lte=1000"`
}

// SweepAction is one planned or applied transition.
type SweepAction struct {
	BookingID string               `json:"booking_id"`
	Code      string               `json:"code"`
	Kind      string               `json:"kind"` // expiry or fallback
	From      domain.BookingStatus `json:"from"`
	To        domain.BookingStatus `json:"to"`
	Voided    bool                 `json:"voided,omitempty"`
	Event     domain.EventType     `json:"event,omitempty"`
}

// SweepFailure is a booking the sweep could not transition. The next run retries it.
type SweepFailure struct {
	BookingID string `json:"booking_id"`
	Code      string `json:"code"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// SweepResult reports one run. Failures are collected, never raised.
type SweepResult struct {
	Preview    bool           `json:"preview"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Scanned    int            `json:"scanned"`
	Actions    []SweepAction  `json:"actions"`
	Failures   []SweepFailure `json:"failures"`
	More       bool           `json:"more"` // a full batch was read; run again to drain
}

// SweepService drives every booking past its end date to a terminal status and
// fires handoff fallbacks that came due.
type SweepService struct {
	Deps
	payments  *PaymentService
	batchSize int
	lockTTL   time.Duration
}

// NewSweepService creates a new SweepService.
func NewSweepService(deps Deps, payments *PaymentService, batchSize int, lockTTL time.Duration) *SweepService {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &SweepService{Deps: deps.withDefaults(), payments: payments, batchSize: batchSize, lockTTL: lockTTL}
}

// Run executes one bounded pass. A preview reports the planned transitions
// without touching the store or the gateway.
func (s *SweepService) Run(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	if err := validateStruct(opts); err != nil {
		return nil, err
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = s.batchSize
	}
	batch = min(batch, maxSweepBatch)

	if !opts.Preview && s.Locker != nil {
		token, ok, err := s.Locker.Acquire(ctx, redis.SweepLockKey, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			return nil, ErrSweepInProgress
		}
		defer func() {
			if err := s.Locker.Release(context.WithoutCancel(ctx), redis.SweepLockKey, token); err != nil {
				s.Log.WarnContext(ctx, "sweep lock release failed", "error", err)
			}
		}()
	}

	now := s.Clock.Now()
	res := &SweepResult{Preview: opts.Preview, StartedAt: now, Actions: []SweepAction{}, Failures: []SweepFailure{}}

	expired, err := s.Store.Bookings().ListExpired(ctx, now, opts.Codes, batch)
	if err != nil {
		return nil, fmt.Errorf("list expired bookings: %w", err)
	}
	res.Scanned += len(expired)
	res.More = len(expired) == batch

	for _, b := range expired {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, res), err
		}
		s.expire(ctx, now, b, opts.Preview, res)
	}

	due, err := s.Store.Bookings().ListFallbackDue(ctx, now, opts.Codes, batch)
	if err != nil {
		return nil, fmt.Errorf("list due handoff fallbacks: %w", err)
	}
	res.More = res.More || len(due) == batch
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, res), err
		}
		res.Scanned++
		s.fallback(ctx, now, b, opts.Preview, res)
	}

	return s.finish(ctx, res), nil
}

func (s *SweepService) expire(ctx context.Context, now time.Time, b *domain.Booking, preview bool, res *SweepResult) {
	plan, ok := PlanExpiry(now, b)
	if !ok {
		return
	}
	if preview {
		res.Actions = append(res.Actions, expiryAction(b, plan, plan.Void))
		return
	}

	var action SweepAction
	var committed *domain.Booking
	err := s.withBookingLock(ctx, b.ID, s.payments.lockTTL, func() error {
		cur, err := s.load(ctx, b.ID)
		if err != nil {
			return err
		}
		plan, ok := PlanExpiry(now, cur)
		if !ok {
			return nil
		}

		voided := false
		if plan.Void {
			if voided, err = s.payments.Void(ctx, cur); err != nil {
				return err
			}
		}
		if voided {
			plan.Next.PaymentStatus = domain.PaymentStatusVoided
		}

		rec := s.record(cur, domain.SystemActor, "sweep_expire", string(cur.Status), string(plan.Next.Status),
			fmt.Sprintf("end date %s passed", cur.EndDate.Format(time.RFC3339)))
		if err := s.commit(ctx, cur, plan.Next, rec, nil); err != nil {
			return err
		}
		action, committed = expiryAction(cur, plan, voided), plan.Next
		return nil
	})
	if err != nil {
		res.Failures = append(res.Failures, sweepFailure(b, "expiry", err))
		s.auditFailure(ctx, b.ID, domain.SystemActor, "sweep_expire", err)
		return
	}
	if committed == nil {
		return
	}

	res.Actions = append(res.Actions, action)
	s.Notifier.Notify(ctx, action.Event, committed, notice{reason: "end_date_passed"})
}

func (s *SweepService) fallback(ctx context.Context, now time.Time, b *domain.Booking, preview bool, res *SweepResult) {
	plan, ok := PlanFallback(now, b)
	if !ok {
		return
	}
	action := SweepAction{
		BookingID: b.ID,
		Code:      b.Code,
		Kind:      "fallback",
		From:      b.Status,
		To:        plan.Next.Status,
		Event:     domain.EventTripStarted,
	}
	if preview {
		res.Actions = append(res.Actions, action)
		return
	}

	_, applied, err := s.applyFallback(ctx, b)
	if err != nil {
		res.Failures = append(res.Failures, sweepFailure(b, "fallback", err))
		s.auditFailure(ctx, b.ID, domain.SystemActor, "handoff_auto_fallback", err)
		return
	}
	if !applied {
		return
	}
	res.Actions = append(res.Actions, action)
}

func (s *SweepService) finish(ctx context.Context, res *SweepResult) *SweepResult {
	res.FinishedAt = s.Clock.Now()

	if txn := newrelic.FromContext(ctx); txn != nil {
		txn.AddAttribute("sweep.preview", res.Preview)
		txn.AddAttribute("sweep.scanned", res.Scanned)
		txn.AddAttribute("sweep.actions", len(res.Actions))
		txn.AddAttribute("sweep.failures", len(res.Failures))
	}

	level := s.Log.InfoContext
	if len(res.Failures) > 0 {
		level = s.Log.WarnContext
	}
	level(ctx, "sweep finished",
		"preview", res.Preview,
		"scanned", res.Scanned,
		"actions", len(res.Actions),
		"failures", len(res.Failures),
		"more", res.More,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res
}

func expiryAction(b *domain.Booking, plan ExpiryPlan, voided bool) SweepAction {
	return SweepAction{
		BookingID: b.ID,
		Code:      b.Code,
		Kind:      "expiry",
		From:      b.Status,
		To:        plan.Next.Status,
		Voided:    voided,
		Event:     plan.Event,
	}
}

func sweepFailure(b *domain.Booking, kind string, err error) SweepFailure {
	return SweepFailure{BookingID: b.ID, Code: b.Code, Kind: kind, Error: fmt.Sprintf("%s: %v", Kind(err), err)}
}

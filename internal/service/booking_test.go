package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/repository"
	"carshare/internal/service"
)

// ──────────────────────────────────────────────
// 1. CREATION
// ──────────────────────────────────────────────

func TestCreate_AuthorizesAndPersistsPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	if b.Status != domain.BookingStatusPending {
		t.Errorf("status = %s, want PENDING", b.Status)
	}
	if b.PaymentStatus != domain.PaymentStatusAuthorized || b.PaymentIntentID == "" {
		t.Errorf("payment = %s/%q, want AUTHORIZED with an intent", b.PaymentStatus, b.PaymentIntentID)
	}
	if b.Fleet.Status != domain.ApprovalPending || b.Host.Status != domain.ApprovalPending {
		t.Error("both approvals must start PENDING")
	}
	if b.HostID != "host-1" || b.FleetID != "fleet-1" || b.VehicleName != "2022 Civic" {
		t.Errorf("vehicle parties not copied: %+v", b)
	}
	if b.Currency != "USD" {
		t.Errorf("currency = %q, want USD", b.Currency)
	}
	if h.gw.AuthorizeCalls != 1 {
		t.Errorf("AuthorizeCalls = %d, want 1", h.gw.AuthorizeCalls)
	}
	if h.committed(t, b.ID, "create") != 1 {
		t.Error("expected a create audit record")
	}

	byCode, err := h.bookings.GetByCode(context.Background(), b.Code)
	if err != nil || byCode.ID != b.ID {
		t.Fatalf("GetByCode(%s) = %v, %v", b.Code, byCode, err)
	}
}

func TestCreate_InstantBookStartsConfirmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-instant")

	if b.Status != domain.BookingStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", b.Status)
	}
	if b.PaymentStatus != domain.PaymentStatusAuthorized {
		t.Errorf("instant book must not capture before approval, payment = %s", b.PaymentStatus)
	}
}

func TestCreate_InvalidRequest_NothingAuthorized(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	now := h.clock.Now()

	testCases := []struct {
		name string
		req  service.CreateBookingRequest
	}{
		{"missing guest", service.CreateBookingRequest{GuestName: "G", VehicleID: "veh-1",
			StartDate: now.Add(time.Hour), EndDate: now.Add(2 * time.Hour), TotalAmount: 100}},
		{"end before start", service.CreateBookingRequest{GuestID: "g", GuestName: "G", VehicleID: "veh-1",
			StartDate: now.Add(2 * time.Hour), EndDate: now.Add(time.Hour), TotalAmount: 100}},
		{"zero amount", service.CreateBookingRequest{GuestID: "g", GuestName: "G", VehicleID: "veh-1",
			StartDate: now.Add(time.Hour), EndDate: now.Add(2 * time.Hour)}},
		{"end in the past", service.CreateBookingRequest{GuestID: "g", GuestName: "G", VehicleID: "veh-1",
			StartDate: now.Add(-2 * time.Hour), EndDate: now.Add(-time.Hour), TotalAmount: 100}},
	}

	for _, tc := range testCases {
		_, err := h.bookings.Create(context.Background(), tc.req)
		if !errors.Is(err, service.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if h.gw.AuthorizeCalls != 0 {
		t.Errorf("AuthorizeCalls = %d, want 0", h.gw.AuthorizeCalls)
	}
}

func TestCreate_UnknownVehicle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.bookings.Create(context.Background(), service.CreateBookingRequest{
		GuestID: "g", GuestName: "G", VehicleID: "nope",
		StartDate: t0.Add(time.Hour), EndDate: t0.Add(2 * time.Hour), TotalAmount: 100,
	})
	expectErr(t, err, repository.ErrNotFound)
}

// ──────────────────────────────────────────────
// 2. TWO-PARTY APPROVAL
// ──────────────────────────────────────────────

func TestDecideHost_BeforeFleet_IllegalTransition(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	_, err := h.bookings.DecideHost(context.Background(), host, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrIllegalTransition)

	after := h.get(t, b.ID)
	if after.Host.Status != domain.ApprovalPending || after.Version != b.Version {
		t.Error("rejected transition must not be partially applied")
	}
	if h.gw.CaptureCalls != 0 {
		t.Error("no capture may be attempted")
	}
	if fails := h.failures(t, b.ID); len(fails) != 1 || fails[0].ErrorKind != "illegal_transition" {
		t.Errorf("expected one audited illegal_transition, got %+v", fails)
	}
}

func TestDecideHost_ApproveCapturesPayment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	b := h.create(t, "veh-instant")
	h.approveFleet(t, b.ID)

	b, err := h.bookings.DecideHost(ctx, host, b.ID, service.Decision{Approve: true, Note: "see you"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Status != domain.BookingStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", b.Status)
	}
	if b.PaymentStatus != domain.PaymentStatusPaid {
		t.Errorf("payment = %s, want PAID", b.PaymentStatus)
	}
	if b.Host.Status != domain.ApprovalApproved || b.Host.DecidedAt == nil || b.Host.Actor != "host-1" {
		t.Errorf("host approval not recorded: %+v", b.Host)
	}
	if !h.gw.Captured(b.PaymentIntentID) {
		t.Error("gateway intent not captured")
	}

	v, _ := h.store.Vehicles().GetByID(ctx, "veh-instant")
	if v.TotalTrips != 1 || v.LastTripAt == nil {
		t.Errorf("vehicle counters not bumped: trips=%d", v.TotalTrips)
	}
	if h.pub.Count(domain.EventBookingConfirmed) != 1 {
		t.Errorf("BOOKING_CONFIRMED events = %d, want 1", h.pub.Count(domain.EventBookingConfirmed))
	}
}

func TestDecideHost_PendingBookingBecomesConfirmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	if b.Status != domain.BookingStatusConfirmed || b.PaymentStatus != domain.PaymentStatusPaid {
		t.Errorf("got %s/%s, want CONFIRMED/PAID", b.Status, b.PaymentStatus)
	}
	e, ok := h.pub.Last(domain.EventBookingConfirmed)
	if !ok {
		t.Fatal("no confirmation event")
	}
	if e.GuestName != "Gil Guest" || e.HostName != "Hana Host" || e.VehicleName != "2022 Civic" || e.Amount != 10000 {
		t.Errorf("event is missing denormalised context: %+v", e)
	}
}

func TestDecideHost_CaptureFailureKeepsApproval(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	b := h.create(t, "veh-1")
	h.approveFleet(t, b.ID)
	h.gw.FailCapture(b.PaymentIntentID, gateway.ErrAuthorizationExpired)

	_, err := h.bookings.DecideHost(ctx, host, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrCaptureFailed)
	expectErr(t, err, gateway.ErrAuthorizationExpired)

	after := h.get(t, b.ID)
	if after.Status != domain.BookingStatusPending || after.PaymentStatus != domain.PaymentStatusAuthorized {
		t.Errorf("booking must stay in its prior state, got %s/%s", after.Status, after.PaymentStatus)
	}
	if after.Host.Status != domain.ApprovalApproved {
		t.Error("host approval stays recorded for the operator retry")
	}
	if h.pub.Count(domain.EventCaptureFailed) != 1 {
		t.Error("expected a CAPTURE_FAILED event")
	}
	if h.gw.CaptureCalls != 1 {
		t.Errorf("capture must not be retried automatically, calls = %d", h.gw.CaptureCalls)
	}

	h.gw.FailCapture(b.PaymentIntentID, nil)
	retried, err := h.payments.Capture(ctx, operator, b.ID)
	if err != nil {
		t.Fatalf("operator retry: %v", err)
	}
	if retried.PaymentStatus != domain.PaymentStatusPaid || retried.Status != domain.BookingStatusConfirmed {
		t.Errorf("after retry got %s/%s", retried.Status, retried.PaymentStatus)
	}
}

func TestDecideHost_RejectCancelsAndVoids(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-instant")
	h.approveFleet(t, b.ID)

	b, err := h.bookings.DecideHost(context.Background(), host, b.ID, service.Decision{Approve: false, Note: "car in the shop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Status != domain.BookingStatusCancelled || b.PaymentStatus != domain.PaymentStatusVoided {
		t.Errorf("got %s/%s, want CANCELLED/VOIDED", b.Status, b.PaymentStatus)
	}
	if b.Host.Status != domain.ApprovalRejected || b.CancelReason != "car in the shop" {
		t.Errorf("rejection not recorded: %+v", b.Host)
	}
	if !h.gw.Voided(b.PaymentIntentID) {
		t.Error("authorization not voided")
	}
	e, ok := h.pub.Last(domain.EventBookingRejected)
	if !ok || len(e.Recipients) != 1 || e.Recipients[0] != guest.ID {
		t.Errorf("rejection must notify the guest, got %+v", e)
	}
}

func TestDecideFleet_Reject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	b, err := h.bookings.DecideFleet(context.Background(), fleet, b.ID, service.Decision{Approve: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != domain.BookingStatusCancelled || b.Fleet.Status != domain.ApprovalRejected {
		t.Errorf("got %s, fleet %s", b.Status, b.Fleet.Status)
	}

	_, err = h.bookings.DecideHost(context.Background(), host, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrIllegalTransition)
}

func TestDecideFleet_Twice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")
	h.approveFleet(t, b.ID)

	_, err := h.bookings.DecideFleet(context.Background(), fleet, b.ID, service.Decision{Approve: false})
	expectErr(t, err, service.ErrIllegalTransition)
}

func TestDecide_WrongParty_Forbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.create(t, "veh-1")

	_, err := h.bookings.DecideFleet(ctx, domain.Actor{Type: domain.ActorFleet, ID: "fleet-2"}, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrForbidden)

	_, err = h.bookings.DecideFleet(ctx, guest, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrForbidden)

	h.approveFleet(t, b.ID)
	_, err = h.bookings.DecideHost(ctx, domain.Actor{Type: domain.ActorHost, ID: "host-2"}, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrForbidden)
}

func TestDecideFleet_ConcurrentDecisions_OneWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			_, err := h.bookings.DecideFleet(context.Background(), fleet, b.ID, service.Decision{Approve: approve})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, service.ErrStaleState) && !errors.Is(err, service.ErrIllegalTransition) {
				t.Errorf("unexpected error kind: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	after := h.get(t, b.ID)
	if !after.Fleet.Decided() {
		t.Error("fleet decision lost")
	}
	if after.Version != b.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, b.Version+1)
	}
}

// ──────────────────────────────────────────────
// 3. HOLDS, CANCELLATION, COMPLETION
// ──────────────────────────────────────────────

func TestPlaceOnHold_AndRelease(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.create(t, "veh-1")

	_, err := h.bookings.PlaceOnHold(ctx, guest, b.ID, service.HoldRequest{Reason: "license mismatch"})
	expectErr(t, err, service.ErrForbidden)

	held, err := h.bookings.PlaceOnHold(ctx, operator, b.ID, service.HoldRequest{Reason: "license mismatch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if held.Status != domain.BookingStatusOnHold || held.Hold == nil {
		t.Fatalf("got %s with hold %v", held.Status, held.Hold)
	}
	if held.Hold.Reason != "license mismatch" || held.Hold.Actor != operator || !held.Hold.Deadline.Equal(b.EndDate) {
		t.Errorf("hold metadata = %+v", held.Hold)
	}

	_, err = h.bookings.DecideFleet(ctx, fleet, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrIllegalTransition)

	released, err := h.bookings.ReleaseHold(ctx, operator, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released.Status != domain.BookingStatusPending || released.Hold != nil {
		t.Errorf("got %s with hold %v", released.Status, released.Hold)
	}
}

func TestPlaceOnHold_DeadlineBeyondEnd_Invalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")
	deadline := b.EndDate.Add(time.Hour)

	_, err := h.bookings.PlaceOnHold(context.Background(), operator, b.ID, service.HoldRequest{Reason: "x", Deadline: &deadline})
	expectErr(t, err, service.ErrValidation)
}

func TestCancel_ByGuest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	b, err := h.bookings.Cancel(context.Background(), guest, b.ID, service.CancelRequest{Reason: "plans changed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != domain.BookingStatusCancelled || b.PaymentStatus != domain.PaymentStatusVoided {
		t.Errorf("got %s/%s", b.Status, b.PaymentStatus)
	}
	if h.pub.Count(domain.EventBookingCancelled) != 1 {
		t.Error("expected a cancellation event")
	}
}

func TestCancel_AfterCapture_IllegalTransition(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	_, err := h.bookings.Cancel(context.Background(), guest, b.ID, service.CancelRequest{Reason: "late"})
	expectErr(t, err, service.ErrIllegalTransition)
	if h.gw.VoidCalls != 0 {
		t.Error("a captured payment must never be voided")
	}
}

func TestCompleteTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-1")

	_, err := h.bookings.CompleteTrip(ctx, guest, b.ID)
	expectErr(t, err, service.ErrIllegalTransition)

	b = h.completed(t)
	if b.Status != domain.BookingStatusCompleted || b.TripEndedAt == nil {
		t.Errorf("got %s, ended %v", b.Status, b.TripEndedAt)
	}
	if h.pub.Count(domain.EventTripCompleted) != 1 {
		t.Error("expected a TRIP_COMPLETED event")
	}
}

// ──────────────────────────────────────────────
// 4. TERMINALITY AND DEADLINES
// ──────────────────────────────────────────────

func TestTerminalBookings_RejectEveryManualTransition(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.create(t, "veh-1")
	if _, err := h.bookings.Cancel(ctx, guest, b.ID, service.CancelRequest{Reason: "no"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := h.get(t, b.ID)

	attempts := map[string]func() error{
		"fleet decide": func() error {
			_, err := h.bookings.DecideFleet(ctx, fleet, b.ID, service.Decision{Approve: true})
			return err
		},
		"host decide": func() error {
			_, err := h.bookings.DecideHost(ctx, host, b.ID, service.Decision{Approve: true})
			return err
		},
		"hold": func() error {
			_, err := h.bookings.PlaceOnHold(ctx, operator, b.ID, service.HoldRequest{Reason: "x"})
			return err
		},
		"cancel": func() error {
			_, err := h.bookings.Cancel(ctx, guest, b.ID, service.CancelRequest{Reason: "again"})
			return err
		},
		"complete": func() error {
			_, err := h.bookings.CompleteTrip(ctx, guest, b.ID)
			return err
		},
		"capture": func() error {
			_, err := h.payments.Capture(ctx, operator, b.ID)
			return err
		},
		"arrive": func() error {
			_, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near())
			return err
		},
		"bypass": func() error {
			_, err := h.handoff.BypassHandoff(ctx, operator, b.ID, service.BypassRequest{Reason: "x"})
			return err
		},
	}

	for name, attempt := range attempts {
		if err := attempt(); !errors.Is(err, service.ErrIllegalTransition) {
			t.Errorf("%s: expected illegal transition, got %v", name, err)
		}
	}

	after := h.get(t, b.ID)
	if after.Status != domain.BookingStatusCancelled || after.Version != before.Version {
		t.Errorf("terminal booking changed: %s v%d -> v%d", after.Status, before.Version, after.Version)
	}
	if h.gw.VoidCalls != 1 {
		t.Errorf("VoidCalls = %d, want 1", h.gw.VoidCalls)
	}
}

func TestManualTransition_PastEndDate_StaleState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")
	h.clock.Advance(26 * time.Hour)

	_, err := h.bookings.DecideFleet(context.Background(), fleet, b.ID, service.Decision{Approve: true})
	expectErr(t, err, service.ErrStaleState)
	expectErr(t, err, service.ErrDeadlinePassed)
}

func TestHistory_ListsTrail(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	recs, err := h.bookings.History(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var actions []string
	for _, r := range recs {
		actions = append(actions, r.Action)
	}
	want := []string{"create", "fleet_approve", "host_approve", "capture"}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("actions = %v, want %v", actions, want)
			break
		}
	}
}

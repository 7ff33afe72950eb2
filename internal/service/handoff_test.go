package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carshare/internal/domain"
	"carshare/internal/service"
)

// ──────────────────────────────────────────────
// 1. LOCATION SENTINEL AND RANGE
// ──────────────────────────────────────────────

func TestVerifyGuestArrival_NullIsland_LocationUnavailable(t *testing.T) {
	t.Parallel()

	for _, vehicleID := range []string{"veh-1", "veh-null-island"} {
		h := newHarness(t)
		b := h.paid(t, vehicleID)

		_, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, service.ArrivalRequest{Lat: 0, Lng: 0})
		expectErr(t, err, service.ErrLocationUnavailable)

		after := h.get(t, b.ID)
		if after.HandoffStatus != domain.HandoffStatusPending || after.Version != b.Version {
			t.Errorf("%s: (0,0) must never verify, handoff = %s", vehicleID, after.HandoffStatus)
		}
		if h.pub.Count(domain.EventGuestArrived) != 0 {
			t.Errorf("%s: no arrival may be announced", vehicleID)
		}
	}
}

func TestVerifyGuestArrival_InvalidCoordinates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	for _, req := range []service.ArrivalRequest{{Lat: 91, Lng: 0.1}, {Lat: 10, Lng: -181}} {
		_, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, req)
		expectErr(t, err, service.ErrValidation)
	}
}

func TestVerifyGuestArrival_OutOfRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	_, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, far())
	expectErr(t, err, service.ErrOutOfRange)

	var oor *service.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("expected *OutOfRangeError, got %T", err)
	}
	if oor.DistanceMeters < 100 || oor.DistanceMeters > 120 || oor.RadiusMeters != 50 {
		t.Errorf("distance = %.1f radius = %.1f", oor.DistanceMeters, oor.RadiusMeters)
	}
	if h.get(t, b.ID).HandoffStatus != domain.HandoffStatusPending {
		t.Error("out of range must not verify")
	}
}

// ──────────────────────────────────────────────
// 2. ARRIVAL IDEMPOTENCY
// ──────────────────────────────────────────────

func TestVerifyGuestArrival_ThirtyMetres_VerifiedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-1")

	first, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.HandoffStatus != domain.HandoffStatusGuestVerified {
		t.Fatalf("handoff = %s, want GUEST_VERIFIED", first.HandoffStatus)
	}
	if first.Handoff.DistanceMeters < 29 || first.Handoff.DistanceMeters > 31 {
		t.Errorf("distance = %.2f, want about 30", first.Handoff.DistanceMeters)
	}
	if first.Handoff.VerifiedAt == nil || first.Handoff.ArrivalNotifiedAt == nil {
		t.Error("verification timestamps not recorded")
	}
	if first.Handoff.AutoFallbackAt != nil {
		t.Error("only instant-book vehicles get an auto-fallback deadline")
	}

	second, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near())
	if err != nil {
		t.Fatalf("second ping: %v", err)
	}
	if second.Version != first.Version {
		t.Error("second ping must not write")
	}
	if got := h.pub.Count(domain.EventGuestArrived); got != 1 {
		t.Errorf("GUEST_ARRIVED events = %d, want 1", got)
	}
	e, _ := h.pub.Last(domain.EventGuestArrived)
	if len(e.Recipients) != 1 || e.Recipients[0] != host.ID {
		t.Errorf("arrival must notify the host, got %v", e.Recipients)
	}
}

func TestVerifyGuestArrival_AlreadyVerified_OtherPartiesForbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-1")
	if _, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near()); err != nil {
		t.Fatalf("arrive: %v", err)
	}

	stranger := domain.Actor{Type: domain.ActorGuest, ID: "guest-2"}
	for _, actor := range []domain.Actor{host, fleet, stranger} {
		got, err := h.handoff.VerifyGuestArrival(ctx, actor, b.ID, near())
		expectErr(t, err, service.ErrForbidden)
		if got != nil {
			t.Errorf("%s:%s received the booking", actor.Type, actor.ID)
		}
	}
	if len(h.failures(t, b.ID)) != 3 {
		t.Errorf("failures = %d, want 3 audited", len(h.failures(t, b.ID)))
	}
}

func TestVerifyGuestArrival_ConcurrentPings_OneEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, near())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if got.HandoffStatus != domain.HandoffStatusGuestVerified {
				t.Errorf("handoff = %s", got.HandoffStatus)
			}
		}()
	}
	wg.Wait()

	if got := h.pub.Count(domain.EventGuestArrived); got != 1 {
		t.Errorf("GUEST_ARRIVED events = %d, want 1", got)
	}
	if got := h.committed(t, b.ID, "handoff_arrive"); got != 1 {
		t.Errorf("committed arrivals = %d, want 1", got)
	}
}

func TestVerifyGuestArrival_RequiresPaidBooking(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.create(t, "veh-1")

	_, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, near())
	expectErr(t, err, service.ErrIllegalTransition)
}

// ──────────────────────────────────────────────
// 3. GEOCODING
// ──────────────────────────────────────────────

func TestVerifyGuestArrival_GeocodesAndStoresVehicleLocation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-instant")

	got, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _ := h.store.Vehicles().GetByID(ctx, "veh-instant")
	if v.Location == nil || v.Location.Lat != vehicleLat {
		t.Errorf("geocoded location not stored: %v", v.Location)
	}

	want := h.clock.Now().Add(30 * time.Minute)
	if got.Handoff.AutoFallbackAt == nil || !got.Handoff.AutoFallbackAt.Equal(want) {
		t.Errorf("AutoFallbackAt = %v, want %v", got.Handoff.AutoFallbackAt, want)
	}
}

func TestVerifyGuestArrival_GeocodeFailure_LocationUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.paid(t, "veh-nowhere")

	_, err := h.handoff.VerifyGuestArrival(context.Background(), guest, b.ID, near())
	expectErr(t, err, service.ErrLocationUnavailable)
}

// ──────────────────────────────────────────────
// 4. CONFIRMATION, FALLBACK, BYPASS
// ──────────────────────────────────────────────

func TestConfirmHandoff_StartsTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-1")

	_, err := h.handoff.ConfirmHandoff(ctx, host, b.ID)
	expectErr(t, err, service.ErrIllegalTransition)

	if _, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near()); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	_, err = h.handoff.ConfirmHandoff(ctx, guest, b.ID)
	expectErr(t, err, service.ErrForbidden)

	got, err := h.handoff.ConfirmHandoff(ctx, host, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.BookingStatusActive || got.HandoffStatus != domain.HandoffStatusComplete || got.TripStartedAt == nil {
		t.Errorf("got %s/%s", got.Status, got.HandoffStatus)
	}
	if h.pub.Count(domain.EventTripStarted) != 1 {
		t.Error("expected TRIP_STARTED")
	}
}

func TestAutoFallback_AppliedLazilyOnRead(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-instant")
	if _, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near()); err != nil {
		t.Fatalf("arrive: %v", err)
	}

	h.clock.Advance(29 * time.Minute)
	got, err := h.bookings.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.BookingStatusConfirmed {
		t.Fatalf("fallback fired early: %s", got.Status)
	}

	h.clock.Advance(2 * time.Minute)
	got, err = h.bookings.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.BookingStatusActive || got.HandoffStatus != domain.HandoffStatusComplete {
		t.Fatalf("got %s/%s, want ACTIVE/HANDOFF_COMPLETE", got.Status, got.HandoffStatus)
	}
	if got.Handoff.CompletedBy != "system:auto-fallback" {
		t.Errorf("completed by = %q", got.Handoff.CompletedBy)
	}
	if h.get(t, b.ID).Status != domain.BookingStatusActive {
		t.Error("fallback must be persisted")
	}

	if _, err := h.bookings.Get(ctx, b.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := h.pub.Count(domain.EventTripStarted); got != 1 {
		t.Errorf("TRIP_STARTED events = %d, want 1", got)
	}
}

func TestBypassHandoff_OperatorOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.paid(t, "veh-1")

	_, err := h.handoff.BypassHandoff(ctx, host, b.ID, service.BypassRequest{Reason: "phone died"})
	expectErr(t, err, service.ErrForbidden)

	_, err = h.handoff.BypassHandoff(ctx, operator, b.ID, service.BypassRequest{})
	expectErr(t, err, service.ErrValidation)

	got, err := h.handoff.BypassHandoff(ctx, operator, b.ID, service.BypassRequest{Reason: "phone died"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.BookingStatusActive || got.HandoffStatus != domain.HandoffStatusBypassed {
		t.Errorf("got %s/%s", got.Status, got.HandoffStatus)
	}
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"carshare/internal/domain"
	"carshare/internal/gateway"
	"carshare/internal/geocode"
	"carshare/internal/logger"
	"carshare/internal/repository/memory"
	"carshare/internal/service"
)

// ──────────────────────────────────────────────
// FAKES
// ──────────────────────────────────────────────

// fakeClock is a settable clock shared by every service of a harness.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Count(t domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) Last(t domain.EventType) (domain.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == t {
			return p.events[i], true
		}
	}
	return domain.Event{}, false
}

func (p *recordingPublisher) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// memLocker mimics the redis SETNX lock.
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// Hold takes key on behalf of another process.
func (l *memLocker) Hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "someone-else"
}

// hookGateway runs onCharge once, before the first charge reaches the
// gateway, to interleave other work with an in-flight charge.
type hookGateway struct {
	*gateway.Local
	once     sync.Once
	onCharge func()
}

func (g *hookGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (string, error) {
	g.once.Do(g.onCharge)
	return g.Local.Charge(ctx, req)
}

// ──────────────────────────────────────────────
// HARNESS
// ──────────────────────────────────────────────

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

var (
	guest    = domain.Actor{Type: domain.ActorGuest, ID: "guest-1"}
	host     = domain.Actor{Type: domain.ActorHost, ID: "host-1"}
	fleet    = domain.Actor{Type: domain.ActorFleet, ID: "fleet-1"}
	operator = domain.Actor{Type: domain.ActorOperator, ID: "op-1"}
)

// Vehicle coordinates. 0.00027 degrees of latitude is about 30 metres.
const (
	vehicleLat = 37.7749
	vehicleLng = -122.4194
	nearOffset = 0.00027
	farOffset  = 0.001
)

type harness struct {
	store  *memory.Store
	gw     *gateway.Local
	pub    *recordingPublisher
	clock  *fakeClock
	locker *memLocker

	// onCharge, when set before wire, runs inside the first gateway charge.
	onCharge func()

	bookings *service.BookingService
	payments *service.PaymentService
	handoff  *service.HandoffService
	charges  *service.TripChargeService
	sweep    *service.SweepService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  memory.NewStore(),
		gw:     gateway.NewLocal(),
		pub:    &recordingPublisher{},
		clock:  &fakeClock{now: t0},
		locker: newMemLocker(),
	}
	h.wire(h.locker)

	ctx := context.Background()
	vehicles := []*domain.Vehicle{
		{ID: "veh-1", HostID: "host-1", HostName: "Hana Host", FleetID: "fleet-1", Name: "2022 Civic",
			Address: "500 Howard St", Location: &domain.GeoPoint{Lat: vehicleLat, Lng: vehicleLng}},
		{ID: "veh-instant", HostID: "host-1", HostName: "Hana Host", FleetID: "fleet-1", Name: "2023 Model 3",
			Address: "1 Market St", InstantBook: true},
		{ID: "veh-nowhere", HostID: "host-1", HostName: "Hana Host", FleetID: "fleet-1", Name: "1999 Corolla",
			Address: "Unknown Rd"},
		{ID: "veh-null-island", HostID: "host-1", HostName: "Hana Host", FleetID: "fleet-1", Name: "Buoy",
			Location: &domain.GeoPoint{Lat: 0, Lng: 0}},
	}
	for _, v := range vehicles {
		if err := h.store.Vehicles().Create(ctx, v); err != nil {
			t.Fatalf("seed vehicle %s: %v", v.ID, err)
		}
	}
	return h
}

// wire builds the services; a nil locker runs them without distributed locks.
func (h *harness) wire(locker *memLocker) {
	var gw gateway.Gateway = h.gw
	if h.onCharge != nil {
		gw = &hookGateway{Local: h.gw, onCharge: h.onCharge}
	}
	deps := service.Deps{
		Store:    h.store,
		Gateway:  gw,
		Notifier: service.NewNotificationService(h.pub, h.clock, logger.Nop()),
		Clock:    h.clock,
		Log:      logger.Nop(),
	}
	if locker != nil {
		deps.Locker = locker
	}

	geocoder := geocode.NewStatic(map[string]domain.GeoPoint{
		"1 Market St": {Lat: vehicleLat, Lng: vehicleLng},
	})

	h.payments = service.NewPaymentService(deps, time.Second)
	h.bookings = service.NewBookingService(deps, h.payments, "USD")
	h.handoff = service.NewHandoffService(deps, geocoder, service.HandoffConfig{RadiusMeters: 50, FallbackWindow: 30 * time.Minute})
	h.charges = service.NewTripChargeService(deps, 48*time.Hour, time.Second)
	h.sweep = service.NewSweepService(deps, h.payments, 100, time.Minute)
}

func (h *harness) create(t *testing.T, vehicleID string) *domain.Booking {
	t.Helper()
	b, err := h.bookings.Create(context.Background(), service.CreateBookingRequest{
		GuestID:       guest.ID,
		GuestName:     "Gil Guest",
		VehicleID:     vehicleID,
		StartDate:     h.clock.Now().Add(time.Hour),
		EndDate:       h.clock.Now().Add(25 * time.Hour),
		TotalAmount:   10000,
		DepositAmount: 2500,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (h *harness) approveFleet(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := h.bookings.DecideFleet(context.Background(), fleet, id, service.Decision{Approve: true})
	if err != nil {
		t.Fatalf("fleet approve: %v", err)
	}
	return b
}

// paid returns a CONFIRMED, PAID booking.
func (h *harness) paid(t *testing.T, vehicleID string) *domain.Booking {
	t.Helper()
	b := h.create(t, vehicleID)
	h.approveFleet(t, b.ID)
	b, err := h.bookings.DecideHost(context.Background(), host, b.ID, service.Decision{Approve: true})
	if err != nil {
		t.Fatalf("host approve: %v", err)
	}
	return b
}

// active returns a booking whose trip has started.
func (h *harness) active(t *testing.T) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	b := h.paid(t, "veh-1")
	if _, err := h.handoff.VerifyGuestArrival(ctx, guest, b.ID, near()); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	b, err := h.handoff.ConfirmHandoff(ctx, host, b.ID)
	if err != nil {
		t.Fatalf("confirm handoff: %v", err)
	}
	return b
}

// completed returns a finished, paid trip ready for charges.
func (h *harness) completed(t *testing.T) *domain.Booking {
	t.Helper()
	b := h.active(t)
	b, err := h.bookings.CompleteTrip(context.Background(), guest, b.ID)
	if err != nil {
		t.Fatalf("complete trip: %v", err)
	}
	return b
}

func (h *harness) get(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := h.store.Bookings().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	return b
}

// committed counts audit records of action that describe a committed change.
func (h *harness) committed(t *testing.T, bookingID, action string) int {
	t.Helper()
	recs, err := h.store.Audit().ListByBooking(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	n := 0
	for _, r := range recs {
		if r.Action == action && r.ErrorKind == "" {
			n++
		}
	}
	return n
}

func (h *harness) failures(t *testing.T, bookingID string) []*domain.AuditRecord {
	t.Helper()
	recs, err := h.store.Audit().ListByBooking(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	var out []*domain.AuditRecord
	for _, r := range recs {
		if r.ErrorKind != "" {
			out = append(out, r)
		}
	}
	return out
}

func near() service.ArrivalRequest {
	return service.ArrivalRequest{Lat: vehicleLat + nearOffset, Lng: vehicleLng}
}

func far() service.ArrivalRequest {
	return service.ArrivalRequest{Lat: vehicleLat + farOffset, Lng: vehicleLng}
}

func expectErr(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

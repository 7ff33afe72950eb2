// Package memory provides an in-process implementation of repository.Store.
// It backs local development and the service tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

type data struct {
	bookings map[string]*domain.Booking
	codes    map[string]string
	vehicles map[string]*domain.Vehicle
	charges  map[string]*domain.TripCharge // keyed by booking ID
	audit    []*domain.AuditRecord
}

func newData() *data {
	return &data{
		bookings: make(map[string]*domain.Booking),
		codes:    make(map[string]string),
		vehicles: make(map[string]*domain.Vehicle),
		charges:  make(map[string]*domain.TripCharge),
	}
}

// Stored values are never mutated in place, so a shallow copy is a snapshot.
func (d *data) snapshot() *data {
	return &data{
		bookings: cloneMap(d.bookings),
		codes:    cloneMap(d.codes),
		vehicles: cloneMap(d.vehicles),
		charges:  cloneMap(d.charges),
		audit:    slices.Clone(d.audit),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is a mutex-guarded repository.Store. A transaction holds the store
// lock for its whole duration and works on a snapshot that replaces the live
// data only if fn succeeds, so fn must use the repositories of the Tx it is
// given and never those of the Store.
type Store struct {
	mu sync.Mutex
	d  *data

	// Counters for verification
	BookingUpdateCount int32
	TxCount            int32

	// Error injection, keyed by booking ID.
	bookingUpdateErr map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{d: newData(), bookingUpdateErr: make(map[string]error)}
}

// FailBookingUpdate makes every Update of the given booking return err.
// A nil err clears the injection.
func (s *Store) FailBookingUpdate(bookingID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.bookingUpdateErr, bookingID)
		return
	}
	s.bookingUpdateErr[bookingID] = err
}

func (s *Store) Bookings() repository.BookingRepository { return &bookingRepo{view{s: s}} }
func (s *Store) Vehicles() repository.VehicleRepository { return &vehicleRepo{view{s: s}} }
func (s *Store) Charges() repository.TripChargeRepository { return &chargeRepo{view{s: s}} }
func (s *Store) Audit() repository.AuditRepository { return &auditRepo{view{s: s}} }

// WithinTx runs fn against a snapshot and publishes it only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	atomic.AddInt32(&s.TxCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.d.snapshot()
	if err := fn(&txScope{view{s: s, d: snap}}); err != nil {
		return err
	}
	s.d = snap
	return nil
}

type txScope struct{ v view }

func (t *txScope) Bookings() repository.BookingRepository { return &bookingRepo{t.v} }
func (t *txScope) Vehicles() repository.VehicleRepository { return &vehicleRepo{t.v} }
func (t *txScope) Charges() repository.TripChargeRepository { return &chargeRepo{t.v} }
func (t *txScope) Audit() repository.AuditRepository { return &auditRepo{t.v} }

// view resolves to the live data under the store lock, or to a transaction
// snapshot whose lock is already held.
type view struct {
	s *Store
	d *data
}

func (v view) with(fn func(d *data) error) error {
	if v.d != nil {
		return fn(v.d)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.d)
}

type bookingRepo struct{ view }

func (r *bookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	return r.with(func(d *data) error {
		if _, ok := d.bookings[b.ID]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := d.codes[b.Code]; ok {
			return repository.ErrDuplicate
		}
		d.bookings[b.ID] = b.Clone()
		d.codes[b.Code] = b.ID
		return nil
	})
}

func (r *bookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.with(func(d *data) error {
		b, ok := d.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = b.Clone()
		return nil
	})
	return out, err
}

func (r *bookingRepo) GetByCode(ctx context.Context, code string) (*domain.Booking, error) {
	var out *domain.Booking
	err := r.with(func(d *data) error {
		id, ok := d.codes[code]
		if !ok {
			return repository.ErrNotFound
		}
		out = d.bookings[id].Clone()
		return nil
	})
	return out, err
}

func (r *bookingRepo) Update(ctx context.Context, b *domain.Booking, expectedVersion int) error {
	atomic.AddInt32(&r.s.BookingUpdateCount, 1)
	return r.with(func(d *data) error {
		if err := r.s.bookingUpdateErr[b.ID]; err != nil {
			return err
		}
		cur, ok := d.bookings[b.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if cur.Version != expectedVersion {
			return repository.ErrVersionConflict
		}
		b.Version = expectedVersion + 1
		d.bookings[b.ID] = b.Clone()
		return nil
	})
}

func (r *bookingRepo) ListExpired(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error) {
	var out []*domain.Booking
	err := r.with(func(d *data) error {
		for _, b := range d.bookings {
			if b.Status.IsTerminal() || !b.EndDate.Before(now) {
				continue
			}
			if len(codes) > 0 && !slices.Contains(codes, b.Code) {
				continue
			}
			out = append(out, b.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.Booking) int { return a.EndDate.Compare(b.EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *bookingRepo) ListFallbackDue(ctx context.Context, now time.Time, codes []string, limit int) ([]*domain.Booking, error) {
	var out []*domain.Booking
	err := r.with(func(d *data) error {
		for _, b := range d.bookings {
			at := b.Handoff.AutoFallbackAt
			if b.Status != domain.BookingStatusConfirmed || b.HandoffStatus != domain.HandoffStatusGuestVerified {
				continue
			}
			if at == nil || at.After(now) {
				continue
			}
			if len(codes) > 0 && !slices.Contains(codes, b.Code) {
				continue
			}
			out = append(out, b.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.Booking) int {
		return a.Handoff.AutoFallbackAt.Compare(*b.Handoff.AutoFallbackAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type vehicleRepo struct{ view }

func (r *vehicleRepo) Create(ctx context.Context, v *domain.Vehicle) error {
	return r.with(func(d *data) error {
		if _, ok := d.vehicles[v.ID]; ok {
			return repository.ErrDuplicate
		}
		cp := copyVehicle(v)
		d.vehicles[v.ID] = cp
		return nil
	})
}

func (r *vehicleRepo) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	var out *domain.Vehicle
	err := r.with(func(d *data) error {
		v, ok := d.vehicles[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyVehicle(v)
		return nil
	})
	return out, err
}

func (r *vehicleRepo) UpdateLocation(ctx context.Context, id string, point domain.GeoPoint) error {
	return r.with(func(d *data) error {
		v, ok := d.vehicles[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := copyVehicle(v)
		cp.Location = &point
		d.vehicles[id] = cp
		return nil
	})
}

func (r *vehicleRepo) IncrementTrips(ctx context.Context, id string, at time.Time) error {
	return r.with(func(d *data) error {
		v, ok := d.vehicles[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := copyVehicle(v)
		cp.TotalTrips++
		cp.LastTripAt = &at
		d.vehicles[id] = cp
		return nil
	})
}

func copyVehicle(v *domain.Vehicle) *domain.Vehicle {
	cp := *v
	if v.Location != nil {
		loc := *v.Location
		cp.Location = &loc
	}
	if v.LastTripAt != nil {
		at := *v.LastTripAt
		cp.LastTripAt = &at
	}
	return &cp
}

type chargeRepo struct{ view }

func (r *chargeRepo) Create(ctx context.Context, c *domain.TripCharge) error {
	return r.with(func(d *data) error {
		if _, ok := d.charges[c.BookingID]; ok {
			return repository.ErrDuplicate
		}
		d.charges[c.BookingID] = c.Clone()
		return nil
	})
}

func (r *chargeRepo) GetByBookingID(ctx context.Context, bookingID string) (*domain.TripCharge, error) {
	var out *domain.TripCharge
	err := r.with(func(d *data) error {
		c, ok := d.charges[bookingID]
		if !ok {
			return repository.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *chargeRepo) Update(ctx context.Context, c *domain.TripCharge, expectedVersion int) error {
	return r.with(func(d *data) error {
		cur, ok := d.charges[c.BookingID]
		if !ok || cur.ID != c.ID {
			return repository.ErrNotFound
		}
		if cur.Version != expectedVersion {
			return repository.ErrVersionConflict
		}
		c.Version = expectedVersion + 1
		d.charges[c.BookingID] = c.Clone()
		return nil
	})
}

type auditRepo struct{ view }

func (r *auditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	return r.with(func(d *data) error {
		cp := *rec
		d.audit = append(d.audit, &cp)
		return nil
	})
}

func (r *auditRepo) ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditRecord, error) {
	var out []*domain.AuditRecord
	err := r.with(func(d *data) error {
		for _, rec := range d.audit {
			if rec.BookingID == bookingID {
				cp := *rec
				out = append(out, &cp)
			}
		}
		return nil
	})
	return out, err
}

// Ensure Store implements repository.Store.
var _ repository.Store = (*Store)(nil)

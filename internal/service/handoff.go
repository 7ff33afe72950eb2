package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carshare/internal/domain"
	"carshare/internal/geocode"
)

// HandoffConfig holds the proximity rules of the vehicle exchange.
type HandoffConfig struct {
	RadiusMeters   float64
	FallbackWindow time.Duration
}

// HandoffService gates the ACTIVE transition on the guest being at the vehicle.
type HandoffService struct {
	Deps
	geocoder geocode.Geocoder
	cfg      HandoffConfig
}

// NewHandoffService creates a new HandoffService. A nil geocoder makes vehicles
// without stored coordinates unverifiable.
func NewHandoffService(deps Deps, geocoder geocode.Geocoder, cfg HandoffConfig) *HandoffService {
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = 50
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 30 * time.Minute
	}
	return &HandoffService{Deps: deps.withDefaults(), geocoder: geocoder, cfg: cfg}
}

// ArrivalRequest is a guest's GPS ping at the pickup spot.
type ArrivalRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// VerifyGuestArrival checks the guest's position against the vehicle. A booking
// already verified is returned as is, so the arrival event fires once.
func (s *HandoffService) VerifyGuestArrival(ctx context.Context, actor domain.Actor, id string, req ArrivalRequest) (*domain.Booking, error) {
	if unavailableFix(req.Lat, req.Lng) {
		return nil, s.fail(ctx, id, actor, "handoff_arrive",
			fmt.Errorf("%w: device reported no GPS fix", ErrLocationUnavailable))
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actor, b, domain.ActorGuest); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_arrive", err)
	}
	if b.HandoffStatus == domain.HandoffStatusGuestVerified {
		return b, nil
	}
	if err := s.checkArrival(actor, b); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_arrive", err)
	}

	vehicle, err := s.vehicleLocation(ctx, b.VehicleID)
	if err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_arrive", err)
	}

	distance := haversineMeters(req.Lat, req.Lng, vehicle.Location.Lat, vehicle.Location.Lng)
	if distance > s.cfg.RadiusMeters {
		return nil, s.fail(ctx, id, actor, "handoff_arrive",
			&OutOfRangeError{DistanceMeters: distance, RadiusMeters: s.cfg.RadiusMeters})
	}

	now := s.Clock.Now()
	next := b.Clone()
	next.HandoffStatus = domain.HandoffStatusGuestVerified
	next.Handoff.GuestLat = req.Lat
	next.Handoff.GuestLng = req.Lng
	next.Handoff.DistanceMeters = distance
	next.Handoff.VerifiedAt = &now
	next.Handoff.ArrivalNotifiedAt = &now
	if vehicle.InstantBook {
		at := now.Add(s.cfg.FallbackWindow)
		next.Handoff.AutoFallbackAt = &at
	}

	rec := s.record(b, actor, "handoff_arrive", string(b.Status), string(next.Status),
		fmt.Sprintf("guest verified %.1fm from vehicle", distance))
	if err := s.commit(ctx, b, next, rec, nil); err != nil {
		if errors.Is(err, ErrStaleState) {
			// A concurrent ping won; its arrival event is the only one.
			if cur, loadErr := s.load(ctx, id); loadErr == nil && cur.HandoffStatus == domain.HandoffStatusGuestVerified {
				return cur, nil
			}
		}
		return nil, s.fail(ctx, id, actor, "handoff_arrive", err)
	}

	s.Notifier.Notify(ctx, domain.EventGuestArrived, next, notice{
		data: map[string]string{"distance_meters": fmt.Sprintf("%.1f", distance)},
	})
	return next, nil
}

func (s *HandoffService) checkArrival(actor domain.Actor, b *domain.Booking) error {
	if err := requireActor(actor, b, domain.ActorGuest); err != nil {
		return err
	}
	if err := guardManual(b, s.Clock.Now()); err != nil {
		return err
	}
	if b.Status != domain.BookingStatusConfirmed || b.PaymentStatus != domain.PaymentStatusPaid {
		return illegal("handoff requires a confirmed, paid booking (status %s, payment %s)", b.Status, b.PaymentStatus)
	}
	if b.HandoffStatus != domain.HandoffStatusPending {
		return illegal("handoff is %s", b.HandoffStatus)
	}
	return nil
}

// vehicleLocation returns the vehicle with coordinates, geocoding and storing
// them on first use.
func (s *HandoffService) vehicleLocation(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	v, err := s.Store.Vehicles().GetByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if v.Location != nil {
		return v, nil
	}

	if s.geocoder == nil || v.Address == "" {
		return nil, fmt.Errorf("%w: vehicle %s has no coordinates", ErrLocationUnavailable, v.ID)
	}
	p, err := s.geocoder.Geocode(ctx, v.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: geocode vehicle %s: %w", ErrLocationUnavailable, v.ID, err)
	}

	if err := s.Store.Vehicles().UpdateLocation(ctx, v.ID, p); err != nil {
		s.Log.WarnContext(ctx, "vehicle location not stored", "vehicle_id", v.ID, "error", err)
	}
	v.Location = &p
	return v, nil
}

// ConfirmHandoff is the host's confirmation that the keys changed hands. It
// starts the trip.
func (s *HandoffService) ConfirmHandoff(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	check := func() error {
		if err := requireActor(actor, b, domain.ActorHost); err != nil {
			return err
		}
		if err := guardManual(b, s.Clock.Now()); err != nil {
			return err
		}
		if b.HandoffStatus != domain.HandoffStatusGuestVerified {
			return illegal("handoff is %s, guest arrival not verified", b.HandoffStatus)
		}
		return checkTransition(b, domain.BookingStatusActive)
	}
	if err := check(); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_confirm", err)
	}

	next := s.startTrip(b, domain.HandoffStatusComplete, string(actor.Type)+":"+actor.ID)
	rec := s.record(b, actor, "handoff_confirm", string(b.Status), string(next.Status), "")
	if err := s.commit(ctx, b, next, rec, nil); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_confirm", err)
	}

	s.Notifier.Notify(ctx, domain.EventTripStarted, next, notice{reason: "host_confirmed"})
	return next, nil
}

// BypassRequest carries the operator's reason for skipping GPS verification.
type BypassRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// BypassHandoff lets an operator start the trip without GPS verification.
func (s *HandoffService) BypassHandoff(ctx context.Context, actor domain.Actor, id string, req BypassRequest) (*domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireOperator(actor); err != nil {
		return nil, err
	}

	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	check := func() error {
		if err := guardManual(b, s.Clock.Now()); err != nil {
			return err
		}
		if b.PaymentStatus != domain.PaymentStatusPaid {
			return illegal("cannot start a trip with payment %s", b.PaymentStatus)
		}
		if b.HandoffStatus != domain.HandoffStatusPending && b.HandoffStatus != domain.HandoffStatusGuestVerified {
			return illegal("handoff is %s", b.HandoffStatus)
		}
		return checkTransition(b, domain.BookingStatusActive)
	}
	if err := check(); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_bypass", err)
	}

	next := s.startTrip(b, domain.HandoffStatusBypassed, string(actor.Type)+":"+actor.ID)
	rec := s.record(b, actor, "handoff_bypass", string(b.Status), string(next.Status), req.Reason)
	if err := s.commit(ctx, b, next, rec, nil); err != nil {
		return nil, s.fail(ctx, id, actor, "handoff_bypass", err)
	}

	s.Notifier.Notify(ctx, domain.EventTripStarted, next, notice{reason: "operator_bypass"})
	return next, nil
}

func (s *HandoffService) startTrip(b *domain.Booking, handoff domain.HandoffStatus, by string) *domain.Booking {
	now := s.Clock.Now()
	next := b.Clone()
	next.Status = domain.BookingStatusActive
	next.HandoffStatus = handoff
	next.TripStartedAt = &now
	next.Handoff.CompletedAt = &now
	next.Handoff.CompletedBy = by
	return next
}

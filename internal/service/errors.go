package service

import (
	"errors"
	"fmt"

	"carshare/internal/domain"
	"carshare/internal/repository"
)

// Error kinds. Specific errors wrap one of these so callers can branch with errors.Is.
var (
	// ErrIllegalTransition is returned when a requested change violates the state machine.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrCaptureFailed is returned when the gateway rejects a capture or charge.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrStaleState is returned when the booking changed since it was read.
	ErrStaleState = errors.New("stale state")

	// ErrLocationUnavailable is returned for the (0,0) GPS sentinel and geocoding failures.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrValidation is returned for malformed input, before anything is persisted.
	ErrValidation = errors.New("validation failed")

	// ErrOutOfRange is returned when the guest is farther from the vehicle than the handoff radius.
	ErrOutOfRange = errors.New("outside handoff radius")

	// ErrForbidden is returned when the actor may not perform the action on this booking.
	ErrForbidden = errors.New("actor not permitted")

	// ErrPaymentFailed is returned when an authorization or refund is refused by the gateway.
	ErrPaymentFailed = errors.New("payment operation failed")
)

var (
	// ErrDeadlinePassed is returned for manual actions at or after the booking end date.
	ErrDeadlinePassed = fmt.Errorf("%w: booking end date has passed", ErrStaleState)

	// ErrLocked is returned when another operation holds the booking lock.
	ErrLocked = fmt.Errorf("%w: booking is locked by another operation", ErrStaleState)

	// ErrSweepInProgress is returned when another sweep holds the sweep lock.
	ErrSweepInProgress = fmt.Errorf("%w: sweep already running", ErrStaleState)
)

// OutOfRangeError carries the measured distance of a failed handoff verification.
type OutOfRangeError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("guest is %.0fm from the vehicle, limit is %.0fm", e.DistanceMeters, e.RadiusMeters)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// Kind classifies err for audit records and operator diagnostics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	case errors.Is(err, ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrLocationUnavailable):
		return "location_unavailable"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	default:
		return "internal"
	}
}

func illegal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalTransition, fmt.Sprintf(format, args...))
}

// staleOnConflict converts repository concurrency errors into ErrStaleState.
func staleOnConflict(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %w", ErrStaleState, err)
	}
	return err
}

func fmtForbidden(actor domain.Actor) error {
	return fmt.Errorf("%w: %s %q", ErrForbidden, actor.Type, actor.ID)
}

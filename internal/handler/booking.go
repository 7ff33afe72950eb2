package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/domain"
	"carshare/internal/service"
)

// BookingHandler handles HTTP requests for the booking lifecycle.
type BookingHandler struct {
	bookings *service.BookingService
	payments *service.PaymentService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookings *service.BookingService, payments *service.PaymentService) *BookingHandler {
	return &BookingHandler{bookings: bookings, payments: payments}
}

// Create handles POST /v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.CreateBookingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	switch actor.Type {
	case domain.ActorGuest:
		req.GuestID = actor.ID
	case domain.ActorOperator:
	default:
		respondError(c, service.ErrForbidden)
		return
	}

	b, err := h.bookings.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toBookingResponse(b))
}

// Get handles GET /v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// GetByCode handles GET /v1/bookings/code/:code
func (h *BookingHandler) GetByCode(c *gin.Context) {
	b, err := h.bookings.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// History handles GET /v1/bookings/:id/history
func (h *BookingHandler) History(c *gin.Context) {
	recs, err := h.bookings.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]AuditResponse, 0, len(recs))
	for _, r := range recs {
		response = append(response, AuditResponse{
			Action:    r.Action,
			Actor:     string(r.Actor.Type) + ":" + r.Actor.ID,
			From:      r.FromStatus,
			To:        r.ToStatus,
			Detail:    r.Detail,
			ErrorKind: r.ErrorKind,
			At:        r.CreatedAt.Format(time.RFC3339),
		})
	}

	respondJSON(c, http.StatusOK, response)
}

// FleetDecision handles POST /v1/bookings/:id/fleet-decision
func (h *BookingHandler) FleetDecision(c *gin.Context) {
	h.decide(c, h.bookings.DecideFleet)
}

// HostDecision handles POST /v1/bookings/:id/host-decision
func (h *BookingHandler) HostDecision(c *gin.Context) {
	h.decide(c, h.bookings.DecideHost)
}

type decideFunc func(ctx context.Context, actor domain.Actor, id string, d service.Decision) (*domain.Booking, error)

func (h *BookingHandler) decide(c *gin.Context, fn decideFunc) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var d service.Decision
	if err := bindJSON(c, &d); err != nil {
		respondError(c, err)
		return
	}

	b, err := fn(c.Request.Context(), actor, c.Param("id"), d)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// PlaceOnHold handles POST /v1/bookings/:id/hold
func (h *BookingHandler) PlaceOnHold(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.HoldRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	b, err := h.bookings.PlaceOnHold(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// ReleaseHold handles POST /v1/bookings/:id/hold/release
func (h *BookingHandler) ReleaseHold(c *gin.Context) {
	h.simple(c, h.bookings.ReleaseHold)
}

// Cancel handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.CancelRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	b, err := h.bookings.Cancel(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// Capture handles POST /v1/bookings/:id/capture
func (h *BookingHandler) Capture(c *gin.Context) {
	h.simple(c, h.payments.Capture)
}

// Complete handles POST /v1/bookings/:id/complete
func (h *BookingHandler) Complete(c *gin.Context) {
	h.simple(c, h.bookings.CompleteTrip)
}

type simpleFunc func(ctx context.Context, actor domain.Actor, id string) (*domain.Booking, error)

// simple serves actions that take no request body.
func (h *BookingHandler) simple(c *gin.Context, fn simpleFunc) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	b, err := fn(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

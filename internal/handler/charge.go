package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"carshare/internal/domain"
	"carshare/internal/service"
)

// ChargeHandler handles HTTP requests for post-trip charges and disputes.
type ChargeHandler struct {
	charges *service.TripChargeService
}

// NewChargeHandler creates a new ChargeHandler.
func NewChargeHandler(charges *service.TripChargeService) *ChargeHandler {
	return &ChargeHandler{charges: charges}
}

// Get handles GET /v1/bookings/:id/charges
func (h *ChargeHandler) Get(c *gin.Context) {
	charge, err := h.charges.GetCharges(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

// File handles POST /v1/bookings/:id/charges
func (h *ChargeHandler) File(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.FileChargesRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	charge, err := h.charges.FileCharges(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

// Dispute handles POST /v1/bookings/:id/charges/dispute
func (h *ChargeHandler) Dispute(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.DisputeRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	charge, err := h.charges.OpenDispute(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

// Resolve handles POST /v1/bookings/:id/charges/dispute/resolve
func (h *ChargeHandler) Resolve(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.ResolveDisputeRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	charge, err := h.charges.ResolveDispute(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

// Capture handles POST /v1/bookings/:id/charges/capture
func (h *ChargeHandler) Capture(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	// A failed capture still returns the FAILED charge from the service, but
	// the client only sees the error so it knows to retry.
	charge, err := h.charges.CaptureCharges(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

// Waive handles POST /v1/bookings/:id/charges/waive
func (h *ChargeHandler) Waive(c *gin.Context) {
	h.settle(c, h.charges.WaiveCharges)
}

// Refund handles POST /v1/bookings/:id/charges/refund
func (h *ChargeHandler) Refund(c *gin.Context) {
	h.settle(c, h.charges.RefundCharges)
}

type settleFunc func(ctx context.Context, actor domain.Actor, bookingID string, reason domain.Resolution) (*domain.TripCharge, error)

func (h *ChargeHandler) settle(c *gin.Context, fn settleFunc) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var reason domain.Resolution
	if err := bindJSON(c, &reason); err != nil {
		respondError(c, err)
		return
	}

	charge, err := fn(c.Request.Context(), actor, c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toChargeResponse(charge))
}

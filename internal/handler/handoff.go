package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carshare/internal/service"
)

// HandoffHandler handles HTTP requests for GPS-verified vehicle handoff.
type HandoffHandler struct {
	handoffs *service.HandoffService
}

// NewHandoffHandler creates a new HandoffHandler.
func NewHandoffHandler(handoffs *service.HandoffService) *HandoffHandler {
	return &HandoffHandler{handoffs: handoffs}
}

// Arrive handles POST /v1/bookings/:id/handoff/arrive
func (h *HandoffHandler) Arrive(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.ArrivalRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	b, err := h.handoffs.VerifyGuestArrival(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// Confirm handles POST /v1/bookings/:id/handoff/confirm
func (h *HandoffHandler) Confirm(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	b, err := h.handoffs.ConfirmHandoff(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

// Bypass handles POST /v1/bookings/:id/handoff/bypass
func (h *HandoffHandler) Bypass(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req service.BypassRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	b, err := h.handoffs.BypassHandoff(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBookingResponse(b))
}

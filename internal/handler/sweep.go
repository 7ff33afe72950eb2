package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"carshare/internal/service"
)

// SweepHandler exposes the scheduled sweep to the external scheduler.
type SweepHandler struct {
	sweeps *service.SweepService
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(sweeps *service.SweepService) *SweepHandler {
	return &SweepHandler{sweeps: sweeps}
}

type sweepRequest struct {
	Codes     []string `json:"codes"`
	BatchSize int      `json:"batch_size"`
}

// Run handles POST /internal/sweep
func (h *SweepHandler) Run(c *gin.Context) {
	var req sweepRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	preview := false
	if raw := c.Query("preview"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, errMalformedBody)
			return
		}
		preview = v
	}

	res, err := h.sweeps.Run(c.Request.Context(), service.SweepOptions{
		Preview:   preview,
		Codes:     req.Codes,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, res)
}

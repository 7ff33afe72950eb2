package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carshare/internal/service"
)

// genericMessage hides internal failure details from callers. The error is
// still attached to the gin context for logging and APM.
const genericMessage = "could not complete the request"

// ErrorResponse represents an error response. Kind is stable and meant for
// programmatic handling; Error is human-readable.
type ErrorResponse struct {
	Error          string               `json:"error"`
	Kind           string               `json:"kind"`
	Retryable      bool                 `json:"retryable,omitempty"`
	Fields         []service.FieldError `json:"fields,omitempty"`
	DistanceMeters *float64             `json:"distance_meters,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	kind := errorKind(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}

	code := mapErrorToHTTPStatus(kind)
	switch {
	case code == http.StatusInternalServerError:
		resp.Error = genericMessage
	case kind == "stale_state":
		resp.Retryable = true
	}

	var verrs service.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Error = "request validation failed"
		resp.Fields = verrs
	}

	var oor *service.OutOfRangeError
	if errors.As(err, &oor) {
		d := oor.DistanceMeters
		resp.DistanceMeters = &d
	}

	c.AbortWithStatusJSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errMalformedBody):
		return "malformed_request"
	case errors.Is(err, errMissingActor):
		return "unauthenticated"
	default:
		return service.Kind(err)
	}
}

// mapErrorToHTTPStatus maps an error kind to an HTTP status code.
func mapErrorToHTTPStatus(kind string) int {
	switch kind {
	case "malformed_request":
		return http.StatusBadRequest
	case "unauthenticated":
		return http.StatusUnauthorized
	case "validation", "location_unavailable", "out_of_range":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "illegal_transition", "stale_state":
		return http.StatusConflict
	case "capture_failed", "payment_failed":
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"logistics/internal/domain"
	"logistics/internal/middleware"
	"logistics/internal/repository"
	"logistics/internal/service"
)

const reasonBadRequest = "bad_request"

// ErrorResponse represents an error response. Reason is a stable code clients
// can switch on; the optional fields carry context for conflicts and capacity.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	TripID    *int64 `json:"conflicting_trip_id,omitempty"`
	Need      *int   `json:"need,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)

	resp := ErrorResponse{Error: err.Error(), Reason: service.ErrorReason(err)}
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Error = "internal error"
	}

	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		resp.TripID = &conflict.TripID
	}
	var capErr *service.CapacityError
	if errors.As(err, &capErr) {
		resp.Need = &capErr.Need
		resp.Remaining = &capErr.Remaining
	}

	c.JSON(code, resp)
}

// respondBadRequest rejects a request that could not be decoded.
func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Reason: reasonBadRequest})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotTripDriver):
		return http.StatusForbidden

	// Well-formed but unacceptable input
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidRecordedAt),
		errors.Is(err, service.ErrFutureTimestamp),
		errors.Is(err, service.ErrInvalidWindow):
		return http.StatusUnprocessableEntity

	// Conflicts with the current state of a trip, request or resource
	case errors.Is(err, service.ErrAlreadyLinkedOrNotApproved),
		errors.Is(err, service.ErrRequesterDoubleBooked),
		errors.Is(err, service.ErrVehicleConflict),
		errors.Is(err, service.ErrDriverConflict),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrVehicleInactive),
		errors.Is(err, service.ErrTripNotActive),
		errors.Is(err, service.ErrRequesterAlreadyOnTrip),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrTripNotInProgress):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// callerOrAbort returns the authenticated caller or answers 401.
func callerOrAbort(c *gin.Context) (domain.Caller, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required", Reason: "unauthorized"})
	}
	return caller, ok
}

// idParam parses a positive int64 path parameter or answers 400.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"logistics/internal/domain"
	"logistics/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// AssignTripRequest is the HTTP request body for assigning a request to a new trip.
type AssignTripRequest struct {
	RequestID int64      `json:"request_id" binding:"required"`
	VehicleID int64      `json:"vehicle_id" binding:"required"`
	DriverID  int64      `json:"driver_id" binding:"required"`
	DepartAt  *time.Time `json:"depart_at,omitempty"`
	ReturnAt  *time.Time `json:"return_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// AttachRequestBody is the HTTP request body for attaching a request to a trip.
type AttachRequestBody struct {
	RequestID int64 `json:"request_id" binding:"required"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID        int64      `json:"id"`
	VehicleID int64      `json:"vehicle_id"`
	DriverID  int64      `json:"driver_id"`
	Status    string     `json:"status"`
	DepartAt  time.Time  `json:"depart_at"`
	ReturnAt  *time.Time `json:"return_at,omitempty"`
	CreatedBy int64      `json:"created_by"`
	Notes     string     `json:"notes,omitempty"`
}

// RiderResponse is a request linked to a trip.
type RiderResponse struct {
	RequestID  int64  `json:"request_id"`
	UserID     int64  `json:"user_id"`
	Status     string `json:"status"`
	Passengers int    `json:"passengers"`
}

// TripDetailsResponse is the HTTP response for GET /v1/trips/:id.
type TripDetailsResponse struct {
	TripResponse
	Riders []RiderResponse `json:"riders"`
	// RemainingSeats is omitted for vehicles without a recorded capacity.
	RemainingSeats *int `json:"remaining_seats,omitempty"`
}

func toTripResponse(trip *domain.Trip) TripResponse {
	return TripResponse{
		ID:        trip.ID,
		VehicleID: trip.VehicleID,
		DriverID:  trip.DriverID,
		Status:    string(trip.Status),
		DepartAt:  trip.DepartAt,
		ReturnAt:  trip.ReturnAt,
		CreatedBy: trip.CreatedBy,
		Notes:     trip.Notes,
	}
}

// Assign handles POST /v1/trips
func (h *TripHandler) Assign(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req AssignTripRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		if verr := windowFieldError(c); verr != nil {
			respondError(c, verr)
			return
		}
		respondBadRequest(c, "request_id, vehicle_id and driver_id are required")
		return
	}

	trip, err := h.tripService.Assign(c.Request.Context(), service.AssignRequest{
		Caller:    caller,
		RequestID: req.RequestID,
		VehicleID: req.VehicleID,
		DriverID:  req.DriverID,
		DepartAt:  req.DepartAt,
		ReturnAt:  req.ReturnAt,
		Notes:     req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// windowFieldError reports a depart_at or return_at that is not an RFC 3339
// timestamp. The body was cached by ShouldBindBodyWith.
func windowFieldError(c *gin.Context) error {
	cached, ok := c.Get(gin.BodyBytesKey)
	if !ok {
		return nil
	}
	body, ok := cached.([]byte)
	if !ok {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}

	for _, name := range []string{"depart_at", "return_at"} {
		raw, present := fields[name]
		if !present || string(raw) == "null" {
			continue
		}
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return &service.ValidationError{Field: name, Reason: "must be an RFC 3339 timestamp"}
		}
	}

	return nil
}

// Attach handles POST /v1/trips/:id/requests
func (h *TripHandler) Attach(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	tripID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req AttachRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "request_id is required")
		return
	}

	trip, err := h.tripService.Attach(c.Request.Context(), service.AttachRequest{
		Caller:    caller,
		RequestID: req.RequestID,
		TripID:    tripID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	tripID, ok := idParam(c, "id")
	if !ok {
		return
	}

	details, err := h.tripService.GetTrip(c.Request.Context(), caller, tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := TripDetailsResponse{
		TripResponse: toTripResponse(details.Trip),
		Riders:       make([]RiderResponse, 0, len(details.Requests)),
	}
	for _, r := range details.Requests {
		response.Riders = append(response.Riders, RiderResponse{
			RequestID:  r.ID,
			UserID:     r.UserID,
			Status:     string(r.Status),
			Passengers: r.Passengers,
		})
	}
	if details.Remaining != service.Uncapped {
		remaining := details.Remaining
		response.RemainingSeats = &remaining
	}

	respondJSON(c, http.StatusOK, response)
}

type transitionFunc func(ctx context.Context, caller domain.Caller, tripID int64) (*domain.Trip, error)

// Dispatch handles POST /v1/trips/:id/dispatch
func (h *TripHandler) Dispatch(c *gin.Context) { h.transition(c, h.tripService.Dispatch) }

// Start handles POST /v1/trips/:id/start
func (h *TripHandler) Start(c *gin.Context) { h.transition(c, h.tripService.Start) }

// Complete handles POST /v1/trips/:id/complete
func (h *TripHandler) Complete(c *gin.Context) { h.transition(c, h.tripService.Complete) }

// Cancel handles POST /v1/trips/:id/cancel
func (h *TripHandler) Cancel(c *gin.Context) { h.transition(c, h.tripService.Cancel) }

func (h *TripHandler) transition(c *gin.Context, fn transitionFunc) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	tripID, ok := idParam(c, "id")
	if !ok {
		return
	}

	trip, err := fn(c.Request.Context(), caller, tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"logistics/internal/domain"
	"logistics/internal/service"
)

// TelemetryHandler handles HTTP requests for trip positions.
type TelemetryHandler struct {
	telemetryService *service.TelemetryService
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(telemetryService *service.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{telemetryService: telemetryService}
}

// PositionRequest is the HTTP request body for one position report.
type PositionRequest struct {
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Heading    *float64 `json:"heading,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	RecordedAt string   `json:"recorded_at,omitempty"`
}

// IngestResponse is the HTTP response for a position report.
type IngestResponse struct {
	Accepted bool              `json:"accepted"`
	Reason   string            `json:"reason,omitempty"`
	Position *PositionResponse `json:"position,omitempty"`
}

// PositionResponse is a stored position.
type PositionResponse struct {
	ID         int64     `json:"id"`
	TripID     int64     `json:"trip_id"`
	DriverID   int64     `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toPositionResponse(p *domain.PositionReport) *PositionResponse {
	return &PositionResponse{
		ID:         p.ID,
		TripID:     p.TripID,
		DriverID:   p.DriverID,
		Lat:        p.Lat,
		Lng:        p.Lng,
		Heading:    p.Heading,
		Speed:      p.Speed,
		RecordedAt: p.RecordedAt,
	}
}

// ingestStatus maps a soft outcome to its HTTP status.
func ingestStatus(result *service.IngestResult) int {
	switch {
	case result.Accepted:
		return http.StatusCreated
	case result.Reason == service.ReasonTooFrequent:
		return http.StatusTooManyRequests
	default:
		// out_of_order and duplicate: received, nothing to do.
		return http.StatusAccepted
	}
}

// Ingest handles POST /v1/trips/:id/positions
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	tripID, ok := idParam(c, "id")
	if !ok {
		return
	}

	// A body that fails to decode is still run through the pipeline so the
	// caller and trip checks answer first.
	var req PositionRequest
	malformed := c.ShouldBindJSON(&req) != nil
	if malformed {
		req = PositionRequest{}
	}

	result, err := h.telemetryService.Ingest(c.Request.Context(), service.IngestRequest{
		TripID:     tripID,
		Caller:     caller,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		Speed:      req.Speed,
		RecordedAt: req.RecordedAt,
		Malformed:  malformed,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := IngestResponse{Accepted: result.Accepted, Reason: result.Reason}
	if result.Report != nil {
		response.Position = toPositionResponse(result.Report)
	}

	respondJSON(c, ingestStatus(result), response)
}

// Recent handles GET /v1/trips/:id/positions
func (h *TelemetryHandler) Recent(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	tripID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var q service.RecentQuery
	if q.SinceMinutes, ok = queryInt(c, "since_minutes"); !ok {
		return
	}
	if q.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}

	points, err := h.telemetryService.RecentPoints(c.Request.Context(), caller, tripID, q)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]*PositionResponse, 0, len(points))
	for _, p := range points {
		response = append(response, toPositionResponse(p))
	}

	respondJSON(c, http.StatusOK, gin.H{"trip_id": tripID, "positions": response})
}

// queryInt parses an optional integer query parameter or answers 400.
func queryInt(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondBadRequest(c, name+" must be an integer")
		return nil, false
	}
	return &n, true
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/availability"
)

type reservationService interface {
	Hold(ctx context.Context, params application.HoldParams) (availability.Reservation, error)
	Confirm(ctx context.Context, reservationID string) (availability.Reservation, error)
	Cancel(ctx context.Context, reservationID string) (availability.Reservation, error)
	Reschedule(ctx context.Context, params application.RescheduleParams) (availability.Reservation, error)
	Get(ctx context.Context, reservationID string) (availability.Reservation, error)
	ListForProject(ctx context.Context, params application.ListProjectReservationsParams) ([]availability.Reservation, error)
}

// ReservationHandler serves the hold, confirm, cancel and reschedule endpoints.
type ReservationHandler struct {
	service   reservationService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, logger *slog.Logger) *ReservationHandler {
	base := defaultLogger(logger)
	return &ReservationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReservationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ReservationHandler", operation, attrs...)
}

func (h *ReservationHandler) Hold(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req holdRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.log(r.Context(), "Hold", "error_kind", "bad_request").WarnContext(r.Context(), "invalid hold request", "error", err)
		h.responder.writeDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Hold", "unit_id", req.UnitID, "project_id", req.ProjectID)
	reservation, err := h.service.Hold(r.Context(), application.HoldParams{
		UnitID:    req.UnitID,
		ProjectID: req.ProjectID,
		Range:     req.rangeRequest.toInput(),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "hold rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("reservation_id", reservation.ID).InfoContext(r.Context(), "hold placed")
	w.Header().Set("Location", "/v1/reservations/"+reservation.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := h.reservationID(w, r, "Confirm")
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Confirm", "reservation_id", id)
	reservation, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		logger.WarnContext(r.Context(), "confirmation rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation confirmed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := h.reservationID(w, r, "Cancel")
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Cancel", "reservation_id", id)
	if _, err := h.service.Cancel(r.Context(), id); err != nil {
		logger.ErrorContext(r.Context(), "cancellation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ReservationHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := h.reservationID(w, r, "Reschedule")
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.log(r.Context(), "Reschedule", "reservation_id", id, "error_kind", "bad_request").WarnContext(r.Context(), "invalid reschedule request", "error", err)
		h.responder.writeDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Reschedule", "reservation_id", id)
	replacement, err := h.service.Reschedule(r.Context(), application.RescheduleParams{
		ReservationID: id,
		Range:         req.rangeRequest.toInput(),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "reschedule rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("replacement_id", replacement.ID).InfoContext(r.Context(), "reservation rescheduled")
	w.Header().Set("Location", "/v1/reservations/"+replacement.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(replacement)})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := h.reservationID(w, r, "Get")
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Get", "reservation_id", id)
	reservation, err := h.service.Get(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "reservation lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

// ListForProject accepts ?include_inactive=true to add cancelled and expired reservations.
func (h *ReservationHandler) ListForProject(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	projectID := strings.TrimSpace(chi.URLParam(r, "projectID"))
	if projectID == "" {
		h.log(r.Context(), "ListForProject", "error_kind", "bad_request").ErrorContext(r.Context(), "missing project id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidProjectID)
		return
	}

	includeInactive := false
	if raw := strings.TrimSpace(r.URL.Query().Get("include_inactive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.log(r.Context(), "ListForProject", "project_id", projectID, "error_kind", "bad_request").WarnContext(r.Context(), "invalid include_inactive", "error", err)
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		includeInactive = parsed
	}

	logger := h.log(r.Context(), "ListForProject", "project_id", projectID)
	reservations, err := h.service.ListForProject(r.Context(), application.ListProjectReservationsParams{
		ProjectID:       projectID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "project listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(reservations)).InfoContext(r.Context(), "project reservations listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(reservations)})
}

func (h *ReservationHandler) reservationID(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "reservationID"))
	if id == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing reservation id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReservationID)
		return "", false
	}
	return id, true
}

type holdRequest struct {
	UnitID    string `json:"unit_id" validate:"required"`
	ProjectID string `json:"project_id" validate:"required"`
	rangeRequest
}

type rescheduleRequest struct {
	rangeRequest
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type reservationDTO struct {
	ID         string  `json:"id"`
	UnitID     string  `json:"unit_id"`
	ProjectID  string  `json:"project_id"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Status     string  `json:"status"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	ReplacesID string  `json:"replaces_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

func toReservationDTO(r availability.Reservation) reservationDTO {
	dto := reservationDTO{
		ID:         r.ID,
		UnitID:     r.UnitID,
		ProjectID:  r.ProjectID,
		Start:      r.Range.Start.UTC().Format(availability.DateLayout),
		End:        r.Range.End.UTC().Format(availability.DateLayout),
		Status:     string(r.Status),
		ReplacesID: r.ReplacesID,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.ExpiresAt != nil {
		expires := r.ExpiresAt.UTC().Format(time.RFC3339Nano)
		dto.ExpiresAt = &expires
	}
	return dto
}

func toReservationDTOs(reservations []availability.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, toReservationDTO(r))
	}
	return out
}

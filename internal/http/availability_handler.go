package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/availability"
)

type availabilityService interface {
	CheckAvailability(ctx context.Context, params application.CheckAvailabilityParams) (availability.Result, error)
	CheckAvailabilityBatch(ctx context.Context, params application.CheckAvailabilityBatchParams) (availability.BatchReport, error)
	FindAlternatives(ctx context.Context, params application.FindAlternativesParams) (availability.Alternatives, error)
}

// AvailabilityHandler serves the read-only availability endpoints.
type AvailabilityHandler struct {
	service   availabilityService
	responder responder
	logger    *slog.Logger
}

func NewAvailabilityHandler(service availabilityService, logger *slog.Logger) *AvailabilityHandler {
	base := defaultLogger(logger)
	return &AvailabilityHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AvailabilityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AvailabilityHandler", operation, attrs...)
}

func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req checkRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.log(r.Context(), "Check", "error_kind", "bad_request").WarnContext(r.Context(), "invalid availability request", "error", err)
		h.responder.writeDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Check", "unit_id", req.UnitID)
	result, err := h.service.CheckAvailability(r.Context(), application.CheckAvailabilityParams{
		UnitID: req.UnitID,
		Range:  req.rangeRequest.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "availability check failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "availability checked", "status", string(result.Status))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toResultDTO(result))
}

func (h *AvailabilityHandler) Batch(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req batchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.log(r.Context(), "Batch", "error_kind", "bad_request").WarnContext(r.Context(), "invalid batch request", "error", err)
		h.responder.writeDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Batch", "item_count", len(req.Items))
	params := application.CheckAvailabilityBatchParams{
		Items:   make([]application.BatchItemInput, 0, len(req.Items)),
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	}
	for _, item := range req.Items {
		params.Items = append(params.Items, application.BatchItemInput{
			UnitID: item.UnitID,
			Range:  item.rangeRequest.toInput(),
		})
	}

	report, err := h.service.CheckAvailabilityBatch(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "availability batch failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "availability batch checked", "complete", report.Complete, "errored", report.Summary.Errored)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBatchDTO(report))
}

func (h *AvailabilityHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req alternativesRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.log(r.Context(), "Alternatives", "error_kind", "bad_request").WarnContext(r.Context(), "invalid alternatives request", "error", err)
		h.responder.writeDecodeError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Alternatives", "unit_id", req.UnitID)
	alts, err := h.service.FindAlternatives(r.Context(), application.FindAlternativesParams{
		UnitID:          req.UnitID,
		Range:           req.rangeRequest.toInput(),
		Max:             req.Max,
		PreferAttribute: req.PreferAttribute,
		PreferTarget:    req.PreferTarget,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "alternative search failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "alternatives found", "result_count", len(alts.Units))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAlternativesDTO(alts))
}

// rangeRequest is embedded by every request that names a date range. Either
// start and end or an ISO-8601 interval ("2024-06-01/2024-06-05") is required.
type rangeRequest struct {
	Start    string `json:"start" validate:"required_without=Interval"`
	End      string `json:"end" validate:"required_without=Interval"`
	Interval string `json:"interval"`
}

func (r rangeRequest) toInput() application.RangeInput {
	return application.RangeInput{Start: r.Start, End: r.End, Interval: r.Interval}
}

type checkRequest struct {
	UnitID string `json:"unit_id" validate:"required"`
	rangeRequest
}

type batchItemRequest struct {
	UnitID string `json:"unit_id" validate:"required"`
	rangeRequest
}

type batchRequest struct {
	Items     []batchItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
	TimeoutMS int                `json:"timeout_ms" validate:"gte=0"`
}

type alternativesRequest struct {
	UnitID string `json:"unit_id" validate:"required"`
	rangeRequest
	Max             int      `json:"max" validate:"gte=0,lte=50"`
	PreferAttribute string   `json:"prefer_attribute"`
	PreferTarget    *float64 `json:"prefer_target" validate:"required_with=PreferAttribute"`
}

type rangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toRangeDTO(r availability.DateRange) rangeDTO {
	return rangeDTO{
		Start: r.Start.UTC().Format(availability.DateLayout),
		End:   r.End.UTC().Format(availability.DateLayout),
	}
}

func toRangeDTOs(ranges []availability.DateRange) []rangeDTO {
	out := make([]rangeDTO, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, toRangeDTO(r))
	}
	return out
}

type resultDTO struct {
	UnitID        string           `json:"unit_id"`
	Range         rangeDTO         `json:"range"`
	Status        string           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	Conflicts     []reservationDTO `json:"conflicts"`
	FreeSubRanges []rangeDTO       `json:"free_sub_ranges"`
}

func toResultDTO(result availability.Result) resultDTO {
	return resultDTO{
		UnitID:        result.UnitID,
		Range:         toRangeDTO(result.Range),
		Status:        string(result.Status),
		Reason:        string(result.Reason),
		Conflicts:     toReservationDTOs(result.Conflicts),
		FreeSubRanges: toRangeDTOs(result.FreeSubRanges),
	}
}

type batchEntryDTO struct {
	Index     int        `json:"index"`
	UnitID    string     `json:"unit_id"`
	Range     rangeDTO   `json:"range"`
	Status    string     `json:"status"`
	Result    *resultDTO `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

type batchSummaryDTO struct {
	Total              int `json:"total"`
	Available          int `json:"available"`
	PartiallyAvailable int `json:"partially_available"`
	Conflicted         int `json:"conflicted"`
	Errored            int `json:"errored"`
}

type batchDTO struct {
	Entries  []batchEntryDTO `json:"entries"`
	Summary  batchSummaryDTO `json:"summary"`
	Complete bool            `json:"complete"`
}

func toBatchDTO(report availability.BatchReport) batchDTO {
	out := batchDTO{
		Entries: make([]batchEntryDTO, 0, len(report.Entries)),
		Summary: batchSummaryDTO{
			Total:              report.Summary.Total,
			Available:          report.Summary.Available,
			PartiallyAvailable: report.Summary.PartiallyAvailable,
			Conflicted:         report.Summary.Conflicted,
			Errored:            report.Summary.Errored,
		},
		Complete: report.Complete,
	}
	for _, entry := range report.Entries {
		dto := batchEntryDTO{
			Index:  entry.Index,
			UnitID: entry.UnitID,
			Range:  toRangeDTO(entry.Range),
			Status: string(entry.Status),
		}
		if entry.Status == availability.Errored {
			// Raw causes may carry driver detail; only the kind is exposed.
			dto.ErrorKind = application.EntryErrorKind(entry.Err)
			dto.Error = localizedBatchError(dto.ErrorKind)
		} else {
			result := toResultDTO(entry.Result)
			dto.Result = &result
		}
		out.Entries = append(out.Entries, dto)
	}
	return out
}

func localizedBatchError(kind string) string {
	switch kind {
	case "not_found":
		return "指定された機材が見つかりません。"
	case "transient_store":
		return "一時的に確認できませんでした。再試行してください。"
	case "context":
		return "時間内に確認が完了しませんでした。"
	case "invalid_range":
		return "期間の指定が正しくありません。"
	default:
		return "確認中にエラーが発生しました。"
	}
}

type unitDTO struct {
	ID         string             `json:"id"`
	Category   string             `json:"category"`
	CreatedAt  string             `json:"created_at"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

type alternativesDTO struct {
	UnitID string    `json:"unit_id"`
	Range  rangeDTO  `json:"range"`
	Units  []unitDTO `json:"units"`
	Reason string    `json:"reason,omitempty"`
}

func toAlternativesDTO(alts availability.Alternatives) alternativesDTO {
	out := alternativesDTO{
		UnitID: alts.UnitID,
		Range:  toRangeDTO(alts.Range),
		Units:  make([]unitDTO, 0, len(alts.Units)),
		Reason: string(alts.Reason),
	}
	for _, u := range alts.Units {
		out.Units = append(out.Units, unitDTO{
			ID:         u.ID,
			Category:   u.CategoryID,
			CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
			Attributes: u.Attributes,
		})
	}
	return out
}

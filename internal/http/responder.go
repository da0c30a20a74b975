package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/equipment-availability/internal/application"
	"github.com/example/equipment-availability/internal/availability"
	"github.com/example/equipment-availability/internal/logging"
)

const retryAfterSeconds = "1"

var (
	errBadRequestBody       = errors.New("無効なリクエスト形式です。")
	errInvalidReservationID = errors.New("無効な予約 ID です。")
	errInvalidProjectID     = errors.New("無効なプロジェクト ID です。")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeJSONBody decodes the request body into dest and validates its tags.
// Decoding failures return errBadRequestBody; tag violations come back as
// *application.ValidationError keyed by JSON field path.
func decodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return errBadRequestBody
	}
	if err := validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		vErr := &application.ValidationError{FieldErrors: make(map[string]string, len(fieldErrs))}
		for _, fe := range fieldErrs {
			vErr.FieldErrors[fieldPath(fe)] = tagMessage(fe)
		}
		return vErr
	}
	return nil
}

// fieldPath drops the root struct and embedded range struct from the
// validator namespace, leaving the JSON path ("items[2].start").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	i := strings.Index(ns, ".")
	if i < 0 {
		return fe.Field()
	}
	return strings.ReplaceAll(ns[i+1:], "rangeRequest.", "")
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "必須項目です。"
	case "min", "gte":
		return fe.Param() + " 以上で指定してください。"
	case "max", "lte":
		return fe.Param() + " 以下で指定してください。"
	case "datetime":
		return "日付は YYYY-MM-DD 形式で指定してください。"
	}
	return "値が不正です。"
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if status < http.StatusInternalServerError {
			if msg := strings.TrimSpace(err.Error()); msg != "" {
				message = msg
			}
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBadRequestBody) {
		r.writeError(ctx, w, http.StatusBadRequest, err)
		return
	}
	r.handleServiceError(ctx, w, err)
}

// handleServiceError maps application errors to status codes and stable error codes.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var conflict *availability.ConflictError
	if errors.As(err, &conflict) {
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "CONFLICT",
			Message:   "指定期間は既存の予約と重複しています。",
			Reason:    string(conflict.Reason),
			Conflicts: toReservationDTOs(conflict.Conflicts),
		})
		return
	}

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		code := "VALIDATION_FAILED"
		message := "入力内容に誤りがあります。"
		if errors.Is(err, application.ErrInvalidRange) {
			code = "INVALID_RANGE"
			message = "期間の指定が正しくありません。開始日は終了日より前である必要があります。"
		}
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: code,
			Message:   message,
			Errors:    localizeValidationErrors(vErr),
		})
	case errors.Is(err, application.ErrInvalidRange):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "INVALID_RANGE",
			Message:   "期間の指定が正しくありません。開始日は終了日より前である必要があります。",
		})
	case errors.Is(err, application.ErrUnitNotBookable):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: string(availability.ReasonNotBookable),
			Message:   "この機材は現在予約できません。",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "NOT_FOUND",
			Message:   "指定されたリソースが見つかりません。",
		})
	case errors.Is(err, application.ErrAlreadyExpired):
		r.writeJSON(ctx, w, http.StatusGone, errorResponse{
			ErrorCode: "ALREADY_EXPIRED",
			Message:   "仮押さえの有効期限が切れています。もう一度仮押さえしてください。",
		})
	case errors.Is(err, application.ErrReservationCancelled):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "RESERVATION_CANCELLED",
			Message:   "この予約は既に取り消されています。",
		})
	case errors.Is(err, application.ErrTransientStore):
		w.Header().Set("Retry-After", retryAfterSeconds)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "TRANSIENT_STORE_ERROR",
			Message:   localizedStatusMessage(http.StatusServiceUnavailable),
		})
	case errors.Is(err, context.DeadlineExceeded):
		r.writeJSON(ctx, w, http.StatusGatewayTimeout, errorResponse{
			ErrorCode: "TIMEOUT",
			Message:   localizedStatusMessage(http.StatusGatewayTimeout),
		})
	default:
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			ErrorCode: "INTERNAL",
			Message:   localizedStatusMessage(http.StatusInternalServerError),
		})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusMethodNotAllowed:
		return "このメソッドは許可されていません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusGone:
		return "リソースは既に無効になっています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusTooManyRequests:
		return "リクエストが多すぎます。しばらくしてから再試行してください。"
	case http.StatusServiceUnavailable:
		return "一時的に処理できません。しばらくしてから再試行してください。"
	case http.StatusGatewayTimeout:
		return "処理が時間内に完了しませんでした。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(field, msg)
	}
	return translated
}

func translateValidationMessage(field, message string) string {
	switch {
	case message == field+" is required":
		return "必須項目です。"
	case message == "start and end are required":
		return "開始日と終了日は必須です。"
	case message == "range must be valid dates with start before end":
		return "期間は有効な日付で、開始日は終了日より前である必要があります。"
	case message == "timeout must not be negative":
		return "タイムアウトは 0 以上で指定してください。"
	case message == "prefer_target is required with prefer_attribute":
		return "prefer_attribute を指定する場合は prefer_target も必須です。"
	case message == "replacement must stay on the same unit":
		return "変更後の予約は同じ機材である必要があります。"
	case strings.HasPrefix(message, "at most ") && strings.HasSuffix(message, " items are allowed"):
		return "一度に確認できる件数は " + strings.TrimSuffix(strings.TrimPrefix(message, "at most "), " items are allowed") + " 件までです。"
	case strings.HasPrefix(message, "max must be between 1 and "):
		return "max は 1 から " + strings.TrimPrefix(message, "max must be between 1 and ") + " の範囲で指定してください。"
	default:
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Reason    string            `json:"reason,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Conflicts []reservationDTO  `json:"conflicts,omitempty"`
}

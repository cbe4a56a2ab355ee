package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/metamigrate/internal/orchestrator"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeNotConfigured ErrorCode = "NOT_CONFIGURED"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// envelope — тело любого ответа: либо data (+ total для списков), либо error.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Total int          `json:"total,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail — описание ошибки в ответе.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, envelope{Data: data, Total: total})
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, envelope{Error: &ErrorDetail{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// knownErrors — ошибки хранилища и оркестратора, у которых есть свой HTTP статус.
var knownErrors = []struct {
	target error
	status int
	code   ErrorCode
}{
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrStepNotConfigured, http.StatusServiceUnavailable, ErrCodeNotConfigured},
}

// respondError пишет ответ для err. Неизвестные ошибки логируются и
// отдаются клиенту как 500 без подробностей.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	for _, known := range knownErrors {
		if errors.Is(err, known.target) {
			writeError(w, known.status, known.code, err.Error())
			return
		}
	}

	telemetry.FromContext(r.Context()).Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

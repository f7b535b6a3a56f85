package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/radiolink/internal/radio"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// RadioStatus is the raw status byte when the module rejected a frame.
	RadioStatus *byte `json:"radio_status,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "radio_unavailable"
	ErrCodeConflict     = "conflict"
	ErrCodeTimeout      = "radio_timeout"
	ErrCodeRejected     = "remote_rejected"
	ErrCodeBusy         = "radio_busy"
	ErrCodeTransport    = "transport_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="radiolink"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRadioError maps a radio error to an HTTP response.
//
//	ErrInvalidArgument, ErrInvalidAddress      400
//	ErrDeviceNotFound                          404
//	ErrInvalidOperatingMode, ErrOperationNotSupported, ErrProtocolMismatch  409
//	*RemoteRejectedError                       502
//	ErrConnectionNotOpen, ErrTooManyPending    503
//	ErrTimeout                                 504
func writeRadioError(w http.ResponseWriter, err error) {
	e := Error{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: err.Error()}

	var rejected *radio.RemoteRejectedError
	switch {
	case errors.As(err, &rejected):
		e.Status, e.Code = http.StatusBadGateway, ErrCodeRejected
		s := rejected.Status
		e.RadioStatus = &s
	case errors.Is(err, radio.ErrInvalidArgument), errors.Is(err, radio.ErrInvalidAddress):
		e.Status, e.Code = http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, radio.ErrDeviceNotFound):
		e.Status, e.Code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, radio.ErrInvalidOperatingMode),
		errors.Is(err, radio.ErrOperationNotSupported),
		errors.Is(err, radio.ErrProtocolMismatch):
		e.Status, e.Code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, radio.ErrConnectionNotOpen):
		e.Status, e.Code = http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, radio.ErrTooManyPending):
		e.Status, e.Code = http.StatusServiceUnavailable, ErrCodeBusy
	case errors.Is(err, radio.ErrTimeout):
		e.Status, e.Code = http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, radio.ErrTransport):
		e.Status, e.Code = http.StatusBadGateway, ErrCodeTransport
	}
	writeJSON(w, e.Status, e)
}

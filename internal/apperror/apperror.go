// Package apperror defines the categorical error taxonomy shared by all
// four trust-plane services, mirrored from spec.md §7. Handlers never
// return bare errors to clients; every failure path produces an *Error and
// httpkit.WriteError renders the fixed {"error","message","details"} body.
package apperror

import (
	"errors"
	"net/http"
)

// Error is a categorical, client-safe error. Message must never leak
// internals (SQL text, file paths, stack traces, key material).
type Error struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	HTTP    int            `json:"-"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New builds an Error for a code with an explicit HTTP status. Prefer the
// named constructors below; this is for one-off codes not worth naming.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Message: message, HTTP: status}
}

// WithDetails attaches non-sensitive structured context (field names, not
// values derived from secrets) and returns the same error for chaining.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// statusOf is the fixed code -> HTTP status table from spec.md §7.
var statusOf = map[string]int{
	// Envelope / framing
	"INVALID_JWS":            http.StatusBadRequest,
	"INVALID_JSON":            http.StatusBadRequest,
	"UNSUPPORTED_MEDIA_TYPE":  http.StatusUnsupportedMediaType,
	"PAYLOAD_TOO_LARGE":       http.StatusRequestEntityTooLarge,
	"METHOD_NOT_ALLOWED":      http.StatusMethodNotAllowed,

	// Authentication / authorization
	"FORBIDDEN": http.StatusForbidden,

	// Payload validation
	"INVALID_PAYLOAD":     http.StatusBadRequest,
	"INVALID_TASK_ID":     http.StatusBadRequest,
	"INVALID_REWARD":      http.StatusBadRequest,
	"INVALID_DEADLINE":    http.StatusBadRequest,
	"TITLE_TOO_LONG":      http.StatusBadRequest,
	"INVALID_REASON":      http.StatusBadRequest,
	"INVALID_WORKER_PCT":  http.StatusBadRequest,
	"INVALID_AMOUNT":      http.StatusBadRequest,
	"INVALID_CATEGORY":    http.StatusBadRequest,
	"INVALID_RATING":      http.StatusBadRequest,
	"COMMENT_TOO_LONG":    http.StatusBadRequest,
	"SELF_FEEDBACK":       http.StatusBadRequest,
	"SELF_BID":            http.StatusBadRequest,
	"MISSING_FIELD":       http.StatusBadRequest,
	"INVALID_FIELD_TYPE":  http.StatusBadRequest,
	"TOKEN_MISMATCH":      http.StatusBadRequest,
	"PAYLOAD_MISMATCH":    http.StatusBadRequest,

	// Resource existence
	"ACCOUNT_NOT_FOUND":  http.StatusNotFound,
	"AGENT_NOT_FOUND":    http.StatusNotFound,
	"TASK_NOT_FOUND":     http.StatusNotFound,
	"BID_NOT_FOUND":      http.StatusNotFound,
	"ASSET_NOT_FOUND":    http.StatusNotFound,
	"ESCROW_NOT_FOUND":   http.StatusNotFound,
	"DISPUTE_NOT_FOUND":  http.StatusNotFound,
	"FEEDBACK_NOT_FOUND": http.StatusNotFound,

	// Precondition / lifecycle
	"INVALID_STATUS":              http.StatusConflict,
	"TASK_ALREADY_EXISTS":         http.StatusConflict,
	"BID_ALREADY_EXISTS":          http.StatusConflict,
	"ACCOUNT_EXISTS":              http.StatusConflict,
	"AGENT_EXISTS":                http.StatusConflict,
	"ESCROW_ALREADY_LOCKED":       http.StatusConflict,
	"ESCROW_ALREADY_RESOLVED":     http.StatusConflict,
	"DISPUTE_ALREADY_EXISTS":      http.StatusConflict,
	"DISPUTE_ALREADY_RULED":       http.StatusConflict,
	"REBUTTAL_ALREADY_SUBMITTED":  http.StatusConflict,
	"INVALID_DISPUTE_STATUS":      http.StatusConflict,
	"NO_ASSETS":                   http.StatusConflict,
	"TOO_MANY_ASSETS":             http.StatusConflict,
	"FILE_TOO_LARGE":              http.StatusConflict,
	"FEEDBACK_EXISTS":             http.StatusConflict,
	"INSUFFICIENT_FUNDS":          http.StatusPaymentRequired,

	// Downstream
	"IDENTITY_SERVICE_UNAVAILABLE":    http.StatusBadGateway,
	"CENTRAL_BANK_UNAVAILABLE":        http.StatusBadGateway,
	"TASK_BOARD_UNAVAILABLE":          http.StatusBadGateway,
	"REPUTATION_SERVICE_UNAVAILABLE":  http.StatusBadGateway,
	"JUDGE_UNAVAILABLE":               http.StatusBadGateway,
}

// Code builds an Error for a known taxonomy code, looking up its fixed HTTP
// status. Unknown codes default to 500 — this only happens for programmer
// error, never for a client-triggerable path.
func Code(code, message string) *Error {
	status, ok := statusOf[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Message: message, HTTP: status}
}

// Internal wraps an unexpected error as a generic 500 with no leaked detail.
func Internal(_ error) *Error {
	return &Error{Code: "INTERNAL", Message: "internal server error", HTTP: http.StatusInternalServerError}
}

// As extracts an *Error if err is one (or wraps one), else nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

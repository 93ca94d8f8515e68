// Package httperr renders every error returned by a handler or middleware as
// a single JSON envelope with a stable machine readable code.
package httperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patients/internal/domain/patient"
	"github.com/ehr/patients/internal/platform/auth"
)

const (
	CodeValidation         = "validation_error"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidCredentials = "invalid_credentials"
	CodeMissingToken       = "missing_token"
	CodeTokenMalformed     = "token_malformed"
	CodeTokenExpired       = "token_expired"
	CodeUnknownSubject     = "unknown_subject"
	CodeStoreUnavailable   = "store_unavailable"
	CodeInternal           = "internal_error"
)

// FieldError names the field or parameter a validation failure refers to.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is both the response body and an error value handlers may return
// directly.
type Error struct {
	Status  int          `json:"-"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Validation returns a 400 naming a single field.
func Validation(field, message string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: field + " " + message,
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// FromError maps err onto the response envelope. The second result reports
// whether the error is a server fault that should be logged.
func FromError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, e.Status >= http.StatusInternalServerError
	}

	var verr *patient.ValidationError
	if errors.As(err, &verr) {
		fields := make([]FieldError, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = FieldError{Field: f.Field, Message: f.Message}
		}
		return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: verr.Error(), Fields: fields}, false
	}

	switch {
	case errors.Is(err, patient.ErrNotFound):
		return New(http.StatusNotFound, CodeNotFound, "Patient not found"), false
	case errors.Is(err, patient.ErrAlreadyExists):
		return New(http.StatusBadRequest, CodeConflict, "Patient already exists"), false
	case errors.Is(err, auth.ErrUserExists):
		return New(http.StatusBadRequest, CodeConflict, "User already exists"), false
	case errors.Is(err, auth.ErrPasswordTooLong):
		return Validation("password", "must not exceed 72 bytes"), false
	case errors.Is(err, auth.ErrInvalidCredentials):
		return New(http.StatusUnauthorized, CodeInvalidCredentials, "Invalid username or password"), false
	case errors.Is(err, auth.ErrMissingToken):
		return New(http.StatusUnauthorized, CodeMissingToken, "Not authenticated"), false
	case errors.Is(err, auth.ErrTokenExpired):
		return New(http.StatusUnauthorized, CodeTokenExpired, "Token has expired"), false
	case errors.Is(err, auth.ErrUnknownSubject):
		return New(http.StatusUnauthorized, CodeUnknownSubject, "Invalid credentials"), false
	case errors.Is(err, auth.ErrTokenMalformed):
		return New(http.StatusUnauthorized, CodeTokenMalformed, "Invalid token"), false
	case errors.Is(err, patient.ErrStoreUnavailable):
		return New(http.StatusInternalServerError, CodeStoreUnavailable, "Record store unavailable"), true
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return New(he.Code, codeForStatus(he.Code), msg), he.Code >= http.StatusInternalServerError
	}

	return New(http.StatusInternalServerError, CodeInternal, "Internal server error"), true
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusInternalServerError:
		return CodeInternal
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

// Handler returns an echo.HTTPErrorHandler writing the envelope. Server
// faults are logged with the request id; client errors are not.
func Handler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		e, fault := FromError(err)
		if fault {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", e.Status).
				Msg("request failed")
		}

		if e.Status == http.StatusUnauthorized {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(e.Status)
		} else {
			werr = c.JSON(e.Status, e)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

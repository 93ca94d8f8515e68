package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patients/internal/platform/auth"
	"github.com/ehr/patients/internal/platform/httperr"
)

// AuditEntry records one access to patient records.
type AuditEntry struct {
	Username   string
	PatientID  string
	Action     string // read, search, create, update, delete
	Route      string
	Method     string
	Path       string
	RemoteIP   string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder receives audit entries in addition to the log line.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request to a record route with type=record_audit after
// the handler has run, and forwards the entry to each recorder.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isRecordPath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			// Auth middleware below may have replaced the request.
			req = c.Request()
			entry := AuditEntry{
				Username:   auth.UsernameFromContext(req.Context()),
				PatientID:  c.Param("id"),
				Action:     auditAction(req.Method, req.URL.Path),
				Route:      c.Path(),
				Method:     req.Method,
				Path:       req.URL.Path,
				RemoteIP:   c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			if err != nil && !c.Response().Committed {
				// The error handler has not written the response yet.
				e, _ := httperr.FromError(err)
				entry.StatusCode = e.Status
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "record_audit").
				Str("request_id", entry.RequestID).
				Str("username", entry.Username).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Bool("failed", err != nil).
				Msg("record_access")

			return err
		}
	}
}

var recordPathPrefixes = []string{"/view", "/patients", "/patient/", "/sort", "/create", "/edit/", "/delete/"}

func isRecordPath(path string) bool {
	for _, p := range recordPathPrefixes {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func auditAction(method, path string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if strings.HasPrefix(path, "/patient/") {
		return "read"
	}
	return "search"
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/digiscribe/internal/platform/auth"
)

// AuditEntry records who submitted notes for coding or browsed the
// taxonomy. Note text is never part of an entry.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Action     string
	Path       string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	BytesIn    int64
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs an entry for every request under /api/v1/ and /fhir/ after the
// handler ran, and hands it to recorder when one is given.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     auditAction(req.Method, req.URL.Path),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				RequestID:  GetRequestID(c),
				StatusCode: status,
				BytesIn:    req.ContentLength,
				Timestamp:  time.Now().UTC(),
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Int64("bytes_in", entry.BytesIn).
				Msg("access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/fhir/") || strings.HasPrefix(path, "/api/v1/")
}

// auditAction names what a request did.
func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/coding/icd10/batch"):
		return "code-batch"
	case strings.HasSuffix(path, "/coding/icd10"):
		return "code"
	case strings.Contains(path, "$lookup"):
		return "lookup"
	case strings.Contains(path, "$subsumes"):
		return "subsumes"
	case strings.HasSuffix(path, "/taxonomy/search"):
		return "search"
	case method == http.MethodGet || method == http.MethodHead:
		return "read"
	default:
		return strings.ToLower(method)
	}
}

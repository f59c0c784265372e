package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careshield/careshield/internal/platform/audit"
	"github.com/careshield/careshield/internal/platform/auth"
	"github.com/careshield/careshield/internal/platform/hipaa"
)

// AuditActionKey lets a handler override the action inferred from the route,
// e.g. c.Set(middleware.AuditActionKey, audit.ActionExport).
const AuditActionKey = "audit_action"

// maxCapturedBody bounds how much of a response body is buffered for PHI
// field enumeration. Larger responses are scored from the first megabyte.
const maxCapturedBody = 1 << 20

// Audit returns middleware that drives the two-phase audit pipeline around
// every /api/v1 request:
//
//   - on entry, a pre-operation event (actor, action, resource, correlation
//     ID) is emitted without being awaited;
//   - the response body is captured on its way out, mapped PHI field names
//     present in it are enumerated, and a risk score is computed;
//   - a post-operation event carrying response status, latency, risk score
//     and security level is emitted, again fire-and-forget.
//
// Interception never alters the bytes delivered to the client, and audit
// persistence latency or failure never adds to response latency.
func Audit(logger zerolog.Logger, pipeline *audit.Pipeline, registry *hipaa.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			start := time.Now()
			correlationID := CorrelationIDFromContext(req.Context())

			var userID *string
			if uid := auth.UserIDFromContext(req.Context()); uid != "" {
				userID = &uid
			}

			segment, resourceID := splitResourcePath(path)
			resourceType, hasMapping := hipaa.ResourceTypeFromPath(segment)
			action := actionForRequest(req.Method, path)

			pre := &audit.Event{
				Phase:         audit.PhasePre,
				UserID:        userID,
				CorrelationID: correlationID,
				Action:        action,
				ResourceType:  segment,
				ResourceID:    resourceID,
				RequestMethod: req.Method,
				RequestPath:   path,
			}
			pipeline.Emit(pre)

			capture := &bodyCapture{ResponseWriter: c.Response().Writer, limit: maxCapturedBody}
			c.Response().Writer = capture

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusFromError(err)
			}
			success := err == nil && status < http.StatusBadRequest

			// Handlers may refine the action; a failed login attempt is
			// always reclassified.
			if override, ok := c.Get(AuditActionKey).(audit.Action); ok {
				action = override
			}
			if action == audit.ActionLogin && !success {
				action = audit.ActionFailedLogin
			}

			var phiFields []string
			if hasMapping {
				phiFields = phiFieldsInPayload(registry, resourceType, capture.buf.Bytes())
			}

			post := &audit.Event{
				Phase:          audit.PhasePost,
				UserID:         userID,
				CorrelationID:  correlationID,
				Action:         action,
				ResourceType:   segment,
				ResourceID:     resourceID,
				FieldsAccessed: phiFields,
				RequestMethod:  req.Method,
				RequestPath:    path,
				ResponseStatus: status,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				RiskScore:      audit.RiskScore(action, len(phiFields), success),
				SecurityLevel:  audit.SecurityLevelFor(len(phiFields)),
				Success:        success,
			}
			pipeline.Emit(post)

			return err
		}
	}
}

// bodyCapture tees response bytes into a bounded buffer while writing them
// through unchanged.
type bodyCapture struct {
	http.ResponseWriter
	buf   bytes.Buffer
	limit int
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(b) <= room {
			w.buf.Write(b)
		} else {
			w.buf.Write(b[:room])
		}
	}
	return w.ResponseWriter.Write(b)
}

// phiFieldsInPayload enumerates the mapped PHI field names present in a
// response body, sorted. For list responses the union across all records is
// reported.
func phiFieldsInPayload(registry *hipaa.Registry, rt hipaa.ResourceType, body []byte) []string {
	records := decodePayload(body)
	if len(records) == 0 {
		return nil
	}
	if len(records) == 1 {
		return registry.PHIFieldsIn(rt, records[0])
	}

	seen := make(map[string]struct{})
	for _, record := range records {
		for _, f := range registry.PHIFieldsIn(rt, record) {
			seen[f] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// decodePayload extracts the response's record objects, unwrapping the
// {"data": ...} envelope used by list and detail endpoints. A detail
// response yields one record, a list response one per element. Non-JSON
// payloads yield nil: nothing to enumerate.
func decodePayload(body []byte) []map[string]any {
	if len(body) == 0 {
		return nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	switch outer := payload.(type) {
	case map[string]any:
		switch inner := outer["data"].(type) {
		case map[string]any:
			return []map[string]any{inner}
		case []any:
			return recordsFrom(inner)
		}
		return []map[string]any{outer}
	case []any:
		return recordsFrom(outer)
	}
	return nil
}

func recordsFrom(elems []any) []map[string]any {
	records := make([]map[string]any, 0, len(elems))
	for _, el := range elems {
		if record, ok := el.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// splitResourcePath returns the resource segment and, when present, the
// resource ID from an /api/v1/<resource>/<id> path.
func splitResourcePath(path string) (string, *string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	segments := strings.Split(trimmed, "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", nil
	}
	if len(segments) > 1 && segments[1] != "" {
		id := segments[1]
		return segments[0], &id
	}
	return segments[0], nil
}

// actionForRequest infers the audit action from the route. Path suffixes
// that denote data leaving the system (export, print) and the auth endpoints
// override the plain method mapping.
func actionForRequest(method, path string) audit.Action {
	switch {
	case strings.HasSuffix(path, "/export"):
		return audit.ActionExport
	case strings.HasSuffix(path, "/print"):
		return audit.ActionPrint
	case strings.HasSuffix(path, "/phi/scan"):
		return audit.ActionPHIAccess
	case strings.HasSuffix(path, "/auth/login"):
		return audit.ActionLogin
	case strings.HasSuffix(path, "/auth/logout"):
		return audit.ActionLogout
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		return audit.ActionRead
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}

func statusFromError(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

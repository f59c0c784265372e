package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// CorrelationHeader is the header the correlation ID is accepted on and
// echoed back in, so chained services share one ID per request chain.
const CorrelationHeader = "X-Correlation-ID"

// maxInboundIDLength caps how much of an upstream-supplied ID we trust.
// Anything longer is discarded and a fresh ID is minted.
const maxInboundIDLength = 128

type correlationKey struct{}

// NewCorrelationID mints an opaque per-request token: the current millisecond
// timestamp in base 36 followed by 10 random bytes (80 bits of entropy), hex
// encoded. The random suffix alone makes collisions negligible at any
// realistic request volume; the timestamp prefix keeps IDs roughly sortable
// in logs.
func NewCorrelationID() string {
	var suffix [10]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// crypto/rand failing means the process has bigger problems; an
		// all-zero suffix still yields a usable, timestamped ID.
		for i := range suffix {
			suffix[i] = 0
		}
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(suffix[:])
}

// Correlation returns middleware that ensures every request carries a
// correlation ID: an inbound X-Correlation-ID is reused, otherwise a new one
// is minted. The ID is attached to the request context and echoed on the
// response so callers can correlate audit and log entries.
func Correlation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			EnsureCorrelationID(c)
			return next(c)
		}
	}
}

// EnsureCorrelationID returns the request's correlation ID, establishing one
// if none is attached yet.
func EnsureCorrelationID(c echo.Context) string {
	if id := CorrelationIDFromContext(c.Request().Context()); id != "" {
		return id
	}

	id := c.Request().Header.Get(CorrelationHeader)
	if id == "" || len(id) > maxInboundIDLength {
		id = NewCorrelationID()
	}

	ctx := context.WithValue(c.Request().Context(), correlationKey{}, id)
	c.SetRequest(c.Request().WithContext(ctx))
	c.Response().Header().Set(CorrelationHeader, id)
	return id
}

// CorrelationIDFromContext returns the correlation ID attached to ctx, or ""
// when the correlation middleware has not run.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

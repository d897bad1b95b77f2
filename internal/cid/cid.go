// Package cid carries a per-request correlation id through contexts, HTTP
// headers, and trace spans.
package cid

import (
	"context"

	"github.com/segmentio/ksuid"
)

// ContextKey is the type used for storing a CID in context to avoid collisions.
type ContextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id.
// Incoming requests that already carry it keep their id; otherwise the server
// mints a fresh KSUID.
const HeaderName = "X-PL-CID"

// AttributeName is the span attribute key used to attach the CID to spans.
const AttributeName = "parlance.cid"

// New returns a fresh correlation id.
func New() string {
	return ksuid.New().String()
}

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// FromContext extracts the correlation id from context, if present.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}

// AddHeaderFromContext adds the correlation header to headers when the
// context carries a CID.
func AddHeaderFromContext(headers map[string][]string, ctx context.Context) {
	if headers == nil {
		return
	}
	if v := FromContext(ctx); v != "" {
		headers[HeaderName] = []string{v}
	}
}

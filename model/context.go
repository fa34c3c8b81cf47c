package model

import (
	"context"
	"errors"
)

// Actor identifies the user performing a mutation. It is a local selection
// passed explicitly into every mutating operation, not an authenticated
// identity.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SystemActor is used for mutations not initiated by a user.
var SystemActor = Actor{ID: "system", Name: "System"}

// RequestContext carries the acting user and tracing information for the
// lifetime of a request. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	ActorID       string
	ActorName     string
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
func (rc *RequestContext) Validate() error {
	if rc.ActorID == "" {
		return errors.New("ActorID is required")
	}
	return nil
}

// Actor returns the acting user. The name falls back to the ID.
func (rc *RequestContext) Actor() Actor {
	name := rc.ActorName
	if name == "" {
		name = rc.ActorID
	}
	return Actor{ID: rc.ActorID, Name: name}
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

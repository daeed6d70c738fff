package approval

import (
	"context"
	"errors"
	"fmt"
)

// InterruptError is returned by a capability that must suspend the graph
// until a human replies.
type InterruptError struct {
	Request Request
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("%s interrupt on %s: %s", e.Request.Kind, e.Request.Capability, e.Request.Question)
}

// AsInterrupt extracts an interrupt from err.
func AsInterrupt(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

type responseKey struct{}

// WithResponse attaches the reviewer's reply for the call being resumed.
func WithResponse(ctx context.Context, r Response) context.Context {
	return context.WithValue(ctx, responseKey{}, r)
}

// ResponseFromContext returns the reply attached by WithResponse.
func ResponseFromContext(ctx context.Context) (Response, bool) {
	r, ok := ctx.Value(responseKey{}).(Response)
	return r, ok
}

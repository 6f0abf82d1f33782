// Package publisher announces finished renders to downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends one payload to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attribute keys set on every render notification.
const (
	AttrEventType = "event_type"
	AttrOutcome   = "outcome"
	AttrFormat    = "format"
)

// Encode marshals payload the way every publisher puts it on the wire.
func Encode(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

type attrsKey struct{}

// WithAttributes attaches message attributes to ctx for the next Publish call.
func WithAttributes(ctx context.Context, attrs map[string]string) context.Context {
	return context.WithValue(ctx, attrsKey{}, attrs)
}

// Attributes returns a copy of the attributes attached by WithAttributes.
func Attributes(ctx context.Context) map[string]string {
	attrs, _ := ctx.Value(attrsKey{}).(map[string]string)
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

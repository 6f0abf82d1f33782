package thumbnail

import (
	"context"
	"time"
)

// Capturer renders a normalized URL into a screenshot frame.
// Implementations must release every OS resource they acquired before returning.
type Capturer interface {
	Capture(ctx context.Context, url string) (Frame, error)
}

// Transformer resizes and encodes a frame.
type Transformer interface {
	Transform(ctx context.Context, frame Frame, opts TransformOptions) (Result, error)
}

// Recorder receives one audit event per Generate call. Implementations must not block for long
// and their failures never reach the caller.
type Recorder interface {
	Record(ctx context.Context, event RenderEvent)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces render IDs.
type IDGenerator interface {
	NewID() (string, error)
}

package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotIdle reports that a page loaded but the network never settled before the navigation
// deadline. The page is still usable.
var ErrNotIdle = errors.New("page loaded but network never went idle")

// Viewport is the page size in CSS pixels at device scale factor 1.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures one browser process.
type LaunchOptions struct {
	ExecPath  string
	NoSandbox bool
	Viewport  Viewport
	UserAgent string
}

// WaitPolicy bounds navigation and describes when a loaded page counts as ready.
type WaitPolicy struct {
	Timeout     time.Duration
	Settle      time.Duration
	MaxInflight int
}

// Driver starts browser processes.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewPage(ctx context.Context, viewport Viewport) (Page, error)
	// PID returns the OS process id, or 0 when unknown.
	PID() int
	// Close terminates the process and waits for it. It is safe to call more than once.
	Close() error
}

// Page is a single tab.
type Page interface {
	// Goto navigates and waits for the load event followed by network idle. It returns
	// ErrNotIdle (wrapped) when the page loaded but never settled within policy.Timeout.
	Goto(ctx context.Context, url string, policy WaitPolicy) error
	// Screenshot captures the visible viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

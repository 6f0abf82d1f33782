package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpDriver launches Chrome through chromedp's exec allocator.
type ChromedpDriver struct {
	Logger *zap.Logger
}

// NewChromedpDriver returns a Driver backed by chromedp.
func NewChromedpDriver(logger *zap.Logger) *ChromedpDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpDriver{Logger: logger}
}

// launchFlags lists the command line switches for one process.
func launchFlags(opts LaunchOptions) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":              "new",
		"disable-gpu":           true,
		"hide-scrollbars":       true,
		"enable-automation":     false,
		"disable-dev-shm-usage": true,
		"mute-audio":            true,
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", opts.Viewport.Width, opts.Viewport.Height)
	}
	if opts.UserAgent != "" {
		flags["user-agent"] = opts.UserAgent
	}
	if opts.NoSandbox {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	} else {
		// chromedp adds --no-sandbox for root unless the flag is present.
		flags["no-sandbox"] = false
	}
	return flags
}

// Launch starts a browser process whose lifetime is bound to ctx.
func (d *ChromedpDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if opts.ExecPath == "" {
		return nil, fmt.Errorf("launch browser: %w", ErrNoExecutable)
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	for name, value := range launchFlags(opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start %s: %w", opts.ExecPath, err)
	}

	b := &chromedpBrowser{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			b.pid = proc.Pid
		}
	}
	return b, nil
}

type chromedpBrowser struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	pid           int

	mu         sync.Mutex
	pageOpened bool

	closeOnce sync.Once
	closeErr  error
}

func (b *chromedpBrowser) PID() int {
	return b.pid
}

// NewPage prepares the tab chromedp attached to at launch. A browser has exactly one page.
func (b *chromedpBrowser) NewPage(ctx context.Context, viewport Viewport) (Page, error) {
	b.mu.Lock()
	opened := b.pageOpened
	b.pageOpened = true
	b.mu.Unlock()
	if opened {
		return nil, errors.New("open page: browser already has a page")
	}

	setupCtx, cancel := boundContext(b.ctx, ctx, 0)
	defer cancel()
	err := chromedp.Run(setupCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(viewport.Width), int64(viewport.Height), 1, false),
	)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &chromedpPage{ctx: b.ctx}, nil
}

// Close shuts the browser down gracefully, then cancels the allocator, which kills the process if
// it is still alive and waits for it to exit.
func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		err := chromedp.Cancel(b.ctx)
		b.browserCancel()
		b.allocCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close browser: %w", err)
		}
	})
	return b.closeErr
}

type chromedpPage struct {
	ctx context.Context

	mu      sync.Mutex
	tracker *idleTracker
}

func (p *chromedpPage) Goto(ctx context.Context, url string, policy WaitPolicy) error {
	tracker := newIdleTracker(policy.MaxInflight, time.Now)
	p.mu.Lock()
	if p.tracker == nil {
		p.tracker = tracker
		chromedp.ListenTarget(p.ctx, func(ev interface{}) {
			p.mu.Lock()
			t := p.tracker
			p.mu.Unlock()
			t.handle(ev)
		})
	} else {
		p.tracker = tracker
	}
	p.mu.Unlock()

	navCtx, cancel := boundContext(p.ctx, ctx, policy.Timeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return navigateError(ctx, navCtx, url, err)
	}
	return awaitIdle(ctx, navCtx, tracker, policy.Settle)
}

// navigateError maps a failed navigation. A deadline hit before the load event, whether it is the
// navigation timeout or the caller's, is reported as context.DeadlineExceeded.
func navigateError(caller, navCtx context.Context, url string, err error) error {
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
	}
	if caller.Err() != nil {
		return fmt.Errorf("navigate %s: %w", url, caller.Err())
	}
	return fmt.Errorf("navigate %s: %w", url, err)
}

// awaitIdle waits for the network to settle after the load event. Running out of navigation time
// yields ErrNotIdle; the caller going away yields its context error.
func awaitIdle(caller, navCtx context.Context, tracker *idleTracker, settle time.Duration) error {
	if err := tracker.wait(navCtx, settle); err != nil {
		if caller.Err() != nil {
			return fmt.Errorf("wait for idle: %w", caller.Err())
		}
		return fmt.Errorf("%w: %d requests in flight", ErrNotIdle, tracker.inflightCount())
	}
	return nil
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	capCtx, cancel := boundContext(p.ctx, ctx, 0)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(capCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// boundContext derives a context from a chromedp context that also honours the caller's deadline
// and cancellation, plus an optional timeout of its own.
func boundContext(chromeCtx, caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(chromeCtx)
	cancels := []context.CancelFunc{cancel}
	if timeout > 0 {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, timeout)
		cancels = append(cancels, c)
	}
	if caller != nil {
		if dl, ok := caller.Deadline(); ok {
			if cur, has := ctx.Deadline(); !has || dl.Before(cur) {
				var c context.CancelFunc
				ctx, c = context.WithDeadline(ctx, dl)
				cancels = append(cancels, c)
			}
		}
	}
	stop := forwardCancel(caller, cancel)
	return ctx, func() {
		stop()
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}
}

// forwardCancel cancels when parent is done, until the returned stop func is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

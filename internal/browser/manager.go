package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/logging"
	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// Config tunes a Manager. Zero durations fall back to the defaults below.
type Config struct {
	Viewport          Viewport
	NavigationTimeout time.Duration
	CaptureTimeout    time.Duration
	// Idle is used as given when set, so a zero Settle or MaxInflight is honoured.
	Idle      *IdlePolicy
	UserAgent string
}

// IdlePolicy describes when a loaded page counts as network idle.
type IdlePolicy struct {
	Settle      time.Duration
	MaxInflight int
}

// Defaults applied by NewManager.
const (
	DefaultNavigationTimeout = 15 * time.Second
	DefaultCaptureTimeout    = 10 * time.Second
	DefaultIdleSettle        = 500 * time.Millisecond
	DefaultIdleMaxInflight   = 2
)

func (c Config) withDefaults() Config {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = Viewport{Width: thumbnail.ViewportWidth, Height: thumbnail.ViewportHeight}
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	idle := IdlePolicy{Settle: DefaultIdleSettle, MaxInflight: DefaultIdleMaxInflight}
	if c.Idle != nil {
		idle = *c.Idle
		if idle.Settle < 0 {
			idle.Settle = 0
		}
		if idle.MaxInflight < 0 {
			idle.MaxInflight = 0
		}
	}
	c.Idle = &idle
	return c
}

// Manager implements thumbnail.Capturer with one dedicated browser process per call.
type Manager struct {
	cfg      Config
	resolver ExecutableResolver
	driver   Driver
	logger   *zap.Logger
}

var _ thumbnail.Capturer = (*Manager)(nil)

// NewManager wires a resolver and driver together.
func NewManager(cfg Config, resolver ExecutableResolver, driver Driver, logger *zap.Logger) (*Manager, error) {
	if resolver == nil {
		return nil, fmt.Errorf("executable resolver is required")
	}
	if driver == nil {
		return nil, fmt.Errorf("browser driver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg.withDefaults(), resolver: resolver, driver: driver, logger: logger}, nil
}

// Capture launches a browser, loads url and returns a viewport screenshot. The browser is closed
// before Capture returns, whatever the outcome.
func (m *Manager) Capture(ctx context.Context, url string) (thumbnail.Frame, error) {
	logger := logging.FromContext(ctx, m.logger).With(zap.String("url", url))

	res, err := m.resolver.Resolve()
	if err != nil {
		metrics.ObserveBrowserLaunch("no_executable")
		return thumbnail.Frame{}, thumbnail.NewError(thumbnail.CategoryLaunchFailed, "resolve executable", err)
	}

	start := time.Now()
	browser, err := m.driver.Launch(ctx, LaunchOptions{
		ExecPath:  res.Path,
		NoSandbox: res.Managed,
		Viewport:  m.cfg.Viewport,
		UserAgent: m.cfg.UserAgent,
	})
	metrics.ObserveStage("launch", time.Since(start))
	if err != nil {
		metrics.ObserveBrowserLaunch("error")
		return thumbnail.Frame{}, thumbnail.NewError(thumbnail.CategoryLaunchFailed, "launch browser", err)
	}
	metrics.ObserveBrowserLaunch("ok")
	metrics.IncActiveSessions()
	logger.Debug("browser launched",
		zap.String("exec_path", res.Path),
		zap.String("source", res.Source),
		zap.Int("pid", browser.PID()),
	)
	defer func() {
		closeStart := time.Now()
		if closeErr := browser.Close(); closeErr != nil {
			logger.Warn("browser close failed", zap.Int("pid", browser.PID()), zap.Error(closeErr))
		}
		metrics.ObserveStage("close", time.Since(closeStart))
		metrics.DecActiveSessions()
	}()

	page, err := browser.NewPage(ctx, m.cfg.Viewport)
	if err != nil {
		return thumbnail.Frame{}, thumbnail.NewError(thumbnail.CategoryLaunchFailed, "open page", err)
	}

	start = time.Now()
	err = page.Goto(ctx, url, WaitPolicy{
		Timeout:     m.cfg.NavigationTimeout,
		Settle:      m.cfg.Idle.Settle,
		MaxInflight: m.cfg.Idle.MaxInflight,
	})
	metrics.ObserveStage("navigate", time.Since(start))
	switch {
	case err == nil:
	case errors.Is(err, ErrNotIdle):
		logger.Info("capturing before network idle", zap.Error(err))
	default:
		return thumbnail.Frame{}, classifyNavigation(err)
	}

	start = time.Now()
	capCtx, cancel := context.WithTimeout(ctx, m.cfg.CaptureTimeout)
	defer cancel()
	data, err := page.Screenshot(capCtx)
	metrics.ObserveStage("screenshot", time.Since(start))
	if err != nil {
		return thumbnail.Frame{}, thumbnail.NewError(thumbnail.CategoryNavigationFailed, "screenshot", err)
	}
	if len(data) == 0 {
		return thumbnail.Frame{}, thumbnail.Errorf(thumbnail.CategoryNavigationFailed, "screenshot", "browser returned an empty screenshot")
	}

	return thumbnail.Frame{Data: data, Width: m.cfg.Viewport.Width, Height: m.cfg.Viewport.Height}, nil
}

// classifyNavigation maps a navigation error onto a category. Deadlines are timeouts; everything
// else, including net::ERR_* failures reported by the browser, is a navigation failure.
func classifyNavigation(err error) error {
	const op = "navigate"
	if errors.Is(err, context.DeadlineExceeded) {
		return thumbnail.NewError(thumbnail.CategoryNavigationTimeout, op, err)
	}
	if code := netErrorCode(err); code != "" {
		return thumbnail.NewError(thumbnail.CategoryNavigationFailed, op, fmt.Errorf("%s: %w", code, err))
	}
	return thumbnail.NewError(thumbnail.CategoryNavigationFailed, op, err)
}

// netErrorCode extracts a Chrome net error code such as net::ERR_NAME_NOT_RESOLVED.
func netErrorCode(err error) string {
	msg := err.Error()
	idx := strings.Index(msg, "net::ERR_")
	if idx < 0 {
		return ""
	}
	const prefix = "net::ERR_"
	rest := msg[idx+len(prefix):]
	if end := strings.IndexAny(rest, " \t\n,:)\""); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return ""
	}
	return prefix + rest
}

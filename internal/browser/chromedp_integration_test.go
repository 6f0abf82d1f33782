//go:build integration

package browser

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

func resolveOrSkip(t *testing.T) Resolution {
	t.Helper()
	res, err := NewResolver(ResolverConfig{ExecPath: os.Getenv("WEBTHUMB_HEADLESS_EXEC_PATH")}).Resolve()
	if err != nil {
		t.Skipf("no browser available: %v", err)
	}
	return res
}

func TestChromedpCaptureAndTeardown(t *testing.T) {
	res := resolveOrSkip(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body style="background:#c00"><h1>hello</h1></body></html>`))
	}))
	defer srv.Close()

	driver := NewChromedpDriver(zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b, err := driver.Launch(ctx, LaunchOptions{ExecPath: res.Path, NoSandbox: true, Viewport: Viewport{Width: 1920, Height: 1080}})
	require.NoError(t, err)
	pid := b.PID()
	require.NotZero(t, pid)

	page, err := b.NewPage(ctx, Viewport{Width: 1920, Height: 1080})
	require.NoError(t, err)

	targets, err := chromedp.Targets(b.(*chromedpBrowser).ctx)
	require.NoError(t, err)
	pages := 0
	for _, info := range targets {
		if info.Type == "page" {
			pages++
		}
	}
	assert.Equal(t, 1, pages)
	require.NoError(t, page.Goto(ctx, srv.URL, WaitPolicy{Timeout: 15 * time.Second, Settle: 200 * time.Millisecond, MaxInflight: 2}))

	data, err := page.Screenshot(ctx)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1920, img.Bounds().Dx())
	assert.Equal(t, 1080, img.Bounds().Dy())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assertProcessGone(t, pid)
}

func TestChromedpUnreachableHost(t *testing.T) {
	res := resolveOrSkip(t)

	m, err := NewManager(Config{NavigationTimeout: 15 * time.Second},
		staticResolution{res: Resolution{Path: res.Path, Managed: true}},
		NewChromedpDriver(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = m.Capture(context.Background(), "https://nonexistent.invalid")
	require.Error(t, err)
	assert.Equal(t, thumbnail.CategoryNavigationFailed, thumbnail.CategoryOf(err))
}

func assertProcessGone(t *testing.T, pid int) {
	t.Helper()
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	assert.Eventually(t, func() bool {
		return proc.Signal(syscall.Signal(0)) != nil
	}, 5*time.Second, 50*time.Millisecond, "browser process %d still alive", pid)
}

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/browser"
	"github.com/JakeFAU/webthumb/internal/config"
	"github.com/JakeFAU/webthumb/internal/imaging"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

func viewportPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, thumbnail.ViewportWidth, thumbnail.ViewportHeight))
	for y := 0; y < thumbnail.ViewportHeight; y++ {
		for x := 0; x < thumbnail.ViewportWidth; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type frameCapturer struct {
	mu    sync.Mutex
	frame thumbnail.Frame
	err   error
	urls  []string
}

func (c *frameCapturer) Capture(_ context.Context, url string) (thumbnail.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, url)
	return c.frame, c.err
}

func (c *frameCapturer) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}

func testConfig() config.Config {
	return config.Config{
		Server:    config.ServerConfig{RequestTimeoutSeconds: 30},
		Thumbnail: config.ThumbnailConfig{DefaultQuality: 80, DefaultFormat: "webp", MaxDimension: 4096},
	}
}

func newTestServer(t *testing.T, capturer thumbnail.Capturer) *Server {
	t.Helper()
	pipeline, err := thumbnail.NewPipeline(capturer, imaging.NewEngine(), zap.NewNop())
	require.NoError(t, err)
	return NewServer(pipeline, testConfig(), zap.NewNop())
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestThumbnailJPEGEndToEnd(t *testing.T) {
	t.Parallel()

	capturer := &frameCapturer{frame: thumbnail.Frame{Data: viewportPNG(t), Width: 1920, Height: 1080}}
	srv := newTestServer(t, capturer)

	rec := serve(srv, "/api/thumbnail?url=example.com&width=400&height=300&format=jpeg&quality=70")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="thumbnail.jpeg"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
	assert.Equal(t, []string{"https://example.com"}, capturer.calls())
}

func TestThumbnailBase64WebP(t *testing.T) {
	t.Parallel()

	capturer := &frameCapturer{frame: thumbnail.Frame{Data: viewportPNG(t), Width: 1920, Height: 1080}}
	srv := newTestServer(t, capturer)

	rec := serve(srv, "/api/thumbnail?url=https://example.com&width=200&base64=true")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body base64Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, strings.HasPrefix(body.Base64, "data:image/webp;base64,"), body.Base64)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body.Base64, "data:image/webp;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(raw[:4]))
}

func TestThumbnailUnknownFormatFallsBackToWebP(t *testing.T) {
	t.Parallel()

	capturer := &frameCapturer{frame: thumbnail.Frame{Data: viewportPNG(t), Width: 1920, Height: 1080}}
	srv := newTestServer(t, capturer)

	rec := serve(srv, "/api/thumbnail?url=example.com&width=100&format=xml")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="thumbnail.webp"`, rec.Header().Get("Content-Disposition"))
}

func TestThumbnailBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		query    string
		category thumbnail.Category
	}{
		{name: "missing url", query: "", category: thumbnail.CategoryInvalidURL},
		{name: "scheme only", query: "url=http://", category: thumbnail.CategoryInvalidURL},
		{name: "garbage url", query: "url=not+a+url+***", category: thumbnail.CategoryInvalidURL},
		{name: "non numeric width", query: "url=example.com&width=wide", category: thumbnail.CategoryInvalidRequest},
		{name: "zero height", query: "url=example.com&height=0", category: thumbnail.CategoryInvalidRequest},
		{name: "too large", query: "url=example.com&width=5000", category: thumbnail.CategoryInvalidRequest},
		{name: "non numeric quality", query: "url=example.com&quality=high", category: thumbnail.CategoryInvalidRequest},
		{name: "bad base64 flag", query: "url=example.com&base64=maybe", category: thumbnail.CategoryInvalidRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			capturer := &frameCapturer{}
			srv := newTestServer(t, capturer)
			rec := serve(srv, "/api/thumbnail?"+tc.query)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.category, decodeError(t, rec).Error)
			assert.NotEmpty(t, decodeError(t, rec).Message)
			assert.Empty(t, capturer.calls(), "no browser work for rejected requests")
		})
	}
}

func TestThumbnailUndecodableFrame(t *testing.T) {
	t.Parallel()

	capturer := &frameCapturer{frame: thumbnail.Frame{Data: []byte("not an image"), Width: 1920, Height: 1080}}
	srv := newTestServer(t, capturer)

	rec := serve(srv, "/api/thumbnail?url=example.com")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, thumbnail.CategoryEncodingFailed, decodeError(t, rec).Error)
}

type stubResolver struct{}

func (stubResolver) Resolve() (browser.Resolution, error) {
	return browser.Resolution{Path: "/usr/bin/chromium", Source: "test"}, nil
}

type unreachableDriver struct {
	mu     sync.Mutex
	events []string
}

func (d *unreachableDriver) log(ev string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *unreachableDriver) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *unreachableDriver) Launch(context.Context, browser.LaunchOptions) (browser.Browser, error) {
	d.log("launch")
	return unreachableBrowser{d}, nil
}

type unreachableBrowser struct{ d *unreachableDriver }

func (b unreachableBrowser) NewPage(context.Context, browser.Viewport) (browser.Page, error) {
	return unreachablePage(b), nil
}

func (b unreachableBrowser) PID() int { return 1 }

func (b unreachableBrowser) Close() error {
	b.d.log("close")
	return nil
}

type unreachablePage struct{ d *unreachableDriver }

func (p unreachablePage) Goto(context.Context, string, browser.WaitPolicy) error {
	p.d.log("goto")
	return errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
}

func (p unreachablePage) Screenshot(context.Context) ([]byte, error) {
	p.d.log("screenshot")
	return nil, errors.New("unexpected screenshot")
}

func TestThumbnailUnreachableHost(t *testing.T) {
	t.Parallel()

	driver := &unreachableDriver{}
	manager, err := browser.NewManager(browser.Config{Idle: &browser.IdlePolicy{Settle: time.Millisecond, MaxInflight: 2}}, stubResolver{}, driver, zap.NewNop())
	require.NoError(t, err)
	srv := newTestServer(t, manager)

	rec := serve(srv, "/api/thumbnail?url=https://nonexistent.invalid")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, thumbnail.CategoryNavigationFailed, body.Error)
	assert.Contains(t, body.Message, "net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, []string{"launch", "goto", "close"}, driver.history())
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()

	ready := NewServer(nil, testConfig(), nil, WithReadinessCheck("database", func(context.Context) error { return nil }))
	rec := serve(ready, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(ready, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(ready, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	notReady := NewServer(nil, testConfig(), nil, WithReadinessCheck("database", func(context.Context) error {
		return errors.New("connection refused")
	}))
	rec = serve(notReady, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, thumbnail.Request) (thumbnail.Result, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(panicGenerator{}, testConfig(), nil)
	rec := serve(srv, "/api/thumbnail?url=example.com")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, thumbnail.CategoryInternal, decodeError(t, rec).Error)
}

type deadlineGenerator struct{}

func (deadlineGenerator) Generate(ctx context.Context, _ thumbnail.Request) (thumbnail.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		return thumbnail.Result{}, errors.New("no deadline on request context")
	}
	return thumbnail.Result{Data: []byte{1}, MIMEType: "image/png", Extension: "png"}, nil
}

func TestRequestTimeoutBoundsContext(t *testing.T) {
	t.Parallel()

	srv := NewServer(deadlineGenerator{}, testConfig(), nil)
	rec := serve(srv, "/api/thumbnail?url=example.com")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `inline; filename="thumbnail.png"`, rec.Header().Get("Content-Disposition"))
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

type fakeApp struct {
	requests []thumbnail.Request
	result   thumbnail.Result
	err      error
	ran      bool
	closed   int
}

func (a *fakeApp) Run(context.Context) error {
	a.ran = true
	return nil
}

func (a *fakeApp) Generate(_ context.Context, req thumbnail.Request) (thumbnail.Result, error) {
	a.requests = append(a.requests, req)
	return a.result, a.err
}

func (a *fakeApp) Close(context.Context) error {
	a.closed++
	return nil
}

// withFakeApp swaps the factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) (string, string, error) {
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRenderWritesToStdout(t *testing.T) {
	app := &fakeApp{result: thumbnail.Result{Data: []byte("IMG"), MIMEType: "image/png", Extension: "png", Width: 10, Height: 5}}
	cfgPath := withFakeApp(t, app)

	stdout, _, err := execute("render", "--config", "cfg.yaml", "--url", "example.com", "--width", "10", "--format", "PNG")
	require.NoError(t, err)

	assert.Equal(t, "IMG", stdout)
	assert.Equal(t, "cfg.yaml", *cfgPath)
	assert.Equal(t, 1, app.closed)
	require.Len(t, app.requests, 1)
	req := app.requests[0]
	assert.Equal(t, "example.com", req.URL)
	require.NotNil(t, req.Width)
	assert.Equal(t, 10, *req.Width)
	assert.Nil(t, req.Height)
	assert.Equal(t, thumbnail.FormatPNG, req.Format)
	assert.Equal(t, thumbnail.DefaultQuality, req.Quality)
}

func TestRenderBase64ToFile(t *testing.T) {
	app := &fakeApp{result: thumbnail.Result{Data: []byte{1, 2, 3}, MIMEType: "image/webp", Extension: "webp"}}
	withFakeApp(t, app)

	out := filepath.Join(t.TempDir(), "thumb.txt")
	_, stderr, err := execute("render", "--url", "https://example.com", "--base64", "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "data:image/webp;base64,AQID\n", string(data))
	assert.Contains(t, stderr, "wrote "+out)
}

func TestRenderPropagatesCategory(t *testing.T) {
	app := &fakeApp{err: thumbnail.Errorf(thumbnail.CategoryNavigationFailed, "navigate", "net::ERR_NAME_NOT_RESOLVED")}
	withFakeApp(t, app)

	_, _, err := execute("render", "--url", "https://nonexistent.invalid")
	require.Error(t, err)
	assert.ErrorIs(t, err, thumbnail.ErrNavigationFailed)
	assert.Equal(t, 1, app.closed)
}

func TestRenderClosesAppWhenOutputFails(t *testing.T) {
	app := &fakeApp{result: thumbnail.Result{Data: []byte("IMG"), MIMEType: "image/png", Extension: "png"}}
	withFakeApp(t, app)

	out := filepath.Join(t.TempDir(), "missing-dir", "thumb.png")
	_, _, err := execute("render", "--url", "example.com", "-o", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write "+out)
	assert.Equal(t, 1, app.closed)
}

func TestRenderRequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, _, err := execute("render")
	assert.Error(t, err)
}

func TestServeRunsAndCloses(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, _, err := execute("serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.Equal(t, 1, app.closed)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = orig })

	_, _, err := execute("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
}

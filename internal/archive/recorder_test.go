package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/publisher"
	pubmemory "github.com/JakeFAU/webthumb/internal/publisher/memory"
	"github.com/JakeFAU/webthumb/internal/storage/memory"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

type fakeRenderStore struct {
	mu     sync.Mutex
	events []thumbnail.RenderEvent
	err    error
}

func (s *fakeRenderStore) StoreRender(_ context.Context, e thumbnail.RenderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeRenderStore) stored() []thumbnail.RenderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thumbnail.RenderEvent(nil), s.events...)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func successEvent() thumbnail.RenderEvent {
	return thumbnail.RenderEvent{
		ID:         "render-1",
		URL:        "https://example.com",
		Format:     thumbnail.FormatWebP,
		Quality:    80,
		Width:      400,
		Height:     300,
		Bytes:      4,
		Outcome:    thumbnail.CategoryOK,
		RenderedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Data:       []byte("RIFF"),
		MIMEType:   "image/webp",
	}
}

func TestArchiveWritesEverySink(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	rows := &fakeRenderStore{}
	pub := pubmemory.New()
	rec := New(Config{Prefix: "thumbnails", Topic: "renders"}, nil,
		WithBlobStore(blobs), WithRenderStore(rows), WithPublisher(pub))

	stored, err := rec.Archive(context.Background(), successEvent())
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("RIFF"))
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.ContentHash)
	assert.Equal(t, "memory://thumbnails/2026/05/06/render-1.webp", stored.BlobURI)
	assert.Nil(t, stored.Data)

	obj, ok := blobs.Get("thumbnails/2026/05/06/render-1.webp")
	require.True(t, ok)
	assert.Equal(t, []byte("RIFF"), obj.Data)
	assert.Equal(t, "image/webp", obj.ContentType)
	assert.Equal(t, map[string]string{
		"render_id":  "render-1",
		"source_url": "https://example.com",
		"width":      "400",
		"height":     "300",
		"sha256":     hex.EncodeToString(sum[:]),
	}, obj.Metadata)

	require.Len(t, rows.stored(), 1)
	assert.Equal(t, stored.BlobURI, rows.stored()[0].BlobURI)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "renders", msgs[0].Topic)
	assert.Equal(t, EventTypeRender, msgs[0].Attributes[publisher.AttrEventType])
	assert.Equal(t, "OK", msgs[0].Attributes[publisher.AttrOutcome])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	assert.Equal(t, stored.BlobURI, payload["blob_uri"])
	assert.NotContains(t, payload, "Data")
}

func TestArchiveFailedRenderSkipsBlob(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	rows := &fakeRenderStore{}
	rec := New(Config{}, nil, WithBlobStore(blobs), WithRenderStore(rows))

	ev := thumbnail.RenderEvent{ID: "r2", URL: "https://nonexistent.invalid", Outcome: thumbnail.CategoryNavigationFailed, ErrorText: "net::ERR_NAME_NOT_RESOLVED"}
	stored, err := rec.Archive(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, stored.BlobURI)
	assert.Empty(t, stored.ContentHash)
	assert.Empty(t, blobs.Paths())
	require.Len(t, rows.stored(), 1)
	assert.Equal(t, thumbnail.CategoryNavigationFailed, rows.stored()[0].Outcome)
}

func TestArchiveKeepsGoingWhenSinksFail(t *testing.T) {
	t.Parallel()

	metrics.Init()
	rows := &fakeRenderStore{}
	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	rec := New(Config{Topic: "renders"}, nil, WithBlobStore(failingBlobs{}), WithRenderStore(rows), WithPublisher(pub))

	before := testutil.ToFloat64(metrics.ArchiveFailures("blob"))
	stored, err := rec.Archive(context.Background(), successEvent())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bucket gone")
	assert.ErrorContains(t, err, "broker down")
	assert.Empty(t, stored.BlobURI)
	assert.NotEmpty(t, stored.ContentHash)
	require.Len(t, rows.stored(), 1, "row is written even when the blob upload fails")
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.ArchiveFailures("blob")), 0.001)
}

func TestArchiveAssignsMissingID(t *testing.T) {
	t.Parallel()

	rec := New(Config{}, nil)
	ev := successEvent()
	ev.ID = ""
	stored, err := rec.Archive(context.Background(), ev)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
}

func TestRecordRunsInBackgroundAndCloseWaits(t *testing.T) {
	t.Parallel()

	rows := &fakeRenderStore{}
	rec := New(Config{}, nil, WithRenderStore(rows))

	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, successEvent())
	cancel()

	require.NoError(t, rec.Close(context.Background()))
	assert.Len(t, rows.stored(), 1, "caller cancellation must not abort archiving")

	rec.Record(context.Background(), successEvent())
	require.NoError(t, rec.Close(context.Background()))
	assert.Len(t, rows.stored(), 1, "events after Close are dropped")
}

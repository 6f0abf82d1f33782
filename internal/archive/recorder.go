// Package archive keeps a write-only audit trail of renders: the encoded thumbnail goes to a blob
// store, one row per attempt goes to the render log, and a notification is published. Nothing here
// is ever read back to serve a request.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/publisher"
	"github.com/JakeFAU/webthumb/internal/storage"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// EventTypeRender is the event_type attribute of render notifications.
const EventTypeRender = "thumbnail.rendered"

// DefaultTimeout bounds one archive pass.
const DefaultTimeout = 10 * time.Second

// RenderStore persists render rows.
type RenderStore interface {
	StoreRender(ctx context.Context, event thumbnail.RenderEvent) error
}

// Config controls where and how long archiving happens.
type Config struct {
	Prefix  string
	Topic   string
	Timeout time.Duration
}

// Recorder implements thumbnail.Recorder. Record returns immediately; the work runs in the
// background and Close waits for it.
type Recorder struct {
	cfg       Config
	blobs     storage.BlobStore
	renders   RenderStore
	publisher publisher.Publisher
	logger    *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ thumbnail.Recorder = (*Recorder)(nil)

// Option wires an optional sink.
type Option func(*Recorder)

// WithBlobStore archives thumbnail bytes.
func WithBlobStore(s storage.BlobStore) Option {
	return func(r *Recorder) { r.blobs = s }
}

// WithRenderStore writes render rows.
func WithRenderStore(s RenderStore) Option {
	return func(r *Recorder) { r.renders = s }
}

// WithPublisher announces renders on cfg.Topic.
func WithPublisher(p publisher.Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// New builds a Recorder. Sinks that are not configured are skipped.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Recorder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record archives event in the background. Events arriving after Close are dropped.
func (r *Recorder) Record(ctx context.Context, event thumbnail.RenderEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("archive closed, dropping render event", zap.String("url", event.URL))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if _, err := r.Archive(context.WithoutCancel(ctx), event); err != nil {
			r.logger.Warn("archive render failed",
				zap.String("render_id", event.ID),
				zap.String("url", event.URL),
				zap.Error(err),
			)
		}
	}()
}

// Archive runs one archive pass synchronously and returns the event as it was stored. Each sink is
// attempted even when another fails; the returned error joins every failure.
func (r *Recorder) Archive(ctx context.Context, event thumbnail.RenderEvent) (thumbnail.RenderEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return event, fmt.Errorf("generate render id: %w", err)
		}
		event.ID = id.String()
	}

	var errs []error
	if event.Succeeded() && len(event.Data) > 0 {
		sum := sha256.Sum256(event.Data)
		event.ContentHash = hex.EncodeToString(sum[:])
		if r.blobs != nil {
			uri, err := r.putBlob(ctx, event)
			if err != nil {
				metrics.ObserveArchiveFailure("blob")
				errs = append(errs, err)
			} else {
				event.BlobURI = uri
			}
		}
	}

	var (
		g                    errgroup.Group
		storeErr, publishErr error
	)
	if r.renders != nil {
		g.Go(func() error {
			if err := r.renders.StoreRender(ctx, event); err != nil {
				metrics.ObserveArchiveFailure("database")
				storeErr = fmt.Errorf("store render: %w", err)
			}
			return nil
		})
	}
	if r.publisher != nil && r.cfg.Topic != "" {
		g.Go(func() error {
			if err := r.publish(ctx, event); err != nil {
				metrics.ObserveArchiveFailure("publish")
				publishErr = err
			}
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, storeErr, publishErr)

	event.Data = nil
	if err := errors.Join(errs...); err != nil {
		return event, err
	}
	r.logger.Debug("render archived",
		zap.String("render_id", event.ID),
		zap.String("blob_uri", event.BlobURI),
		zap.String("outcome", string(event.Outcome)),
	)
	return event, nil
}

func (r *Recorder) putBlob(ctx context.Context, event thumbnail.RenderEvent) (string, error) {
	path, err := storage.ObjectPath(r.cfg.Prefix, event.RenderedAt, event.ID, event.Format.Extension())
	if err != nil {
		return "", fmt.Errorf("build blob path: %w", err)
	}
	contentType := event.MIMEType
	if contentType == "" {
		contentType = event.Format.MIMEType()
	}
	ctx = storage.WithMetadata(ctx, map[string]string{
		"render_id":  event.ID,
		"source_url": event.URL,
		"width":      strconv.Itoa(event.Width),
		"height":     strconv.Itoa(event.Height),
		"sha256":     event.ContentHash,
	})
	uri, err := r.blobs.PutObject(ctx, path, contentType, bytes.NewReader(event.Data))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (r *Recorder) publish(ctx context.Context, event thumbnail.RenderEvent) error {
	ctx = publisher.WithAttributes(ctx, map[string]string{
		publisher.AttrEventType: EventTypeRender,
		publisher.AttrOutcome:   string(event.Outcome),
		publisher.AttrFormat:    string(event.Format),
	})
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish render: %w", err)
	}
	r.logger.Debug("render published", zap.String("render_id", event.ID), zap.String("message_id", id))
	return nil
}

// Close stops accepting events and waits for in-flight archives or ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for archive: %w", ctx.Err())
	}
}

package thumbnail

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/logging"
	"github.com/JakeFAU/webthumb/internal/metrics"
)

// DefaultMaxDimension caps each requested output axis.
const DefaultMaxDimension = 4096

const tracerName = "github.com/JakeFAU/webthumb/internal/thumbnail"

// Pipeline sequences normalize -> capture -> transform for one request at a time.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	capturer     Capturer
	transformer  Transformer
	recorder     Recorder
	clock        Clock
	idGen        IDGenerator
	maxDimension int
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithIDGenerator overrides the render ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) { p.idGen = g }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

// WithMaxDimension overrides DefaultMaxDimension.
func WithMaxDimension(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxDimension = n
		}
	}
}

// NewPipeline builds a Pipeline from its two heavy collaborators.
func NewPipeline(capturer Capturer, transformer Transformer, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if capturer == nil {
		return nil, fmt.Errorf("capturer is required")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		capturer:     capturer,
		transformer:  transformer,
		clock:        systemClock{},
		idGen:        uuidGenerator{},
		maxDimension: DefaultMaxDimension,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Generate runs one request end to end. It never retries and never returns partial output:
// either a complete Result or a *Error.
func (p *Pipeline) Generate(ctx context.Context, req Request) (Result, error) {
	start := p.clock.Now()
	logger := logging.FromContext(ctx, p.logger)
	ctx, span := p.tracer.Start(ctx, "thumbnail.Generate")
	defer span.End()

	format := DefaultFormat
	if req.Format != "" {
		format = ParseFormat(string(req.Format))
	}
	opts := TransformOptions{
		Width:   req.Width,
		Height:  req.Height,
		Quality: ClampQuality(req.Quality),
		Format:  format,
	}
	event := RenderEvent{
		URL:             req.URL,
		Format:          format,
		Quality:         opts.Quality,
		RequestedWidth:  derefInt(req.Width),
		RequestedHeight: derefInt(req.Height),
		RenderedAt:      start,
	}

	result, err := p.run(ctx, req.URL, opts, &event)
	event.Duration = p.clock.Now().Sub(start)
	event.Outcome = CategoryOf(err)
	metrics.ObserveRender(string(format), string(event.Outcome), event.Duration)

	span.SetAttributes(
		attribute.String("thumbnail.url", event.URL),
		attribute.String("thumbnail.format", string(format)),
		attribute.String("thumbnail.outcome", string(event.Outcome)),
	)

	if err != nil {
		event.ErrorText = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(event.Outcome))
		logger.Warn("thumbnail generation failed",
			zap.String("url", event.URL),
			zap.String("category", string(event.Outcome)),
			zap.Duration("duration", event.Duration),
			zap.Error(err),
		)
		p.record(ctx, event)
		return Result{}, err
	}

	event.Width = result.Width
	event.Height = result.Height
	event.Bytes = len(result.Data)
	event.MIMEType = result.MIMEType
	event.Data = result.Data
	metrics.ObserveOutputBytes(string(format), len(result.Data))
	logger.Info("thumbnail generated",
		zap.String("url", event.URL),
		zap.String("format", string(format)),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("bytes", len(result.Data)),
		zap.Duration("duration", event.Duration),
	)
	p.record(ctx, event)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, rawURL string, opts TransformOptions, event *RenderEvent) (Result, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	event.URL = target

	if err := p.validateDimensions(opts); err != nil {
		return Result{}, err
	}

	frame, err := p.capturer.Capture(ctx, target)
	if err != nil {
		return Result{}, ensureCategory(err, CategoryNavigationFailed, "capture")
	}

	result, err := p.transformer.Transform(ctx, frame, opts)
	if err != nil {
		return Result{}, ensureCategory(err, CategoryEncodingFailed, "transform")
	}
	return result, nil
}

func (p *Pipeline) validateDimensions(opts TransformOptions) error {
	check := func(name string, v *int) error {
		if v == nil {
			return nil
		}
		if *v <= 0 {
			return Errorf(CategoryInvalidRequest, "validate request", "%s must be a positive integer", name)
		}
		if *v > p.maxDimension {
			return Errorf(CategoryInvalidRequest, "validate request", "%s must be <= %d", name, p.maxDimension)
		}
		return nil
	}
	if err := check("width", opts.Width); err != nil {
		return err
	}
	return check("height", opts.Height)
}

func (p *Pipeline) record(ctx context.Context, event RenderEvent) {
	if p.recorder == nil {
		return
	}
	id, err := p.idGen.NewID()
	if err != nil {
		p.logger.Warn("render id generation failed", zap.Error(err))
	}
	event.ID = id
	// The audit trail outlives a caller that hung up right after the response.
	p.recorder.Record(context.WithoutCancel(ctx), event)
}

// ensureCategory keeps typed errors as they are and classifies anything else.
func ensureCategory(err error, fallback Category, op string) error {
	if CategoryOf(err) != CategoryInternal {
		return err
	}
	return NewError(fallback, op, err)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

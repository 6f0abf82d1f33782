package imaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// Engine implements thumbnail.Transformer with the contain resize policy: a frame is never cropped
// or stretched, and when both dimensions are requested the remainder of the box is padded with
// transparent white (flattened to white for JPEG).
type Engine struct {
	encoders map[thumbnail.Format]EncodeFunc
	logger   *zap.Logger
}

var (
	_ thumbnail.Transformer = (*Engine)(nil)
	_ Codec                 = (*Engine)(nil)
)

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEncoder replaces the encoder for one format.
func WithEncoder(format thumbnail.Format, fn EncodeFunc) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.encoders[format] = fn
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine returns an Engine with the webp, jpeg and png encoders registered.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		encoders: map[thumbnail.Format]EncodeFunc{
			thumbnail.FormatWebP: encodeWebP,
			thumbnail.FormatJPEG: encodeJPEG,
			thumbnail.FormatPNG:  encodePNG,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transform decodes frame, applies the contain geometry and encodes the result.
func (e *Engine) Transform(ctx context.Context, frame thumbnail.Frame, opts thumbnail.TransformOptions) (thumbnail.Result, error) {
	format := opts.Format
	if format == "" {
		format = thumbnail.DefaultFormat
	} else {
		format = thumbnail.ParseFormat(string(format))
	}
	quality := thumbnail.ClampQuality(opts.Quality)

	if err := ctx.Err(); err != nil {
		return thumbnail.Result{}, encodingErr("transform", err)
	}
	start := time.Now()
	img, err := e.Decode(frame.Data)
	if err != nil {
		return thumbnail.Result{}, encodingErr("decode", err)
	}
	metrics.ObserveStage("decode", time.Since(start))

	if err := ctx.Err(); err != nil {
		return thumbnail.Result{}, encodingErr("resize", err)
	}
	start = time.Now()
	b := img.Bounds()
	geom := Contain(b.Dx(), b.Dy(), opts.Width, opts.Height)
	resized := e.Resize(img, geom)
	metrics.ObserveStage("resize", time.Since(start))

	if err := ctx.Err(); err != nil {
		return thumbnail.Result{}, encodingErr("encode", err)
	}
	start = time.Now()
	data, err := e.Encode(resized, format, quality)
	if err != nil {
		return thumbnail.Result{}, encodingErr("encode", err)
	}
	metrics.ObserveStage("encode", time.Since(start))

	e.logger.Debug("frame transformed",
		zap.String("format", string(format)),
		zap.Int("quality", quality),
		zap.Int("width", geom.CanvasWidth),
		zap.Int("height", geom.CanvasHeight),
		zap.Bool("padded", geom.Padded()),
	)
	return thumbnail.Result{
		Data:      data,
		MIMEType:  format.MIMEType(),
		Extension: format.Extension(),
		Width:     geom.CanvasWidth,
		Height:    geom.CanvasHeight,
	}, nil
}

func encodingErr(op string, err error) error {
	return thumbnail.NewError(thumbnail.CategoryEncodingFailed, op, err)
}

package thumbnail

import (
	"encoding/base64"
	"strings"
	"time"
)

// Capture viewport. Every frame is rendered at this size.
const (
	ViewportWidth  = 1920
	ViewportHeight = 1080
)

// Request defaults and bounds.
const (
	DefaultQuality = 80
	MinQuality     = 1
	MaxQuality     = 100
	DefaultFormat  = FormatWebP
)

// Format is an output codec.
type Format string

// Supported output formats.
const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat resolves a caller-supplied format name. Matching is case-insensitive, "jpg" is an
// alias for jpeg, and anything unrecognized falls back to webp.
func ParseFormat(raw string) Format {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "jpeg", "jpg":
		return FormatJPEG
	case "png":
		return FormatPNG
	default:
		return FormatWebP
	}
}

// MIMEType returns the content type for the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

// Extension returns the file extension, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG, FormatPNG:
		return string(f)
	default:
		return string(FormatWebP)
	}
}

// ClampQuality forces q into [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	switch {
	case q < MinQuality:
		return MinQuality
	case q > MaxQuality:
		return MaxQuality
	default:
		return q
	}
}

// Request is one thumbnail job as received from the request boundary.
type Request struct {
	URL      string
	Width    *int
	Height   *int
	Quality  int
	Format   Format
	AsBase64 bool
}

// NewRequest returns a Request for rawURL with the service defaults applied.
func NewRequest(rawURL string) Request {
	return Request{
		URL:     rawURL,
		Quality: DefaultQuality,
		Format:  DefaultFormat,
	}
}

// Frame is the raw screenshot produced by a browser session.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// TransformOptions carries the resize and encoding knobs for one frame.
// A nil Width or Height leaves that axis unconstrained.
type TransformOptions struct {
	Width   *int
	Height  *int
	Quality int
	Format  Format
}

// Result is the encoded thumbnail.
type Result struct {
	Data      []byte
	MIMEType  string
	Extension string
	Width     int
	Height    int
}

// Filename returns the inline filename advertised to clients.
func (r Result) Filename() string {
	return "thumbnail." + r.Extension
}

// DataURI returns the result as a base64 data URI.
func (r Result) DataURI() string {
	return "data:" + r.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// RenderEvent is the audit record emitted once per Generate call.
type RenderEvent struct {
	ID              string        `json:"id"`
	URL             string        `json:"url"`
	Format          Format        `json:"format"`
	Quality         int           `json:"quality"`
	RequestedWidth  int           `json:"requested_width,omitempty"`
	RequestedHeight int           `json:"requested_height,omitempty"`
	Width           int           `json:"width,omitempty"`
	Height          int           `json:"height,omitempty"`
	Bytes           int           `json:"bytes"`
	ContentHash     string        `json:"content_hash,omitempty"`
	BlobURI         string        `json:"blob_uri,omitempty"`
	Outcome         Category      `json:"outcome"`
	ErrorText       string        `json:"error_text,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	RenderedAt      time.Time     `json:"rendered_at"`
	Data            []byte        `json:"-"`
	MIMEType        string        `json:"mime_type,omitempty"`
}

// Succeeded reports whether the event describes a produced thumbnail.
func (e RenderEvent) Succeeded() bool {
	return e.Outcome == CategoryOK
}

// IntPtr is a small helper for building optional dimensions.
func IntPtr(v int) *int {
	return &v
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

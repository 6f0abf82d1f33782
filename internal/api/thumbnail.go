package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/logging"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

type base64Response struct {
	Base64 string `json:"base64"`
}

// getThumbnail serves GET /api/thumbnail.
func (s *Server) getThumbnail(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.AsBase64 {
		writeJSON(w, http.StatusOK, base64Response{Base64: result.DataURI()})
		return
	}

	h := w.Header()
	h.Set("Content-Type", result.MIMEType)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", result.Filename()))
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("write thumbnail failed", zap.Error(err))
	}
}

// parseRequest reads the query into a thumbnail.Request. Only syntax is checked here; range and
// URL validation belong to the pipeline.
func (s *Server) parseRequest(q url.Values) (thumbnail.Request, error) {
	req := thumbnail.NewRequest(q.Get("url"))
	if s.cfg.Thumbnail.DefaultQuality != 0 {
		req.Quality = s.cfg.Thumbnail.DefaultQuality
	}
	if s.cfg.Thumbnail.DefaultFormat != "" {
		req.Format = thumbnail.ParseFormat(s.cfg.Thumbnail.DefaultFormat)
	}

	var err error
	if req.Width, err = optionalInt(q, "width"); err != nil {
		return req, err
	}
	if req.Height, err = optionalInt(q, "height"); err != nil {
		return req, err
	}
	quality, err := optionalInt(q, "quality")
	if err != nil {
		return req, err
	}
	if quality != nil {
		req.Quality = *quality
	}
	if raw := q.Get("format"); raw != "" {
		req.Format = thumbnail.ParseFormat(raw)
	}
	if raw := q.Get("base64"); raw != "" {
		b, perr := strconv.ParseBool(strings.TrimSpace(raw))
		if perr != nil {
			return req, thumbnail.Errorf(thumbnail.CategoryInvalidRequest, "parse query", "base64 must be a boolean, got %q", raw)
		}
		req.AsBase64 = b
	}
	return req, nil
}

func optionalInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, thumbnail.Errorf(thumbnail.CategoryInvalidRequest, "parse query", "%s must be an integer, got %q", name, raw)
	}
	return &v, nil
}

func asThumbnailError(err error) (*thumbnail.Error, bool) {
	var e *thumbnail.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

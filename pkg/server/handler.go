// Package server exposes a volume provider over HTTP: file listing, volume
// metadata, rendered slices and cache reset.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"voxview/internal/models"
	"voxview/pkg/decoder"
	"voxview/pkg/listing"
	"voxview/pkg/provider"
	"voxview/pkg/visualization"
)

// Options configures a Handler
type Options struct {
	// Root is the directory request paths are resolved against
	Root string

	Listing listing.Options

	// Render returns the display settings for an orientation. Defaults to
	// visualization.DefaultRenderOptions.
	Render func(models.Orientation) visualization.RenderOptions

	// ApplyAspect stretches slices by the volume's voxel spacing
	ApplyAspect bool
}

// Handler wires HTTP endpoints to a provider. The provider is not safe for
// concurrent use, so every request holding it goes through mu.
type Handler struct {
	mu       sync.Mutex
	provider *provider.Provider
	opts     Options
	logger   *slog.Logger
}

// New constructs a handler with its dependencies.
func New(p *provider.Provider, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Render == nil {
		opts.Render = visualization.DefaultRenderOptions
	}
	return &Handler{provider: p, opts: opts, logger: logger}
}

// Register mounts the endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/files", h.HandleFiles)
	r.Get("/api/volume", h.HandleVolume)
	r.Get("/api/slice", h.HandleSlice)
	r.Post("/api/reset", h.HandleReset)
}

// HandleFiles handles GET /api/files requests.
func (h *Handler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	exts := h.provider.ValidExtensions()
	h.mu.Unlock()

	files, err := listing.Scan(h.opts.Root, exts, h.opts.Listing)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing failed", "root", h.opts.Root, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, FilesResponse{Root: h.opts.Root, Files: files})
}

// HandleVolume handles GET /api/volume requests.
func (h *Handler) HandleVolume(w http.ResponseWriter, r *http.Request) {
	path, hint, ok := h.volumeParams(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	if _, err := h.provider.Load(path, hint); err != nil {
		h.writeLoadError(w, r, path, err)
		return
	}
	size, _ := h.provider.Size()
	resp := VolumeResponse{
		Path:    r.URL.Query().Get("path"),
		Decoder: h.provider.Decoder(),
		Size:    SizeResponse{X: size.X, Y: size.Y, Z: size.Z},
		Slices:  map[string]int{},
		Aspect:  map[string]float64{},
	}
	for _, o := range []models.Orientation{models.Axial, models.Coronal, models.Sagittal} {
		resp.Slices[o.String()] = h.provider.SliceCount(path, o, hint)
		if ratio, ok := h.provider.AspectRatio(o); ok {
			resp.Aspect[o.String()] = ratio
		}
	}
	h.logger.InfoContext(r.Context(), "volume info served",
		"path", path,
		"decoder", resp.Decoder,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, resp)
}

// HandleSlice handles GET /api/slice requests and returns a PNG.
func (h *Handler) HandleSlice(w http.ResponseWriter, r *http.Request) {
	path, hint, ok := h.volumeParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	o, err := models.ParseOrientation(q.Get("orientation"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	index, err := strconv.Atoi(q.Get("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "index must be an integer")
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "png"
	}

	h.mu.Lock()
	slice, err := h.provider.ImageSlice(path, index, o, hint)
	ratio, hasRatio := h.provider.AspectRatio(o)
	h.mu.Unlock()
	if err != nil {
		if errors.Is(err, provider.ErrIndexOutOfRange) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		h.writeLoadError(w, r, path, err)
		return
	}

	opts := h.opts.Render(o)
	if h.opts.ApplyAspect && hasRatio {
		opts.AspectRatio = ratio
	}
	if name := q.Get("colormap"); name != "" {
		if !visualization.ValidColormap(name) {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown colormap "+strconv.Quote(name))
			return
		}
		opts.Colormap = name
	}
	if bar := q.Get("colorbar"); bar != "" {
		opts.Colorbar, err = strconv.ParseBool(bar)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "colorbar must be a boolean")
			return
		}
	}
	img, err := visualization.NewViewer(opts).Render(slice)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	var buf bytes.Buffer
	if err := visualization.Encode(&buf, img, format); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	contentType := "image/png"
	if format != "png" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HandleReset handles POST /api/reset requests.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.provider.ResetCache()
	h.mu.Unlock()
	h.logger.InfoContext(r.Context(), "volume cache reset")
	w.WriteHeader(http.StatusNoContent)
}

// volumeParams resolves the path and optional size query parameters.
func (h *Handler) volumeParams(w http.ResponseWriter, r *http.Request) (string, *models.Size, bool) {
	q := r.URL.Query()
	rel := q.Get("path")
	if rel == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return "", nil, false
	}
	var hint *models.Size
	if s := q.Get("size"); s != "" {
		size, err := models.ParseSize(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return "", nil, false
		}
		hint = &size
	}
	return h.resolve(rel), hint, true
}

// resolve maps a request path below Root; ".." cannot climb out of it.
func (h *Handler) resolve(rel string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(strings.TrimPrefix(rel, "./")))
	return filepath.Join(h.opts.Root, clean)
}

func (h *Handler) writeLoadError(w http.ResponseWriter, r *http.Request, path string, err error) {
	var nerr *decoder.NoDecoderError
	switch {
	case errors.Is(err, decoder.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such volume")
	case errors.As(err, &nerr):
		h.logger.WarnContext(r.Context(), "volume could not be decoded",
			"path", path,
			"bytes", nerr.Bytes,
			"attempts", len(nerr.Failures),
		)
		reasons := make([]string, len(nerr.Failures))
		for i, f := range nerr.Failures {
			reasons[i] = f.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:       "unsupported_volume",
			Description: "could not load volume",
			Bytes:       nerr.Bytes,
			Failures:    reasons,
		})
	default:
		h.logger.ErrorContext(r.Context(), "volume load failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, Description: description})
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gigatile/internal/cache"
	"gigatile/internal/catalog"
	"gigatile/internal/config"
	"gigatile/internal/fetch"
	"gigatile/internal/provider"
	"gigatile/internal/viewer"
	"gigatile/internal/viewport"
)

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	catalog *catalog.Catalog
	viewers *viewer.Manager
}

func New(config *config.Config, logger *zap.Logger, catalog *catalog.Catalog, viewers *viewer.Manager) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		catalog: catalog,
		viewers: viewers,
	}
}

// Routes registers every endpoint on a new mux wrapped in the CORS and
// request logging middleware.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/images", h.HandleImages)
	mux.HandleFunc("/api/images/", h.HandleImageRoutes)
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.catalog.Images())
}

func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.config.IsUploadPublic() {
		token := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != h.config.UploadToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !provider.SourceExtensions[ext] {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}

	tempFile, err := os.CreateTemp(os.TempDir(), "upload_*"+ext)
	if err != nil {
		h.logger.Error("Failed to create temp file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempPath := tempFile.Name()

	if _, err := io.Copy(tempFile, file); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		h.logger.Error("Failed to copy file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempFile.Close()

	imageID, err := h.catalog.Ingest(tempPath, header.Filename)
	if err != nil {
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
		h.logger.Error("Failed to process uploaded file", zap.Error(err))
		http.Error(w, "Failed to process file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":    imageID,
		"name":  header.Filename,
		"saved": true,
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleImageRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/images/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	imageID := parts[0]

	switch parts[1] {
	case "meta":
		h.handleImageMeta(w, r, imageID)
	case "view":
		h.handleView(w, r, imageID)
	default:
		http.NotFound(w, r)
	}
}

type imageMeta struct {
	catalog.ImageInfo
	TileSize   int         `json:"tile_size"`
	ZoomLevels int         `json:"zoom_levels"`
	Cache      cache.Stats `json:"cache"`
	Fetch      fetch.Stats `json:"fetch"`
}

func (h *Handlers) handleImageMeta(w http.ResponseWriter, r *http.Request, imageID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := h.catalog.Get(imageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	v, err := h.viewers.Get(imageID)
	if err != nil {
		h.writeOpenError(w, imageID, err)
		return
	}

	writeJSON(w, imageMeta{
		ImageInfo:  info,
		TileSize:   v.Engine().TileSize().X,
		ZoomLevels: v.ZoomLevels(),
		Cache:      v.CacheStats(),
		Fetch:      v.FetchStats(),
	})
}

func (h *Handlers) handleView(w http.ResponseWriter, r *http.Request, imageID string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseViewRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := h.viewers.Get(imageID)
	if err != nil {
		h.writeOpenError(w, imageID, err)
		return
	}
	if limit := viewport.MaxZoom(image.Pt(req.Width, req.Height), v.ImageSize()); req.Zoom > limit {
		http.Error(w, fmt.Sprintf("zoom must be at most %g", limit), http.StatusBadRequest)
		return
	}

	snap, err := v.Render(r.Context(), req)
	if err != nil {
		// The client went away; nothing useful to send.
		h.logger.Debug("View render aborted", zap.String("image", imageID), zap.Error(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Tile-Level", strconv.Itoa(snap.Stats.Level))
	w.Header().Set("X-Tiles-Drawn", strconv.Itoa(snap.Stats.Drawn))
	w.Header().Set("X-Tiles-Fallback", strconv.Itoa(snap.Stats.Fallbacks))
	w.Header().Set("X-Tiles-Blank", strconv.Itoa(snap.Stats.Blank))
	w.Header().Set("X-Render-Passes", strconv.Itoa(snap.Passes))
	w.Header().Set("X-View-Complete", strconv.FormatBool(snap.Stats.Complete()))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := png.Encode(w, snap.Image); err != nil {
		h.logger.Warn("Failed to encode view", zap.String("image", imageID), zap.Error(err))
	}
}

func (h *Handlers) parseViewRequest(r *http.Request) (viewer.Request, error) {
	q := r.URL.Query()
	req := viewer.Request{Width: 512, Height: 512, Zoom: 1, Wait: h.config.ViewWait}

	var err error
	if req.Width, err = intParam(q.Get("w"), req.Width); err != nil {
		return req, fmt.Errorf("invalid width: %w", err)
	}
	if req.Height, err = intParam(q.Get("h"), req.Height); err != nil {
		return req, fmt.Errorf("invalid height: %w", err)
	}
	if req.Width <= 0 || req.Height <= 0 || req.Width > h.config.MaxViewPixels || req.Height > h.config.MaxViewPixels {
		return req, fmt.Errorf("view size must be between 1 and %d", h.config.MaxViewPixels)
	}
	if req.Zoom, err = floatParam(q.Get("zoom"), req.Zoom); err != nil || req.Zoom <= 0 || math.IsInf(req.Zoom, 0) || math.IsNaN(req.Zoom) {
		return req, fmt.Errorf("invalid zoom")
	}

	if q.Get("cx") != "" || q.Get("cy") != "" {
		cx, err := strconv.ParseFloat(q.Get("cx"), 64)
		if err != nil {
			return req, fmt.Errorf("invalid cx: %w", err)
		}
		cy, err := strconv.ParseFloat(q.Get("cy"), 64)
		if err != nil {
			return req, fmt.Errorf("invalid cy: %w", err)
		}
		req.Center = &viewport.Point{X: cx, Y: cy}
	}

	if wait := q.Get("wait"); wait != "" {
		ms, err := strconv.Atoi(wait)
		if err != nil || ms < 0 {
			return req, fmt.Errorf("invalid wait")
		}
		req.Wait = min(time.Duration(ms)*time.Millisecond, h.config.ViewWait)
	}
	return req, nil
}

func (h *Handlers) writeOpenError(w http.ResponseWriter, imageID string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("Failed to open image", zap.String("image", imageID), zap.Error(err))
	http.Error(w, "Failed to open image", http.StatusInternalServerError)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func floatParam(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

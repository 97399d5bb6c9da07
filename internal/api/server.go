package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/metrics"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

const maxRequestBytes = 64 << 10

// Resolver runs one pipeline resolution.
type Resolver interface {
	Resolve(ctx context.Context, model string) retrieval.Result
}

// ReadyFunc reports whether downstream dependencies can serve requests.
type ReadyFunc func(ctx context.Context) error

// Config controls routing and timeouts.
type Config struct {
	RequestTimeout time.Duration
	// StaticPrefix is the URL path that cached images are served under.
	StaticPrefix string
	// StaticDir is the cache directory served under StaticPrefix.
	StaticDir string
}

// Server wires HTTP handlers to the resolver.
type Server struct {
	router   chi.Router
	resolver Resolver
	ready    ReadyFunc
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(resolver Resolver, ready ReadyFunc, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	cfg.StaticPrefix = "/" + strings.Trim(cfg.StaticPrefix, "/") + "/"
	if cfg.StaticPrefix == "//" {
		cfg.StaticPrefix = "/images/"
	}
	s := &Server{
		resolver: resolver,
		ready:    ready,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	if cfg.StaticDir != "" {
		files := http.StripPrefix(cfg.StaticPrefix, http.FileServer(http.Dir(cfg.StaticDir)))
		r.Handle(cfg.StaticPrefix+"*", files)
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/api/shoe-image", s.resolveShoeImage)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type shoeImageRequest struct {
	Model string `json:"model"`
}

type shoeImageResponse struct {
	Success                bool     `json:"success"`
	Model                  string   `json:"model"`
	Source                 string   `json:"source,omitempty"`
	ImageURL               string   `json:"imageUrl,omitempty"`
	RawImageURL            string   `json:"rawImageUrl,omitempty"`
	ValidatorInputURL      string   `json:"validatorInputUrl,omitempty"`
	ApprovedRawURL         string   `json:"approvedRawUrl,omitempty"`
	RejectedImageURL       string   `json:"rejectedImageUrl,omitempty"`
	GeminiValidationStatus string   `json:"geminiValidationStatus,omitempty"`
	OriginalImageURL       string   `json:"originalImageUrl,omitempty"`
	Brand                  string   `json:"brand,omitempty"`
	Keywords               []string `json:"keywords,omitempty"`
	Error                  string   `json:"error,omitempty"`
}

func (s *Server) resolveShoeImage(w http.ResponseWriter, r *http.Request) {
	var req shoeImageRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		msg := "invalid JSON"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	res := s.resolver.Resolve(r.Context(), req.Model)
	writeJSON(w, statusFor(res), s.toResponse(res))
}

func statusFor(res retrieval.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Outcome == retrieval.OutcomeInvalid:
		return http.StatusBadRequest
	case res.Outcome == retrieval.OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) toResponse(res retrieval.Result) shoeImageResponse {
	out := shoeImageResponse{
		Success:                res.Success,
		Model:                  res.Query,
		Source:                 res.Source,
		ImageURL:               s.publicURL(res.ArtifactPath),
		RawImageURL:            s.publicURL(res.Artifacts.Raw),
		ValidatorInputURL:      s.publicURL(res.Artifacts.ValidatorInput),
		ApprovedRawURL:         s.publicURL(res.Artifacts.ApprovedRaw),
		RejectedImageURL:       s.publicURL(res.Artifacts.Rejected),
		GeminiValidationStatus: string(res.ValidationStatus),
		OriginalImageURL:       res.OriginalURL,
		Error:                  res.ErrorText(),
	}
	if res.Success && res.Model != "" {
		out.Model = res.Model
	}
	if res.Verdict != nil {
		out.Brand = res.Verdict.Brand
		out.Keywords = res.Verdict.Keywords
	}
	return out
}

func (s *Server) publicURL(rel string) string {
	if rel == "" {
		return ""
	}
	return s.cfg.StaticPrefix + strings.TrimPrefix(rel, "/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, shoeImageResponse{Success: false, Error: msg})
}

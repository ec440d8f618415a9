package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediawatch/internal/collector/social"
	"github.com/JakeFAU/mediawatch/internal/grounding"
	"github.com/JakeFAU/mediawatch/internal/media"
	"github.com/JakeFAU/mediawatch/internal/metrics"
	"github.com/JakeFAU/mediawatch/internal/queue"
)

// QueueStats reports job counts for a queue.
type QueueStats interface {
	Counts(ctx context.Context, queue string) (queue.Counts, error)
}

// SocialCollector sweeps a single client on demand.
type SocialCollector interface {
	CollectClient(ctx context.Context, clientID string, opts social.Options) (social.Stats, error)
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Clients  media.ClientStore
	Enqueuer media.Enqueuer
	Queues   QueueStats
	Social   SocialCollector
	// QueueNames lists the queues reported by GET /v1/queues.
	QueueNames []string
	// Ready reports downstream health for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Options configure middleware.
type Options struct {
	APIKey  string
	Timeout time.Duration
}

// collectorQueues maps collector names accepted by the run route to queues.
var collectorQueues = map[string]string{
	"rss":      queue.CollectRSS,
	"gdelt":    queue.CollectGDELT,
	"newsdata": queue.CollectNewsData,
	"google":   queue.CollectGoogle,
	"social":   queue.CollectSocial,
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(opts.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/clients/{client_id}", func(r chi.Router) {
			r.Post("/grounding", s.triggerGrounding)
			r.Post("/social", s.collectSocial)
		})
		r.Post("/collectors/{name}/run", s.runCollector)
		r.Post("/social/{mention_id}/comments", s.extractComments)
		r.Get("/queues", s.queueCounts)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type groundingRequest struct {
	Days    int                    `json:"days"`
	Trigger media.GroundingTrigger `json:"trigger"`
}

func (s *Server) triggerGrounding(w http.ResponseWriter, r *http.Request) {
	var req groundingRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	switch req.Trigger {
	case "":
		req.Trigger = media.TriggerManual
	case media.TriggerManual, media.TriggerOnboarding:
	default:
		writeError(w, http.StatusBadRequest, "trigger must be manual or onboarding")
		return
	}

	client, ok := s.loadClient(w, r)
	if !ok {
		return
	}
	payload := grounding.Request(client, req.Trigger, req.Days)
	if err := grounding.Enqueue(r.Context(), s.deps.Enqueuer, payload, 0); err != nil {
		s.logger.Error("enqueue grounding failed", zap.String("client_id", client.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue grounding")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"client_id": client.ID,
		"trigger":   payload.Trigger,
		"days":      payload.Days,
	})
}

type socialRequest struct {
	Platforms       []media.Platform `json:"platforms"`
	Handles         *bool            `json:"handles"`
	Hashtags        *bool            `json:"hashtags"`
	IncludeKeywords *bool            `json:"includeKeywords"`
}

func (s *Server) collectSocial(w http.ResponseWriter, r *http.Request) {
	if s.deps.Social == nil {
		writeError(w, http.StatusServiceUnavailable, "social collection not configured")
		return
	}
	var req socialRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	for _, p := range req.Platforms {
		if !p.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", p))
			return
		}
	}
	clientID := chi.URLParam(r, "client_id")
	stats, err := s.deps.Social.CollectClient(r.Context(), clientID, social.Options{
		Platforms:    req.Platforms,
		SkipHandles:  !boolOrDefault(req.Handles, true),
		SkipHashtags: !boolOrDefault(req.Hashtags, true),
		SkipKeywords: !boolOrDefault(req.IncludeKeywords, true),
	})
	switch {
	case errors.Is(err, social.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "ensembledata token not configured")
		return
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, "client not found")
		return
	case err != nil:
		s.logger.Error("social collection failed", zap.String("client_id", clientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "social collection failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) runCollector(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q, ok := collectorQueues[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collector not found")
		return
	}
	err := s.deps.Enqueuer.Add(r.Context(), q, map[string]string{"trigger": "manual"}, media.JobOptions{
		IdempotencyKey: "manual:" + name,
		Attempts:       1,
	})
	if err != nil {
		s.logger.Error("enqueue collector run failed", zap.String("collector", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue collector run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"collector": name, "queue": q})
}

type commentsRequest struct {
	MaxComments int `json:"maxComments"`
}

func (s *Server) extractComments(w http.ResponseWriter, r *http.Request) {
	var req commentsRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.MaxComments < 0 {
		writeError(w, http.StatusBadRequest, "maxComments must be >= 0")
		return
	}
	id := chi.URLParam(r, "mention_id")
	err := s.deps.Enqueuer.Add(r.Context(), queue.ExtractSocialComments, social.CommentsRequest{
		MentionID:   id,
		MaxComments: req.MaxComments,
	}, media.JobOptions{IdempotencyKey: "comments:" + id})
	if err != nil {
		s.logger.Error("enqueue comment extraction failed", zap.String("social_mention_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue comment extraction")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"mention_id": id})
}

func (s *Server) queueCounts(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.Counts, len(s.deps.QueueNames))
	for _, name := range s.deps.QueueNames {
		counts, err := s.deps.Queues.Counts(r.Context(), name)
		if err != nil {
			s.logger.Error("queue counts failed", zap.String("queue", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read queue counts")
			return
		}
		out[name] = counts
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (s *Server) loadClient(w http.ResponseWriter, r *http.Request) (media.Client, bool) {
	id := chi.URLParam(r, "client_id")
	client, err := s.deps.Clients.Get(r.Context(), id)
	if errors.Is(err, media.ErrNotFound) {
		writeError(w, http.StatusNotFound, "client not found")
		return media.Client{}, false
	}
	if err != nil {
		s.logger.Error("load client failed", zap.String("client_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load client")
		return media.Client{}, false
	}
	return client, true
}

// decodeOptional reads a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON")
	return false
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

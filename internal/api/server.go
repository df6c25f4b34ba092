package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/middleware"
	"github.com/pncplab/harvester/internal/progress/sinks"
)

// ProgressSource reports the latest ingestion run state. The progress
// tracker sink satisfies it.
type ProgressSource interface {
	Snapshot() sinks.RunStatus
}

// Server wires HTTP handlers to the notice store.
type Server struct {
	router   chi.Router
	store    catalog.Store
	progress ProgressSource
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The progress
// source may be nil when no ingestion runs in this process.
func NewServer(store catalog.Store, progressSource ProgressSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, progress: progressSource, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.getProgress)
		r.Route("/notices", func(r chi.Router) {
			r.Get("/", s.listNotices)
			r.Route("/{control_number}", func(r chi.Router) {
				r.Get("/", s.getNotice)
				r.Get("/items", s.listItems)
				r.Get("/files", s.listFiles)
				r.Get("/markdown/{sequence}", s.getMarkdown)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store round trip doubles as the readiness probe.
	if _, err := s.store.CountItems(r.Context(), "readyz-probe"); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		s.writeError(w, http.StatusNotFound, "progress reporting not enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.progress.Snapshot())
}

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.NoticeFilter{
		OrgName:      q.Get("orgao"),
		Modality:     q.Get("tipo"),
		Status:       q.Get("situacao"),
		Municipality: q.Get("municipio"),
	}
	from, err := parseDateParam(q.Get("data_inicio"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid data_inicio")
		return
	}
	to, err := parseDateParam(q.Get("data_fim"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid data_fim")
		return
	}
	filter.PublishedFrom = from
	filter.PublishedTo = to

	notices, err := s.store.SearchNotices(r.Context(), filter)
	if err != nil {
		s.logger.Error("list notices failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list notices")
		return
	}
	if notices == nil {
		notices = []catalog.Notice{}
	}
	s.writeJSON(w, http.StatusOK, notices)
}

func (s *Server) getNotice(w http.ResponseWriter, r *http.Request) {
	controlNumber := chi.URLParam(r, "control_number")
	notice, err := s.store.GetNotice(r.Context(), controlNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "notice not found")
		return
	}
	if err != nil {
		s.logger.Error("get notice failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load notice")
		return
	}
	s.writeJSON(w, http.StatusOK, notice)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	controlNumber := chi.URLParam(r, "control_number")
	items, err := s.store.ListItems(r.Context(), controlNumber)
	if err != nil {
		s.logger.Error("list items failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	controlNumber := chi.URLParam(r, "control_number")
	files, err := s.store.ListAttachments(r.Context(), controlNumber)
	if err != nil {
		s.logger.Error("list attachments failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if files == nil {
		files = []catalog.Attachment{}
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) getMarkdown(w http.ResponseWriter, r *http.Request) {
	controlNumber := chi.URLParam(r, "control_number")
	sequence, err := parseSequence(chi.URLParam(r, "sequence"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}
	conv, err := s.store.GetConversion(r.Context(), controlNumber, sequence)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "markdown content not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversion failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load markdown")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"control_number": conv.ControlNumber,
		"sequence":       conv.Sequence,
		"filename":       conv.Filename,
		"content":        conv.Content,
		"ok":             conv.OK,
	})
}

func parseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseSequence(s string) (int, error) {
	seq, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if seq < 0 {
		return 0, errors.New("negative sequence")
	}
	return seq, nil
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

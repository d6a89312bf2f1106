package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"calreport/internal/capture"
	"calreport/internal/config"
	"calreport/internal/export"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/pdf"
	"calreport/internal/report"
	"calreport/internal/source"
)

const (
	eventsCacheTTL = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// EventLoader supplies the unfiltered event list for the configured feeds.
type EventLoader interface {
	Load(ctx context.Context, now time.Time) ([]model.Event, error)
}

// Server exposes the report as a download and the rendered view as a preview.
type Server struct {
	cfg      *config.Config
	router   chi.Router
	loader   EventLoader
	capturer capture.Capturer
	font     pdf.Font
	now      func() time.Time

	// In-memory cache of the loaded feeds to avoid redundant fetch/parse/
	// expand work on every HTTP request.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

// eventsCache holds the last loaded event list and its timestamp.
type eventsCache struct {
	events    []model.Event
	updatedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithFont sets the header font of generated documents.
func WithFont(f pdf.Font) Option {
	return func(s *Server) {
		s.font = f
	}
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loader EventLoader, capturer capture.Capturer, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		loader:   loader,
		capturer: capturer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}

		r.Get("/api/events", s.handleEvents)
		r.Get("/api/report.pdf", s.handleReportFromFeeds)
		r.Post("/api/report.pdf", s.handleReportFromBody)
		r.Get("/report/preview", s.handlePreview)
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calreport", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		appLog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// StartServer serves s on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Refresh reloads the feeds into the cache regardless of its age.
func (s *Server) Refresh(ctx context.Context) error {
	events, err := s.loader.Load(ctx, s.now())
	if err != nil {
		return err
	}
	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{events: events, updatedAt: s.now()}
	s.eventsMu.Unlock()
	return nil
}

// feedEvents returns cached events, reloading once the cache is stale.
func (s *Server) feedEvents(ctx context.Context) ([]model.Event, error) {
	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && s.now().Sub(ec.updatedAt) < eventsCacheTTL {
		return ec.events, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return s.eventsCache.events, nil
}

func filterFromQuery(r *http.Request) model.Filter {
	q := r.URL.Query()
	return model.Filter{Status: q.Get("status"), Engineer: q.Get("engineer")}.Normalize()
}

// filteredFeedEvents loads the feeds and applies the query filter. On failure
// it has already written the response.
func (s *Server) filteredFeedEvents(w http.ResponseWriter, r *http.Request) ([]model.Event, model.Filter, bool) {
	filter := filterFromQuery(r)

	all, err := s.feedEvents(r.Context())
	if err != nil {
		appLog.Error("failed to load feeds", err)
		writeError(w, http.StatusBadGateway, "failed to load events")
		return nil, filter, false
	}

	events, err := source.Apply(all, filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, filter, false
	}
	return events, filter, true
}

type eventsResponse struct {
	Events []model.Event `json:"events"`
	Filter model.Filter  `json:"filter"`
	Total  int           `json:"total"`
}

// handleEvents returns feed events after filtering.
//
// GET /api/events?status=Open&engineer=Kim&limit=50
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, filter, ok := s.filteredFeedEvents(w, r)
	if !ok {
		return
	}

	total := len(events)
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Filter: filter, Total: total})
}

// handleReportFromFeeds exports the report for the configured feeds.
func (s *Server) handleReportFromFeeds(w http.ResponseWriter, r *http.Request) {
	events, filter, ok := s.filteredFeedEvents(w, r)
	if !ok {
		return
	}
	s.writeReport(w, r, events, filter)
}

// handleReportFromBody exports the report for events supplied by the caller,
// who is responsible for filtering and ordering them.
func (s *Server) handleReportFromBody(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	doc, err := source.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event document")
		return
	}
	s.writeReport(w, r, doc.Events, doc.Filter.Normalize())
}

func (s *Server) builder() *report.Builder {
	return report.NewBuilder(
		report.WithLocale(s.cfg.Locale),
		report.WithLocation(s.cfg.Location()),
		report.WithTableWidth(s.cfg.Capture.TableWidth),
	)
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, events []model.Event, filter model.Filter) {
	assembler := pdf.NewAssembler(pdf.WithLocale(s.cfg.Locale), pdf.WithClock(s.now), pdf.WithFont(s.font))
	exp := export.New(s.builder(), s.capturer, assembler, attachmentSaver{w: w})

	if err := exp.Run(r.Context(), events, filter); err != nil {
		stage := export.StageOf(err)
		appLog.Error("export failed", err, "events", len(events), "stage", string(stage))
		if stage != export.StageSave {
			// Once saving started the headers are already on the wire.
			writeError(w, http.StatusInternalServerError, "export failed")
		}
	}
}

// attachmentSaver streams the document as a download.
type attachmentSaver struct {
	w http.ResponseWriter
}

func (a attachmentSaver) Save(_ context.Context, name string, data []byte) error {
	h := a.w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", `attachment; filename="`+name+`"`)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	a.w.WriteHeader(http.StatusOK)
	_, err := a.w.Write(data)
	return err
}

// handlePreview serves the rendered report view for the configured feeds.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	events, filter, ok := s.filteredFeedEvents(w, r)
	if !ok {
		return
	}

	view, err := s.builder().Build(events, filter)
	if err != nil {
		appLog.Error("preview render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render preview")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(view.HTML)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

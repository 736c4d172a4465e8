package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/tile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// PointQuerier builds a location's time series.
type PointQuerier interface {
	Query(ctx context.Context, lat, lon float64) (domain.Series, error)
}

// DateLister lists dates with a composite.
type DateLister interface {
	Dates(ctx context.Context) ([]domain.Date, error)
}

// HotspotFinder ranks a date's hotspots.
type HotspotFinder interface {
	Find(ctx context.Context, date domain.Date, count int) ([]domain.Hotspot, error)
}

// TileRenderer renders a PNG tile and never fails.
type TileRenderer interface {
	Render(ctx context.Context, req tile.Request) []byte
}

// Services are the query backends behind the API routes.
type Services struct {
	Ready    ReadinessChecker
	Points   PointQuerier
	Dates    DateLister
	Hotspots HotspotFinder
	Tiles    TileRenderer
}

// queryTimeout bounds every API request.
const queryTimeout = 20 * time.Second

const tileCacheControl = "public, max-age=3600"

// Server exposes the query API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	svc        Services
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /api routes and /healthz, /readyz, and /metrics.
func NewServer(addr string, svc Services, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:    svc,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(svc.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/dates", s.handleDates)
	mux.HandleFunc("GET /api/point", s.handlePoint)
	mux.HandleFunc("GET /api/hotspots", s.handleHotspots)
	mux.HandleFunc("GET /api/tiles/{date}/{layer}/{z}/{x}/{y}", s.handleTile)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	dates, err := s.svc.Dates.Dates(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.String())
	}
	writeAPI(w, http.StatusOK, out)
}

func (s *Server) handlePoint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	lat, err := floatParam(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := floatParam(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	series, err := s.svc.Points.Query(ctx, lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAPI(w, http.StatusOK, series)
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	date, err := domain.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		if count, err = strconv.Atoi(raw); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: count %q is not an integer", domain.ErrInvalidInput, raw))
			return
		}
	}
	hs, err := s.svc.Hotspots.Find(ctx, date, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAPI(w, http.StatusOK, hs)
}

// handleTile always answers 200 with a PNG; bad requests get the blank tile.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	body := tile.Blank()
	req, err := tile.ParseRequest(r.PathValue("date"), r.PathValue("layer"),
		r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if err == nil {
		body = s.svc.Tiles.Render(ctx, req)
	} else {
		s.logger.Debug("invalid tile request", "path", r.URL.Path, "error", err)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", tileCacheControl)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck // client may have gone away
}

func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidInput, name, raw)
	}
	return v, nil
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeError maps invalid input to 400, missing data to 404 and anything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeAPI(w, status, errorBody{Error: true, Message: msg, Code: status})
}

func writeAPI(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

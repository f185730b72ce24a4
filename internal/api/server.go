// Package api exposes the HTTP interface for the recall service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/config"
	"github.com/kurumaware/recallwatch/internal/dispatch"
	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/news"
	"github.com/kurumaware/recallwatch/internal/recall"
)

// RecallChecker is the dispatcher surface the handlers need.
type RecallChecker interface {
	CheckRecall(ctx context.Context, chassisNumber, maker string, bypassCache bool) (recall.Result, error)
	CheckRecallByModel(ctx context.Context, modelName, typeCode string) (recall.Result, error)
	ClearCache(ctx context.Context, chassisNumber, maker string)
	SupportedMakers() []string
}

// NewsFeed serves the aggregated announcement feed and the ministry
// registry's info scrapes.
type NewsFeed interface {
	FetchAll(ctx context.Context, limitPerMaker int) []recall.News
	DateRange(ctx context.Context) (news.DateRange, error)
	LatestNotices(ctx context.Context) (news.MonthlyNotices, error)
}

// Server wires HTTP handlers to the dispatcher and the news aggregator.
type Server struct {
	router  chi.Router
	checker RecallChecker
	news    NewsFeed
	log     *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(checker RecallChecker, news NewsFeed, log *zap.Logger, cfg config.Config) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{checker: checker, news: news, log: log, cfg: cfg}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))
	r.Use(recoverMiddleware(log))
	r.Use(metricsMiddleware)
	// Registry walks visit every detail page in sequence; the budget has to
	// cover the slowest of them.
	r.Use(timeoutMiddleware(3 * time.Minute))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/recall", func(r chi.Router) {
			r.Post("/check", s.checkRecall)
			r.Post("/check-by-model", s.checkRecallByModel)
			r.Get("/news", s.recallNews)
			r.Get("/date-range", s.dateRange)
			r.Get("/latest-notices", s.latestNotices)
			r.Delete("/cache", s.clearCache)
		})
		r.Get("/manufacturers", s.manufacturers)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type checkRequest struct {
	ChassisNumber string `json:"chassisNumber"`
	Maker         string `json:"maker"`
	SkipCache     bool   `json:"skipCache"`
}

func (s *Server) checkRecall(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := s.checker.CheckRecall(r.Context(), req.ChassisNumber, req.Maker, req.SkipCache)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeData(w, http.StatusOK, result)
}

type modelCheckRequest struct {
	ModelName string `json:"modelName"`
	TypeCode  string `json:"typeCode"`
}

func (s *Server) checkRecallByModel(w http.ResponseWriter, r *http.Request) {
	var req modelCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := s.checker.CheckRecallByModel(r.Context(), req.ModelName, req.TypeCode)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) recallNews(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeData(w, http.StatusOK, s.news.FetchAll(r.Context(), limit))
}

func (s *Server) dateRange(w http.ResponseWriter, r *http.Request) {
	span, err := s.news.DateRange(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "届出日範囲の取得に失敗しました")
		return
	}
	writeData(w, http.StatusOK, span)
}

func (s *Server) latestNotices(w http.ResponseWriter, r *http.Request) {
	monthly, err := s.news.LatestNotices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "リコール届出の取得に失敗しました")
		return
	}
	writeData(w, http.StatusOK, monthly)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	chassis := r.URL.Query().Get("chassis")
	maker := r.URL.Query().Get("maker")
	s.checker.ClearCache(r.Context(), chassis, maker)
	writeData(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type manufacturer struct {
	Name      string `json:"name"`
	Supported bool   `json:"supported"`
}

func (s *Server) manufacturers(w http.ResponseWriter, _ *http.Request) {
	supported := make(map[string]bool)
	for _, m := range s.checker.SupportedMakers() {
		supported[m] = true
	}
	out := make([]manufacturer, 0, len(recall.Makers))
	for _, m := range recall.Makers {
		out = append(out, manufacturer{Name: m, Supported: supported[m]})
	}
	writeData(w, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrChassisRequired),
		errors.Is(err, dispatch.ErrMakerRequired),
		errors.Is(err, dispatch.ErrUnsupportedMaker),
		errors.Is(err, dispatch.ErrModelRequired):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// envelope is the uniform response shape: data on success, error otherwise.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

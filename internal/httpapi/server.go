package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/briefing"
	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

const (
	defaultSignalsLimit = 25
	maxSignalsLimit     = 200
)

var (
	errSignalNotFound   = errors.New("signal not found")
	errClusterNotFound  = errors.New("cluster not found")
	errBriefingNotFound = errors.New("briefing not found")
)

type Options struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool      *db.Pool
	briefings *briefing.Service
	logger    zerolog.Logger
	opts      Options
}

func NewServer(pool *db.Pool, briefings *briefing.Service, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:      pool,
		briefings: briefings,
		logger:    logger,
		opts:      opts,
	}
}

// Start runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/healthz", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/sources", s.handleSources)
	api.GET("/signals", s.handleSignals)
	api.GET("/signals/:raw_item_id", s.handleSignalDetail)
	api.GET("/clusters/:cluster_id", s.handleClusterDetail)
	api.GET("/briefings", s.handleBriefings)
	api.GET("/briefings/:briefing_id", s.handleBriefingDetail)
	api.POST("/briefings/generate", s.handleGenerateBriefing)

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "newsbot",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.queryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleSources(c echo.Context) error {
	rows, err := s.querySources(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query sources failed")
		return internalError(c, "Failed to load sources")
	}
	return success(c, map[string]any{"items": rows})
}

func (s *Server) handleSignals(c echo.Context) error {
	minScore, err := parseScoreFilter(c.QueryParam("min_score"))
	if err != nil {
		return failValidation(c, map[string]string{"min_score": err.Error()})
	}
	hours, err := parsePositiveInt(c.QueryParam("hours"), 24, 1, 24*30)
	if err != nil {
		return failValidation(c, map[string]string{"hours": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultSignalsLimit, 1, maxSignalsLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	filter := signalFilter{
		MinScore: minScore,
		Since:    globaltime.UTC().Add(-time.Duration(hours) * time.Hour),
		Limit:    limit,
		Offset:   offset,
	}
	rows, err := s.querySignals(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query signals failed")
		return internalError(c, "Failed to load signals")
	}

	return success(c, map[string]any{
		"items": rows,
		"filters": map[string]any{
			"min_score": minScore,
			"hours":     hours,
			"limit":     limit,
			"offset":    offset,
		},
	})
}

func (s *Server) handleSignalDetail(c echo.Context) error {
	rawItemID := strings.TrimSpace(c.Param("raw_item_id"))
	if rawItemID == "" {
		return failValidation(c, map[string]string{"raw_item_id": "is required"})
	}

	detail, err := s.querySignalDetail(c.Request().Context(), rawItemID)
	if err != nil {
		if errors.Is(err, errSignalNotFound) {
			return failNotFound(c, "Signal not found")
		}
		s.logger.Error().Err(err).Str("raw_item_id", rawItemID).Msg("query signal detail failed")
		return internalError(c, "Failed to load signal detail")
	}
	return success(c, detail)
}

func (s *Server) handleClusterDetail(c echo.Context) error {
	clusterID := strings.TrimSpace(c.Param("cluster_id"))
	if clusterID == "" {
		return failValidation(c, map[string]string{"cluster_id": "is required"})
	}

	detail, err := s.queryClusterDetail(c.Request().Context(), clusterID)
	if err != nil {
		if errors.Is(err, errClusterNotFound) {
			return failNotFound(c, "Cluster not found")
		}
		s.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("query cluster detail failed")
		return internalError(c, "Failed to load cluster detail")
	}
	return success(c, detail)
}

func (s *Server) handleBriefings(c echo.Context) error {
	scope := strings.TrimSpace(c.QueryParam("scope"))
	if scope != "" {
		parsed, err := briefing.ParseScope(scope)
		if err != nil {
			return failValidation(c, map[string]string{"scope": err.Error()})
		}
		scope = parsed
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 14, 1, 90)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	rows, err := s.queryBriefings(c.Request().Context(), scope, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query briefings failed")
		return internalError(c, "Failed to load briefings")
	}
	return success(c, map[string]any{"items": rows})
}

func (s *Server) handleBriefingDetail(c echo.Context) error {
	briefingID := strings.TrimSpace(c.Param("briefing_id"))
	if briefingID == "" {
		return failValidation(c, map[string]string{"briefing_id": "is required"})
	}

	detail, err := s.queryBriefingDetail(c.Request().Context(), briefingID)
	if err != nil {
		if errors.Is(err, errBriefingNotFound) {
			return failNotFound(c, "Briefing not found")
		}
		s.logger.Error().Err(err).Str("briefing_id", briefingID).Msg("query briefing detail failed")
		return internalError(c, "Failed to load briefing detail")
	}
	return success(c, detail)
}

type generateBriefingRequest struct {
	Scope string `json:"scope"`
	Date  string `json:"date"`
	Force bool   `json:"force"`
}

func (s *Server) handleGenerateBriefing(c echo.Context) error {
	if s.briefings == nil {
		return internalError(c, "Briefing generation is not available")
	}

	var req generateBriefingRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}

	date := globaltime.UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
		if err != nil {
			return failValidation(c, map[string]string{"date": "must be YYYY-MM-DD"})
		}
		date = parsed
	}

	result, err := s.briefings.Generate(c.Request().Context(), req.Scope, date, req.Force)
	if err != nil {
		if errors.Is(err, briefing.ErrInvalidScope) {
			return failValidation(c, map[string]string{"scope": err.Error()})
		}
		s.logger.Error().Err(err).Msg("generate briefing failed")
		return internalError(c, "Failed to generate briefing")
	}

	payload := map[string]any{
		"briefing_id":  result.BriefingID,
		"scope":        result.Scope,
		"period_start": result.PeriodStart,
		"period_end":   result.PeriodEnd,
		"item_count":   result.ItemCount,
		"generated":    result.Generated,
	}
	if result.Generated {
		return successWithStatus(c, http.StatusCreated, payload)
	}
	return success(c, payload)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseScoreFilter(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("must be between 0 and 1")
	}
	return value, nil
}

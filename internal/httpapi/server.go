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

	"horse.fit/marketpulse/internal/db"
	"horse.fit/marketpulse/internal/globaltime"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// Store is the read side the API serves from. *db.Pool satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	ListChannels(ctx context.Context) ([]string, error)
	QueryReport(ctx context.Context, opts db.ReportOptions) ([]db.ReportRow, error)
	GetQuote(ctx context.Context, symbol string) (db.Quote, bool, error)
	ListRecentScored(ctx context.Context, limit int) ([]db.RecentItem, error)
	QueryIngestStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.IngestStats, error)
}

type Options struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	store  Store
	logger zerolog.Logger
	opts   Options
}

func NewServer(store Store, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		store:  store,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			AllowedOrigins:  origins,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Handler builds the echo router without starting a listener.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
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
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/channels", s.handleChannels)
	api.GET("/report", s.handleReport)
	api.GET("/instruments/:symbol", s.handleInstrument)
	api.GET("/items/recent", s.handleRecentItems)
	api.GET("/stats", s.handleStats)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
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

	s.logger.Info().Str("addr", addr).Msg("marketpulse api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("marketpulse api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	database := "ok"
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health ping failed")
		database = "unavailable"
	}
	return success(c, map[string]any{
		"service":  "marketpulse",
		"database": database,
		"time":     globaltime.UTC(),
	})
}

func (s *Server) handleChannels(c echo.Context) error {
	channels, err := s.store.ListChannels(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list channels failed")
		return internalError(c, "Failed to load channels")
	}
	if channels == nil {
		channels = []string{}
	}
	return success(c, map[string]any{
		"items": channels,
	})
}

func (s *Server) handleReport(c echo.Context) error {
	var channels []string
	for _, raw := range c.QueryParams()["channel"] {
		channels = append(channels, strings.Split(raw, ",")...)
	}
	opts, err := db.ReportOptions{
		Channels: channels,
		SortBy:   c.QueryParam("sort_by"),
		Order:    c.QueryParam("order"),
	}.Normalize()
	if err != nil {
		field := "sort_by"
		if strings.HasPrefix(err.Error(), "order") {
			field = "order"
		}
		return failValidation(c, map[string]string{field: err.Error()})
	}

	rows, err := s.store.QueryReport(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query report failed")
		return internalError(c, "Failed to load report")
	}
	if rows == nil {
		rows = []db.ReportRow{}
	}
	return success(c, map[string]any{
		"sort_by":  opts.SortBy,
		"order":    opts.Order,
		"channels": opts.Channels,
		"items":    rows,
	})
}

func (s *Server) handleInstrument(c echo.Context) error {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		return failValidation(c, map[string]string{"symbol": "is required"})
	}

	quote, found, err := s.store.GetQuote(c.Request().Context(), symbol)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("get quote failed")
		return internalError(c, "Failed to load instrument")
	}
	if !found {
		return failNotFound(c, "Instrument not found")
	}
	return success(c, quote)
}

func (s *Server) handleRecentItems(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRecentLimit, 1, maxRecentLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	items, err := s.store.ListRecentScored(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list recent items failed")
		return internalError(c, "Failed to load recent items")
	}
	if items == nil {
		items = []db.RecentItem{}
	}
	return success(c, map[string]any{
		"items": items,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	dayStart, dayEnd := globaltime.DayBounds(globaltime.UTC())
	stats, err := s.store.QueryIngestStats(c.Request().Context(), dayStart, dayEnd)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
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

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/globaltime"
	"horse.fit/pageid/internal/metrics"
	"horse.fit/pageid/internal/resolve"
	pageschema "horse.fit/pageid/schema"
)

const defaultBodyLimit = "256K"

// Resolver is the resolution surface the API serves.
type Resolver interface {
	Resolve(ctx context.Context, payload fingerprint.PageIdentity) (resolve.Result, error)
	Get(ctx context.Context, pageID string) (resolve.Record, error)
}

// Pinger reports store reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	BodyLimit          string
	CORSAllowedOrigins []string
	// Compare holds the server's match thresholds; compare requests may override them.
	Compare fingerprint.CompareOptions
}

type Server struct {
	resolver Resolver
	pinger   Pinger
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	opts     Options
}

type compareRequest struct {
	Subject   json.RawMessage   `json:"subject"`
	Candidate json.RawMessage   `json:"candidate"`
	Options   *compareOverrides `json:"options,omitempty"`
}

type compareOverrides struct {
	MaxContentDistance        *int     `json:"maxContentDistance,omitempty"`
	MinLayoutSimilarity       *float64 `json:"minLayoutSimilarity,omitempty"`
	RequireCanonicalAgreement *bool    `json:"requireCanonicalAgreement,omitempty"`
}

type compareResponse struct {
	Comparison fingerprint.Comparison `json:"comparison"`
	Score      float64                `json:"score"`
}

func NewServer(resolver Resolver, pinger Pinger, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8095
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
	if strings.TrimSpace(opts.BodyLimit) == "" {
		opts.BodyLimit = defaultBodyLimit
	}

	return &Server{
		resolver: resolver,
		pinger:   pinger,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Handler builds the echo router with middleware and routes.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(s.opts.BodyLimit))

	allowOrigins := s.opts.CORSAllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(s.observe)
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

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/page-identities/resolve", s.handleResolve)
	api.POST("/page-identities/compare", s.handleCompare)
	api.GET("/page-identities/:page_id", s.handleGet)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.resolver == nil {
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

	s.logger.Info().Str("addr", addr).Msg("pageid server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("pageid server stopped")
	return nil
}

func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(c.Request().Method, route, status, time.Since(started))
		return err
	}
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
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
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
	data := map[string]any{
		"service": "pageid",
		"time":    globaltime.UTC(),
	}
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check database ping failed")
			return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleResolve(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return fail(c, http.StatusBadRequest, "Could not read request body", nil)
	}

	payload, err := pageschema.ValidatePageIdentityPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	result, err := s.resolver.Resolve(c.Request().Context(), payload)
	if err != nil {
		return s.resolveError(c, err, "resolve page identity failed")
	}
	return success(c, result)
}

func (s *Server) handleGet(c echo.Context) error {
	pageID := strings.TrimSpace(c.Param("page_id"))
	if pageID == "" {
		return failValidation(c, map[string]string{"page_id": "page_id is required"})
	}

	record, err := s.resolver.Get(c.Request().Context(), pageID)
	if err != nil {
		return s.resolveError(c, err, "load page identity failed")
	}
	return success(c, record)
}

func (s *Server) handleCompare(c echo.Context) error {
	var req compareRequest
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object with subject and candidate"})
	}

	fieldErrors := map[string]string{}
	subject, err := pageschema.ValidatePageIdentityPayload(req.Subject)
	if err != nil {
		fieldErrors["subject"] = err.Error()
	}
	candidate, err := pageschema.ValidatePageIdentityPayload(req.Candidate)
	if err != nil {
		fieldErrors["candidate"] = err.Error()
	}
	opts, optErrors := s.compareOptions(req.Options)
	for key, value := range optErrors {
		fieldErrors[key] = value
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	ranked := fingerprint.Rank(subject, []fingerprint.Candidate{{ID: "candidate", Identity: candidate}}, opts)
	return success(c, compareResponse{
		Comparison: ranked[0].Comparison,
		Score:      ranked[0].Score,
	})
}

func (s *Server) compareOptions(overrides *compareOverrides) (fingerprint.CompareOptions, map[string]string) {
	opts := s.opts.Compare
	if overrides == nil {
		return opts, nil
	}

	fieldErrors := map[string]string{}
	if v := overrides.MaxContentDistance; v != nil {
		if *v < 0 || *v > fingerprint.SignatureBits {
			fieldErrors["options.maxContentDistance"] = fmt.Sprintf("must be between 0 and %d", fingerprint.SignatureBits)
		}
		opts.MaxContentDistance = fingerprint.ContentDistanceOption(*v)
	}
	if v := overrides.MinLayoutSimilarity; v != nil {
		if *v <= 0 || *v > 1 {
			fieldErrors["options.minLayoutSimilarity"] = "must be in (0, 1]"
		}
		opts.MinLayoutSimilarity = *v
	}
	if v := overrides.RequireCanonicalAgreement; v != nil {
		opts.RequireCanonicalAgreement = *v
	}
	return opts, fieldErrors
}

func (s *Server) resolveError(c echo.Context, err error, logMessage string) error {
	switch {
	case errors.Is(err, resolve.ErrNotFound):
		return failNotFound(c, "Page identity not found")
	case errors.Is(err, resolve.ErrInvalidPayload):
		return failValidation(c, map[string]string{"payload": err.Error()})
	case errors.Is(err, resolve.ErrStoreUnavailable), errors.Is(err, resolve.ErrStoreWriteFailed):
		s.logger.Error().Err(err).Msg(logMessage)
		return errorWithStatus(c, http.StatusServiceUnavailable, "Page identity store unavailable")
	default:
		s.logger.Error().Err(err).Msg(logMessage)
		return internalError(c, "Internal server error")
	}
}

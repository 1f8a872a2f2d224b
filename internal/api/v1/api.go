// internal/api/v1/api.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/buildinfo"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/fetch"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability"
	"github.com/tphakala/farmdash/internal/store"
)

// Request limits
const (
	// maxBodySize bounds request bodies; diagnosis uploads carry a photo.
	maxBodySize = "10M"
	// maxImageSize bounds the multipart image kept in memory.
	maxImageSize = 8 << 20
)

// SessionManager starts and ends sessions. *auth.Manager implements it.
type SessionManager interface {
	Login(ctx context.Context, creds backend.Credentials) (*auth.Session, error)
	Register(ctx context.Context, reg backend.Registration) (*auth.Session, error)
	Logout(ctx context.Context) error
	Current() (*auth.Session, error)
}

// Controller serves the local JSON API over the store.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	fetcher  *fetch.Fetcher
	store    *store.Store
	sessions SessionManager

	metrics   *observability.Metrics
	apiLogger *slog.Logger
	startTime time.Time
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics exposes the registry on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the structured request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.apiLogger = l }
}

// New creates the controller and registers every route on e.
func New(e *echo.Echo, fetcher *fetch.Fetcher, sessions SessionManager, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		fetcher:   fetcher,
		store:     fetcher.Store(),
		sessions:  sessions,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiLogger == nil {
		c.apiLogger = logging.ForService("api")
	}

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.BodyLimit(maxBodySize))
	c.Group.Use(c.LoggingMiddleware())

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initAuthRoutes()
	c.initCollectionRoutes()
	c.initActionRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// LoggingMiddleware logs every request with its status and latency.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("query", req.URL.RawQuery),
				slog.Int("status", ctx.Response().Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			c.apiLogger.LogAttrs(req.Context(), slog.LevelDebug, "API Request", attrs...)
			return err
		}
	}
}

// HealthCheck reports liveness and whether a session is active.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	_, err := c.sessions.Current()
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"loggedIn":  err == nil,
		"version":   buildinfo.Get().Version,
		"uptime":    time.Since(c.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Category      string `json:"category,omitempty"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err and writes it with the status derived from its category.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	code := StatusFor(err)
	resp := &ErrorResponse{
		Error:         err.Error(),
		Category:      string(errors.CategoryOf(err)),
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}

	level := slog.LevelWarn
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	c.apiLogger.Log(ctx.Request().Context(), level, "API Error",
		"correlation_id", resp.CorrelationID,
		"error", resp.Error,
		"category", resp.Category,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method)

	return ctx.JSON(code, resp)
}

// badRequest writes a validation error for malformed input.
func (c *Controller) badRequest(ctx echo.Context, message string) error {
	return c.HandleError(ctx, errors.ValidationError(message))
}

// StatusFor maps an error to the HTTP status returned to API clients.
func StatusFor(err error) int {
	upstream := backend.StatusCode(err)

	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryAuthentication:
		return http.StatusUnauthorized
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryLimit:
		if upstream == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusPaymentRequired
	case errors.CategoryNetwork, errors.CategoryHTTP, errors.CategoryFileParsing:
		if upstream >= 400 && upstream < 500 {
			return upstream
		}
		return http.StatusBadGateway
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryCancellation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

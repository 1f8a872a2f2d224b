package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/backend"
)

// Login attempts per second per client.
const loginRateLimit = 10

// SessionResponse describes the active session. The token itself is never returned.
type SessionResponse struct {
	FarmerID  string     `json:"farmerId"`
	Email     string     `json:"email"`
	Roles     []string   `json:"roles,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func newSessionResponse(s *auth.Session) SessionResponse {
	resp := SessionResponse{
		FarmerID: s.FarmerID(),
		Email:    s.Claims.Email,
		Roles:    []string(s.Claims.Roles),
	}
	if s.Claims.ExpiresAt != nil {
		exp := s.Claims.ExpiresAt.Time
		resp.ExpiresAt = &exp
	}
	return resp
}

func (c *Controller) initAuthRoutes() {
	limiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      loginRateLimit,
			Burst:     loginRateLimit,
			ExpiresIn: time.Minute,
		},
	))

	c.Group.POST("/auth/login", c.Login, limiter)
	c.Group.POST("/auth/register", c.Register, limiter)
	c.Group.POST("/auth/logout", c.Logout)
	c.Group.GET("/auth/session", c.GetSession)
}

// Login signs in with email and password.
func (c *Controller) Login(ctx echo.Context) error {
	var creds backend.Credentials
	if err := ctx.Bind(&creds); err != nil {
		return c.badRequest(ctx, "invalid login payload")
	}
	sess, err := c.sessions.Login(ctx.Request().Context(), creds)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}

// Register creates an account and signs in.
func (c *Controller) Register(ctx echo.Context) error {
	var reg backend.Registration
	if err := ctx.Bind(&reg); err != nil {
		return c.badRequest(ctx, "invalid registration payload")
	}
	sess, err := c.sessions.Register(ctx.Request().Context(), reg)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, newSessionResponse(sess))
}

// Logout ends the session and clears local state.
func (c *Controller) Logout(ctx echo.Context) error {
	if err := c.sessions.Logout(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetSession returns the active session.
func (c *Controller) GetSession(ctx echo.Context) error {
	sess, err := c.sessions.Current()
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}

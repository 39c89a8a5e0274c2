// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/okhvat/account-sessions/internal/handler"
	"github.com/okhvat/account-sessions/internal/middleware"
)

// RegisterRoutes registers routes that need no authentication. Currently
// only the health check used by load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth wires the session lifecycle endpoints. Unauthenticated
// operations live under /v1/auth; protected endpoints under /v1. The
// rate limiter wraps the credential-bearing endpoints so guessing burns
// the caller's bucket.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/signup", a.Signup)
	g.POST("/login", a.Login)
	// Rotates the refresh token: the presented token is single-use.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts a refresh token in the body (one session) or a bearer
	// access token (all sessions); it deliberately skips the JWT middleware
	// so a client can always end the session it holds the refresh token for.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterAdmin wires the account-guard endpoints behind the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN"))
	g.POST("/accounts/:id/block", h.Block)
	g.DELETE("/accounts/:id/block", h.Unblock)
	g.POST("/accounts/:id/revoke-all", h.RevokeAll)
}

package routes

import (
	"time"

	"commonstories/api/handler"
	"commonstories/api/middleware"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo         *echo.Echo
	Auth         *handler.AuthHandler
	Session      middleware.SessionMiddleware
	CallbackRate *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, authHandler *handler.AuthHandler, sessionMiddleware middleware.SessionMiddleware) *Router {
	return &Router{
		Echo:         e,
		Auth:         authHandler,
		Session:      sessionMiddleware,
		CallbackRate: middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo

	e.GET("/healthz", handler.Health)

	e.POST("/auth/oauth/callback", r.Auth.OAuthCallback, r.CallbackRate.Middleware())
	e.POST("/auth/logout", r.Auth.Logout)
	e.GET("/auth/me", r.Auth.Me, r.Session.RequireSession)
}

package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"commonstories/api/handler"
	apiMiddleware "commonstories/api/middleware"
	"commonstories/api/routes"
	"commonstories/config"
	"commonstories/internal/repository"
	"commonstories/internal/service"
	"commonstories/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	db, err := config.ConnectionDb(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}

	cipherKey, err := cfg.CipherKey()
	if err != nil {
		logger.WithError(err).Fatal("invalid token cipher key")
	}
	cipher, err := utils.NewTokenCipher(cipherKey)
	if err != nil {
		logger.WithError(err).Fatal("token cipher init failed")
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	securityRepo := repository.NewSecurityLogRepository(db)

	oauthClient := service.NewOAuthClient(cfg.OAuth)
	sessionConfig := service.SessionConfig{}

	sessionService := service.NewSessionService(
		sessionRepo,
		userRepo,
		securityRepo,
		oauthClient,
		cipher,
		service.RealClock{},
		logger,
		sessionConfig,
	)
	authService := service.NewAuthService(
		userRepo,
		sessionRepo,
		securityRepo,
		oauthClient,
		cipher,
		service.RealClock{},
		logger,
		sessionConfig,
	)

	authHandler := handler.NewAuthHandler(authService, validate)
	authHandler.CookieDomain = cfg.CookieDomain
	authHandler.SecureCookies = cfg.SecureCookies

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status": v.Status,
				"method": v.Method,
				"uri":    v.URI,
				"ip":     v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	sessionMiddleware := apiMiddleware.SessionMiddleware{
		Service:       sessionService,
		CookieDomain:  cfg.CookieDomain,
		SecureCookies: cfg.SecureCookies,
		Clock:         service.RealClock{},
	}
	router := routes.NewRouter(app, authHandler, sessionMiddleware)
	router.RegisterRoutes()

	go runSessionCleanup(context.Background(), authService, cfg.CleanupInterval, cfg.SessionRetention, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithField("addr", cfg.HTTPAddr).Info("server started")
	if err := app.StartServer(server); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// runSessionCleanup periodically reclaims long-expired session rows. Token
// refresh itself never happens here; it stays inline with requests.
func runSessionCleanup(ctx context.Context, auth *service.AuthService, interval, retention time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auth.CleanupExpiredSessions(ctx, retention); err != nil {
				logger.WithError(err).Warn("session cleanup failed")
			}
		}
	}
}

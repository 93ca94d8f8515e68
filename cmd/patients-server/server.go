package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/patients/internal/config"
	"github.com/ehr/patients/internal/domain/account"
	"github.com/ehr/patients/internal/domain/patient"
	"github.com/ehr/patients/internal/platform/auth"
	"github.com/ehr/patients/internal/platform/db"
	"github.com/ehr/patients/internal/platform/httperr"
	"github.com/ehr/patients/internal/platform/middleware"
	"github.com/ehr/patients/internal/platform/telemetry"
)

// serverDeps are the collaborators owned by the composition root.
type serverDeps struct {
	creds    auth.CredentialStore
	tokens   *auth.TokenService
	patients *patient.Service
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	dbHealth *db.HealthChecker // nil without Postgres
}

type messageResponse struct {
	Message string `json:"message"`
}

func newServer(cfg *config.Config, logger zerolog.Logger, d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.Handler(logger)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimit(rateLimitCfg))
	if d.metrics != nil {
		e.Use(d.metrics.Middleware())
		e.Use(middleware.Audit(logger, d.metrics))
	} else {
		e.Use(middleware.Audit(logger))
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, messageResponse{Message: "Patient Management system API"})
	})
	e.GET("/about", func(c echo.Context) error {
		return c.JSON(http.StatusOK, messageResponse{Message: "Fully functional API to manage your patient records"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.dbHealth != nil {
		e.GET("/health/db", d.dbHealth.Handler())
	}
	if d.gatherer != nil {
		e.GET("/metrics", telemetry.Handler(d.gatherer))
	}

	requireAuth := auth.BearerAuth(d.tokens)
	account.NewHandler(account.NewService(d.creds, d.tokens)).RegisterRoutes(e.Group(""), requireAuth)

	var recordAuth []echo.MiddlewareFunc
	if cfg.RequireAuthForRecords {
		recordAuth = append(recordAuth, requireAuth)
	}
	patient.NewHandler(d.patients).RegisterRoutes(e.Group(""), recordAuth...)

	return e
}

package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"realsync/api/internal/config"
	"realsync/api/internal/estimator"
	"realsync/api/internal/metrics"
	"realsync/api/internal/middleware"
	"realsync/api/internal/models"
	"realsync/api/internal/repository"
	"realsync/api/internal/security"
	"realsync/api/internal/service"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

type HandlerSet struct {
	log       zerolog.Logger
	cfg       *config.AppConfig
	tokens    *security.TokenIssuer
	auth      *service.AuthService
	estimator *service.EstimatorService
	db        Pinger
	cache     Pinger
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, m *metrics.Metrics, cfg *config.AppConfig) HandlerSet {
	tokens := security.NewTokenIssuer(security.TokenConfig{
		AccessSecret:  cfg.Security.JWTAccessSecret,
		RefreshSecret: cfg.Security.JWTRefreshSecret,
		AccessTTL:     cfg.Security.JWTAccessTTL,
		RefreshTTL:    cfg.Security.JWTRefreshTTL,
		Issuer:        cfg.Security.JWTIssuer,
	})

	users := repository.NewUserRepository(db)
	sessions := repository.NewRefreshSessionRepository(cache)
	audit := repository.NewAuditRepository(db)
	runs := repository.NewEstimatorRepository(db)

	uit, err := decimal.NewFromString(cfg.Estimator.UITValue)
	if err != nil {
		log.Warn().Err(err).Str("uit", cfg.Estimator.UITValue).Msg("invalid uit value, using default")
		uit = estimator.DefaultUIT
	}

	return HandlerSet{
		log:       log,
		cfg:       cfg,
		tokens:    tokens,
		auth:      service.NewAuthService(users, sessions, audit, tokens, cfg.Security.BcryptCost, m, log),
		estimator: service.NewEstimatorService(runs, estimator.NewCalculator(uit), cfg.Estimator.UITYear, log),
		db:        db,
		cache:     redisPinger{client: cache},
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	registerValidatorTags()

	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	authenticated := middleware.Auth(h.tokens)

	auth := v1.Group("/auth")
	{
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", authenticated, h.Logout)
		auth.GET("/me", authenticated, h.Me)
	}

	admin := v1.Group("/admin")
	admin.Use(authenticated, middleware.RequireRoles(models.RoleAdminAgency))
	{
		admin.POST("/users/:id/deactivate", h.DeactivateUser)
		admin.POST("/users/:id/activate", h.ActivateUser)
	}

	est := v1.Group("/estimator")
	{
		est.GET("/uit-value", h.UITValue)
		est.POST("/calculate",
			authenticated,
			middleware.RequireRoles(models.RoleOwner, models.RoleAgent, models.RoleCoAgent, models.RoleAdminAgency),
			h.Calculate,
		)
		est.GET("/runs", authenticated, h.ListRuns)
	}
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}

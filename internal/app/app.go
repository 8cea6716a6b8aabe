// Package app wires configuration, storage, realtime infrastructure, and
// HTTP handlers into a runnable application.
package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/collab"
	"github.com/codehive/server/internal/infra/events"
	"github.com/codehive/server/internal/realtime"
	sharedcache "github.com/codehive/server/internal/shared/cache"
	"github.com/codehive/server/internal/shared/config"
	"github.com/codehive/server/internal/shared/database"
	"github.com/codehive/server/internal/shared/logger"
	"github.com/codehive/server/internal/shared/metrics"
	"github.com/codehive/server/internal/shared/middleware"
)

// App bundles the application's long-lived components.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
	router *gin.Engine

	eventBus *events.Bus
	feed     realtime.Feed
	presence realtime.Presence
	metrics  *metrics.Metrics

	authService   *auth.Service
	authHandler   *auth.Handler
	collabHandler *collab.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(""),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := db.AutoMigrate(
		&auth.Profile{},
		&collab.Room{},
		&collab.Member{},
		&collab.Invitation{},
		&collab.Message{},
		&collab.Output{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	// Redis backs the change feed and presence. Without it the app still
	// runs single-node with in-process delivery.
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process realtime", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}
	if app.redis != nil {
		app.feed = realtime.NewRedisFeed(app.redis, log)
		app.presence = realtime.NewRedisPresence(app.redis, cfg.Collab.PresenceTTL, cfg.Collab.PresenceHeartbeat, log)
	} else {
		app.feed = realtime.NewMemoryFeed()
		app.presence = realtime.NewMemoryPresence()
	}

	app.eventBus = events.NewBus(log)
	app.subscribeEvents()
	app.initServices()
	app.router = app.setupRouter()

	return app, nil
}

// subscribeEvents wires cross-cutting consumers onto the domain event bus.
func (a *App) subscribeEvents() {
	a.eventBus.Subscribe(func(e events.Event) {
		a.logger.Info("room created", zap.String("room_id", e.AggregateID().String()))
	}, collab.EventTypeRoomCreated)

	a.eventBus.Subscribe(func(e events.Event) {
		switch e.EventType() {
		case collab.EventTypeRoomJoined:
			a.metrics.MembershipChangesTotal.WithLabelValues("joined").Inc()
		case collab.EventTypeRoomLeft:
			a.metrics.MembershipChangesTotal.WithLabelValues("left").Inc()
		}
	}, collab.EventTypeRoomJoined, collab.EventTypeRoomLeft)
}

// initServices builds repositories, domain services, and handlers.
func (a *App) initServices() {
	profileRepo := auth.NewRepository(a.db)
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret:      a.config.Auth.JWTSecret,
		TokenExpiry: a.config.Auth.AccessTokenExpiry,
		Issuer:      a.config.Auth.Issuer,
	})
	a.authService = auth.NewService(profileRepo, jwtManager)
	a.authHandler = auth.NewHandler(a.authService)

	directory := newUserDirectory(profileRepo)
	collabRepo := collab.NewRepository(a.db, a.feed, a.metrics, a.logger)

	roomService := collab.NewRoomService(
		collabRepo, directory, a.eventBus,
		a.config.Collab.RoomCapacity, a.config.Collab.MaxInvitesPerCreate,
		a.logger,
	)
	invitationManager := collab.NewInvitationManager(
		collabRepo, directory, a.feed, a.eventBus,
		a.config.Collab.RoomCapacity, a.logger,
	)
	chatService := collab.NewChatService(
		collabRepo, a.feed, a.config.Collab.OutputHistoryLimit, a.logger,
	)

	a.collabHandler = collab.NewHandler(roomService, invitationManager, chatService, a.metrics)
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(a.config.Server.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	a.authHandler.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(middleware.RequireAuth(a.authService))
	a.authHandler.RegisterProtectedRoutes(protected)
	a.collabHandler.RegisterProtectedRoutes(protected)

	return r
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/activity"
	apirest "github.com/squestapp/squest/server/api/rest"
	"github.com/squestapp/squest/server/api/sse"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/config"
	dbadapter "github.com/squestapp/squest/server/db"
	"github.com/squestapp/squest/server/db/sqlite"
	"github.com/squestapp/squest/server/friend"
	"github.com/squestapp/squest/server/friend/kvcache"
	"github.com/squestapp/squest/server/friend/localdb"
	"github.com/squestapp/squest/server/friend/remote"
	"github.com/squestapp/squest/server/hook"
	mw "github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/model"
	"github.com/squestapp/squest/server/notify"
	"github.com/squestapp/squest/server/profile"
	"github.com/squestapp/squest/server/quest"
	"github.com/squestapp/squest/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}
	if len(cfg.Server.AdminIPs) == 0 {
		logger.Warn("server.admin_ips is empty; admin endpoints accept every address")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Domain services ----
	hooks := hook.NewCenter()
	store := remote.New(db)
	presence := store.Presence()

	catalog, err := quest.LoadCatalog(cfg.Quests.CatalogPath)
	if err != nil {
		logger.Fatal("quest catalog", zap.Error(err))
	}

	policy, err := friend.ParseFailPolicy(cfg.Sync.FailPolicy)
	if err != nil {
		logger.Fatal("sync.fail_policy", zap.Error(err))
	}
	friendSvc := friend.NewService(store, friend.Options{
		QueryTimeout:    cfg.Sync.QueryTimeout,
		MutationTimeout: cfg.Sync.MutationTimeout,
		MutationRetries: cfg.Sync.MutationRetries,
		SearchLimit:     cfg.Sync.SearchLimit,
	}, hooks, logger)
	friendSvc.SetQuestNamer(catalog.Name)

	openLocal, err := localCacheFactory(cfg, c)
	if err != nil {
		logger.Fatal("friend local cache", zap.Error(err))
	}
	registry := friend.NewRegistry(friend.SessionConfig{
		Service:      friendSvc,
		Policy:       policy,
		Delayer:      sched,
		RefreshDelay: cfg.Sync.RefreshDelay,
		Publisher:    pubsub,
		Logger:       logger,
	}, openLocal)

	board := quest.NewLeaderboard(db, c, logger)
	questSvc := quest.NewService(db, catalog, store, board, hooks, logger)

	activitySvc := activity.New(db, c, logger)
	defer activitySvc.Stop(context.Background())
	activitySvc.Register(hooks)

	pusher, err := notify.NewPusher(cfg.Push)
	if err != nil {
		logger.Fatal("push", zap.Error(err))
	}
	notifier := notify.New(db, pusher, logger)
	notifier.Register(hooks)

	var uploader profile.Uploader
	if cfg.Storage.Bucket != "" && cfg.Storage.Region != "" {
		s3, err := profile.NewS3Uploader(context.Background(), cfg.Storage)
		if err != nil {
			logger.Fatal("storage", zap.Error(err))
		}
		uploader = s3
	} else {
		logger.Warn("storage not configured; avatar uploads are disabled")
	}
	profileSvc := profile.NewService(db, uploader, store, logger)

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("presence_sweep", cfg.Presence.SweepInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := presence.SweepIdle(ctx, cfg.Presence.IdleAfter)
		if err != nil {
			logger.Warn("presence sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Debug("users marked offline", zap.Int64("count", n))
		}
	})
	sched.AddTicker("ranking_refresh", cfg.Quests.RankingRefreshInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := board.Refresh(ctx); err != nil {
			logger.Warn("ranking refresh failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	auth := mw.Auth(cfg.Security, c)
	limit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	touch := mw.Presence(presence, cfg.Presence.SweepInterval, logger)

	authH := apirest.NewAuthHandler(db, c, cfg.Security, presence, registry, hooks, logger)
	friendH := apirest.NewFriendHandler(registry, friendSvc, logger)
	questH := apirest.NewQuestHandler(questSvc)
	activityH := apirest.NewActivityHandler(activitySvc)
	profileH := apirest.NewProfileHandler(profileSvc, notifier)
	rankH := apirest.NewRankingHandler(board)
	adminH := apirest.NewAdminHandler(db, registry, board, sched, logger)

	api := r.Group("/api")
	api.Use(limit)
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		user := api.Group("")
		user.Use(auth, touch)

		friendsG := user.Group("/friends")
		friendsG.GET("", friendH.List)
		friendsG.GET("/search", friendH.Search)
		friendsG.POST("/requests", friendH.SendRequest)
		friendsG.POST("/requests/:user_id/confirm", friendH.Confirm)
		friendsG.POST("/requests/:user_id/deny", friendH.Deny)
		friendsG.DELETE("/:user_id", friendH.Unfriend)
		friendsG.PUT("/filter", friendH.SetFilter)

		questsG := user.Group("/quests")
		questsG.GET("", questH.Board)
		questsG.GET("/history", questH.History)
		questsG.POST("/:id/start", questH.Start)
		questsG.POST("/:id/complete", questH.Complete)
		questsG.POST("/:id/cancel", questH.Cancel)

		user.GET("/activity", activityH.List)
		user.GET("/profile", profileH.Get)
		user.PUT("/profile", profileH.Update)
		user.POST("/profile/avatar", profileH.UploadAvatar)
		user.POST("/devices", profileH.RegisterDevice)

		rankG := api.Group("/ranking")
		rankG.GET("/xp", rankH.TopXP)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/ranking/refresh", adminH.RefreshRanking)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, registry, logger)
	r.GET("/sse", auth, sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	for _, s := range registry.All() {
		_ = registry.Remove(ctx, s.UserID(), false)
	}
}

// localCacheFactory returns how sessions open their device cache:
// a snapshot document in the shared cache ("kv") or rows in an embedded
// SQL database ("sql").
func localCacheFactory(cfg *config.Config, c cache.Cache) (friend.LocalCacheFactory, error) {
	switch cfg.Sync.LocalCache {
	case "", "kv":
		return func(id uuid.UUID) (friend.LocalCache, error) {
			return kvcache.ForUser(c, id), nil
		}, nil
	case "sql":
		ldb, err := sqlite.Open(cfg.Database.LocalSQLPath)
		if err != nil {
			return nil, err
		}
		if err := localdb.Migrate(ldb); err != nil {
			return nil, err
		}
		return func(id uuid.UUID) (friend.LocalCache, error) {
			return localdb.New(ldb, id.String()), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown sync.local_cache %q", cfg.Sync.LocalCache)
	}
}

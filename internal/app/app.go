// Package app wires the gateway's components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/analytics"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/db"
	"github.com/modelrelay/modelrelay/internal/deployment"
	"github.com/modelrelay/modelrelay/internal/keystore"
	"github.com/modelrelay/modelrelay/internal/kv"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/proxy"
	"github.com/modelrelay/modelrelay/internal/ratelimit"
	"github.com/modelrelay/modelrelay/internal/secrets"
	"github.com/modelrelay/modelrelay/internal/spend"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownWindow bounds the graceful teardown, including the final drain.
const shutdownWindow = 15 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(cfg *config.Config) error {
	conn, errOpen := db.Open(cfg.DatabaseURL)
	if errOpen != nil {
		return errOpen
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn)
}

// Run boots the gateway and blocks until the context is cancelled, then
// tears down in order: HTTP server, spend worker (with one final drain),
// then the store clients.
func Run(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg)

	cipher, errCipher := secrets.NewCipher(cfg.EncryptionKey)
	if errCipher != nil {
		return errCipher
	}

	conn, errOpen := db.Open(cfg.DatabaseURL)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	rdb := kv.New(cfg.Redis)
	if errPing := kv.Ping(ctx, rdb); errPing != nil {
		// The limiter fails open and the cache degrades to SQL; keep booting.
		log.WithError(errPing).Warn("app: kv store unreachable at startup")
	}

	warehouse, errWarehouse := analytics.Open(cfg.ClickHouse)
	if errWarehouse != nil {
		return errWarehouse
	}
	if errSchema := warehouse.EnsureSchema(ctx); errSchema != nil {
		return errSchema
	}

	resolver := deployment.NewResolver(conn, rdb, cipher)
	keys := keystore.New(conn)
	controller := admission.NewController(keys, resolver, cfg)
	limiter := ratelimit.NewLimiter(rdb)
	queue := spend.NewQueue(rdb)
	worker := spend.NewWorker(rdb, conn, warehouse, cfg.SpendFlushInterval, cfg.SpendBatchSize, cfg.CreditsPerCostUnit)
	engine := proxy.NewEngine(queue, cfg.RequestTimeout)

	router := buildRouter(conn, cfg, controller, limiter, engine)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	worker.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", cfg.ListenAddr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
	case <-ctx.Done():
	}

	log.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer cancel()

	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("app: server shutdown")
	}

	worker.Stop()
	worker.Drain(shutdownCtx)

	_ = warehouse.Close()
	if errClose := db.Close(conn); errClose != nil {
		log.WithError(errClose).Warn("app: db close")
	}
	if errClose := rdb.Close(); errClose != nil {
		log.WithError(errClose).Warn("app: kv close")
	}
	return nil
}

// buildRouter registers the caller-facing HTTP surface.
func buildRouter(conn *gorm.DB, cfg *config.Config, controller *admission.Controller, limiter *ratelimit.Limiter, engine *proxy.Engine) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestIDMiddleware(), accessLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admit := controller.Middleware()
	limit := ratelimit.Middleware(limiter, cfg.DefaultRateLimitRPM)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", admit, limit, engine.Handle(proxy.FunctionChatCompletions))
		v1.POST("/completions", admit, limit, engine.Handle(proxy.FunctionCompletions))
		v1.POST("/embeddings", admit, limit, engine.Handle(proxy.FunctionEmbeddings))
		v1.POST("/messages", admit, limit, engine.Handle(proxy.FunctionMessages))

		v1.GET("/models", listModelsHandler(conn))
		v1.GET("/models/:provider", listModelsHandler(conn))

		v1.GET("/attestation/report", admit, engine.HandlePassthroughGET())
		v1.GET("/signature/*path", admit, engine.HandlePassthroughGET())
	}

	return router
}

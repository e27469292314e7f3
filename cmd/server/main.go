package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cart-service/config"
	"cart-service/internal/api"
	"cart-service/internal/provider"
	"cart-service/internal/service"
	"cart-service/internal/store"
	"cart-service/internal/util"
	"cart-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "cart-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting cart service")

	shutdownTracer, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		catalog   service.ProductCatalog
		inventory service.InventoryChecker
	)
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to catalog database", zap.Error(err))
		}
		defer db.Close()
		catalog, inventory = db, db
		logger.Info("Catalog database connected")
	} else {
		logger.Info("No catalog database configured, add requests must carry full item details")
	}

	registry := provider.New(cfg)
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = registry.Init(initCtx)
	initCancel()
	if err != nil {
		logger.Fatal("Failed to resolve providers", zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(cfg.Cart.DispatchWorker, cfg.Cart.DispatchQueue, cfg.Events.PublishTimeout)
	dispatcher.Start()

	cartService := service.NewCartService(
		registry.Storage,
		registry.Locker,
		registry.Events,
		dispatcher,
		catalog,
		inventory,
		service.Options{
			MaxItems:    cfg.Cart.MaxItems,
			MaxQuantity: cfg.Cart.MaxQuantity,
			DefaultTTL:  cfg.Cart.DefaultTTL,
			GuestTTL:    cfg.Cart.GuestTTL,
			LockTTL:     cfg.Cart.LockTTL,
		},
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, registry)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Warn("Pending events abandoned", zap.Error(err))
		}
		if err := registry.Close(shutdownCtx); err != nil {
			logger.Warn("Error closing providers", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

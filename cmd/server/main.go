package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mkorchagin/offline-shop/internal/config"
	"github.com/mkorchagin/offline-shop/internal/httpserver"
	"github.com/mkorchagin/offline-shop/internal/models"
	"github.com/mkorchagin/offline-shop/internal/repo"
	"github.com/mkorchagin/offline-shop/internal/service"
	"github.com/mkorchagin/offline-shop/pkg/db"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	database, err := db.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}

	err = database.AutoMigrate(
		&models.Category{}, &models.Product{}, &models.Order{}, &models.OrderItem{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	r := repo.New(database)
	events := service.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if events == nil {
		log.Warn("kafka brokers not configured, order events disabled")
	}

	orders := &service.OrderService{Repo: r, Events: events}
	cart := &service.CartService{Repo: r}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), middleware.CORS())
	e.Use(httpserver.RequestLogger(log))

	httpserver.Register(e, &httpserver.Deps{
		Orders:    &httpserver.OrderHTTP{Svc: orders},
		Cart:      &httpserver.CartHTTP{Svc: cart},
		Catalog:   &httpserver.CatalogHTTP{Repo: r},
		JWTSecret: []byte(cfg.JWTSecret),
		Dev:       cfg.Dev,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error("db close error", "error", err)
		}
	}

	if err := events.Close(); err != nil {
		log.Error("kafka close error", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BuzzLyutic/family-hub/internal/bootstrap"
	"github.com/BuzzLyutic/family-hub/internal/config"
	"github.com/BuzzLyutic/family-hub/internal/handler"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/service"
	"github.com/BuzzLyutic/family-hub/internal/worker"
	"github.com/BuzzLyutic/family-hub/pkg/respond"
)

func main() {
	// Подключаем логгер
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped successfully!")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Пул воркеров для пакетных обновлений
	pool := worker.NewPool(logger, cfg.WorkerCount)
	pool.Start(ctx)
	defer pool.Stop()

	backend, err := bootstrap.Open(ctx, cfg, logger, pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close backend", zap.Error(err))
		}
	}()

	srv := &http.Server{ // Создаем сервер
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(backend.Provider, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { // Запуск сервера
		logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("backend", backend.Provider.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { // Graceful shutdown
		<-gctx.Done()
		logger.Info("Shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func newRouter(provider repo.Provider, logger *zap.Logger) http.Handler {
	r := chi.NewRouter() // Создаем роутер
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := provider.Ping(ctx); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			respond.JSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "backend": provider.Name()})
			return
		}
		respond.JSON(w, r, http.StatusOK, map[string]string{"status": "ok", "backend": provider.Name()})
	})

	taskHandler := handler.NewTaskHandler(service.NewTaskService(provider, logger), logger)
	taskHandler.Routes(r)

	return r
}

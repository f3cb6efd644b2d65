package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"training-service/internal/config"
	balanceGet "training-service/internal/http-server/handlers/balance/get"
	balancePost "training-service/internal/http-server/handlers/balance/post"
	bookingApprove "training-service/internal/http-server/handlers/bookings/approve"
	bookingCreate "training-service/internal/http-server/handlers/bookings/create"
	bookingGet "training-service/internal/http-server/handlers/bookings/get"
	bookingReschedule "training-service/internal/http-server/handlers/bookings/reschedule"
	bookingTransition "training-service/internal/http-server/handlers/bookings/transition"
	clientUpcoming "training-service/internal/http-server/handlers/clients/upcoming"
	maintenanceRun "training-service/internal/http-server/handlers/maintenance/run"
	recurringApprove "training-service/internal/http-server/handlers/recurring/approve"
	recurringCreate "training-service/internal/http-server/handlers/recurring/create"
	recurringDeactivate "training-service/internal/http-server/handlers/recurring/deactivate"
	recurringExpand "training-service/internal/http-server/handlers/recurring/expand"
	recurringGet "training-service/internal/http-server/handlers/recurring/get"
	"training-service/internal/lock"
	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/internal/scheduler"
	svc "training-service/internal/service"
	"training-service/internal/storage/memory"
	"training-service/internal/storage/postgres"
	"training-service/pkg/handlers/slogpretty"
	"training-service/pkg/middleware/mwAuth"
	"training-service/pkg/middleware/mwLogger"
	"training-service/pkg/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type storage interface {
	svc.Store
	Close() error
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	store, err := setupStorage(cfg)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	locker, err := setupLocker(cfg)
	if err != nil {
		log.Error("Failed to init locker", sl.Err(err))
		os.Exit(1)
	}

	sender, err := setupSender(cfg, log)
	if err != nil {
		log.Error("Failed to init notification sender", sl.Err(err))
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(log, sender, cfg.Notifications.Workers, cfg.Notifications.Buffer)

	service := svc.NewService(log, store, locker, dispatcher, svc.Config{
		Locks: lock.Options{
			TTL:           cfg.Locks.TTL,
			Wait:          cfg.Locks.Wait,
			RetryInterval: cfg.Locks.RetryInterval,
		},
		ReminderLead: cfg.Maintenance.ReminderLead,
	})

	if cfg.Env == envLocal {
		logDemoTokens(log, cfg.JWTSecret)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)

	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(mwAuth.New(log, cfg.JWTSecret))

		// Bookings
		r.Post("/bookings", bookingCreate.New(log, service))
		r.Get("/bookings/{id}", bookingGet.New(log, service))
		r.Post("/bookings/{id}/approve", bookingApprove.New(log, service))
		r.Post("/bookings/{id}/reschedule", bookingReschedule.New(log, service))
		r.Post("/bookings/{id}/reschedule-request", bookingReschedule.NewRequest(log, service))
		r.Post("/bookings/{id}/{action}", bookingTransition.New(log, service))

		// Recurring templates
		r.Post("/recurring", recurringCreate.New(log, service))
		r.Get("/recurring/{id}", recurringGet.New(log, service))
		r.Post("/recurring/{id}/approve", recurringApprove.New(log, service))
		r.Post("/recurring/{id}/deactivate", recurringDeactivate.New(log, service))
		r.Post("/recurring/{id}/expand", recurringExpand.New(log, service))

		// Clients
		r.Get("/clients/{clientID}/balance", balanceGet.New(log, service))
		r.Post("/clients/{clientID}/{type}", balancePost.New(log, service))
		r.Get("/clients/{clientID}/upcoming", clientUpcoming.New(log, service))

		// Maintenance
		r.Post("/maintenance/{sweep}", maintenanceRun.New(log, service))
	})

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	background, bgCtx := errgroup.WithContext(bgCtx)

	background.Go(func() error {
		return dispatcher.Run(bgCtx)
	})

	if cfg.Maintenance.Enabled {
		sched := scheduler.New(log, locker, cfg.Locks.TTL,
			scheduler.Jobs(service, cfg.Maintenance.AutoCompleteInterval, cfg.Maintenance.ReminderInterval)...)
		background.Go(func() error {
			return sched.Run(bgCtx)
		})
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	// после остановки HTTP дочищаем очередь уведомлений
	stopBackground()
	if err := background.Wait(); err != nil {
		log.Error("Background workers failed", sl.Err(err))
	}

	if closer, ok := sender.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Error("Failed to close notification sender", sl.Err(err))
		}
	}

	if err := store.Close(); err != nil {
		log.Error("Failed to close storage", sl.Err(err))
	} else {
		log.Info("Storage closed")
	}

	if err := locker.Close(); err != nil {
		log.Error("Failed to close locker", sl.Err(err))
	} else {
		log.Info("Locker closed")
	}

	log.Info("Shutdown finished, server stopped")
}

func setupStorage(cfg *config.Config) (storage, error) {
	if cfg.StoragePath == config.StorageMemory {
		s := memory.New()
		memory.SeedDemo(s)
		return s, nil
	}

	s, err := postgres.New(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func setupLocker(cfg *config.Config) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLock(), nil
	}

	return lock.NewRedisLock(cfg.RedisAddr)
}

func setupSender(cfg *config.Config, log *slog.Logger) (notify.Sender, error) {
	if cfg.Notifications.RabbitURL == "" {
		return notify.NewLogSender(log), nil
	}

	return notify.NewRabbitSender(cfg.Notifications.RabbitURL, cfg.Notifications.Exchange)
}

func logDemoTokens(log *slog.Logger, secret string) {
	actors := []models.Actor{
		{ID: "director-1", Role: models.RoleDirector},
		{ID: "manager-1", Role: models.RoleManager},
		{ID: "trainer-1", Role: models.RoleTrainer},
	}

	for _, actor := range actors {
		token, err := mwAuth.NewToken(secret, actor, 24*time.Hour)
		if err != nil {
			log.Error("Failed to sign demo token", sl.Err(err))
			return
		}
		log.Debug("demo token", slog.String("actor", actor.ID), slog.String("token", token))
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

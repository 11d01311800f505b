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

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/adapters/smtp"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/app"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/repository/postgres"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/templates"
	"github.com/mailalchemy/mailalchemy/internal/platform/config"
	"github.com/mailalchemy/mailalchemy/internal/platform/database"
	"github.com/mailalchemy/mailalchemy/internal/platform/logger"
	"github.com/mailalchemy/mailalchemy/internal/public_api_service/middleware"
	httptransport "github.com/mailalchemy/mailalchemy/internal/public_api_service/transport/http"
)

const (
	serviceName     = "public-api-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	emailRepo := postgres.NewPgEmailRepository(dbPool, log)
	renderer := templates.NewRenderer(cfg.MailTemplatesDir, cfg.MailPlaintextRequired, log)

	var sender smtp.Sender
	if cfg.MailHost != "" {
		sender = smtp.NewGomailSender(smtp.Config{
			Host:          cfg.MailHost,
			Port:          cfg.MailPort,
			Username:      cfg.MailUsername,
			Password:      cfg.MailPassword,
			SenderAddress: cfg.MailSenderAddress,
			SenderName:    cfg.MailSenderName,
		}, log)
	} else {
		log.Warn("MAIL_HOST not configured, using the mock transport; emails will not leave the process")
		sender = smtp.NewMockSender(log, "mock")
	}

	ceilings := app.Ceilings{
		PerMinute: cfg.MailPerMinute,
		PerHour:   cfg.MailPerHour,
		PerDay:    cfg.MailPerDay,
	}
	mailer := app.NewMailer(ceilings, renderer, emailRepo, sender, log)

	mailHandler := httptransport.NewMailHandler(mailer, log)

	router := chi.NewRouter()
	router.Use(chi_middleware.RequestID)
	router.Use(chi_middleware.RealIP)
	router.Use(chi_middleware.Recoverer)
	router.Use(httptransport.PrometheusMetricsMiddleware)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	authCfg := middleware.AuthConfig{
		JWTSecret:    cfg.JWTAccessSecret,
		APIKeyBcrypt: cfg.APIKeyBcryptHash,
	}
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(authCfg, log))
		mailHandler.RegisterRoutes(r)
	})

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PublicAPIServicePort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("Starting HTTP server", "address", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server...")
		return apiServer.Shutdown(shutdownCtx)
	})

	log.Info("Service components initialized. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig.String())
	case <-groupCtx.Done():
		log.Error("A critical component failed, initiating shutdown")
	}

	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Service shutdown complete.")
}

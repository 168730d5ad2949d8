package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/api"
	"github.com/avikram/invoiceflow/internal/circuitbreaker"
	"github.com/avikram/invoiceflow/internal/config"
	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/dispatch"
	"github.com/avikram/invoiceflow/internal/docgen"
	"github.com/avikram/invoiceflow/internal/invoice"
	"github.com/avikram/invoiceflow/internal/metrics"
	"github.com/avikram/invoiceflow/internal/observ"
	"github.com/avikram/invoiceflow/internal/queue"
	"github.com/avikram/invoiceflow/internal/redis"
	"github.com/avikram/invoiceflow/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting invoiceflow gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository and invoice lifecycle
	repo := db.NewRepository(database, logger)
	lifecycle := invoice.New(repo, logger)

	// Initialize Redis for webhook dedup and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, webhook dedup and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var dedupStore *redis.DedupStore
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		dedupStore = redis.NewDedupStore(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client
		})
		defer redisClient.Close()
	}

	// Initialize PDF generator
	generator, err := docgen.NewPDFGenerator(cfg.PDFOutputDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize document generator: %w", err)
	}

	// Initialize notification channels, each behind a circuit breaker.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clients []dispatch.Client

	if cfg.WhatsAppAccessToken != "" && cfg.WhatsAppPhoneNumberID != "" {
		waClient, err := dispatch.NewWhatsAppClient(dispatch.WhatsAppConfig{
			AccessToken:   cfg.WhatsAppAccessToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			APIVersion:    cfg.WhatsAppAPIVersion,
			Timeout:       cfg.ProviderTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		clients = append(clients, circuitbreaker.NewProtectedClient(
			waClient,
			circuitbreaker.New(circuitbreaker.DefaultConfig("whatsapp"), logger),
			logger,
		))
	} else {
		logger.Warn("whatsapp credentials not set, whatsapp channel disabled")
	}

	emailClient, err := dispatch.NewEmailClient(ses.NewFromConfig(awsCfg), cfg.SESFromEmail, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email channel disabled", zap.Error(err))
	} else {
		clients = append(clients, circuitbreaker.NewProtectedClient(
			emailClient,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger),
			logger,
		))
	}

	smsClient := dispatch.NewSMSClient(sns.NewFromConfig(awsCfg), logger)
	clients = append(clients, circuitbreaker.NewProtectedClient(
		smsClient,
		circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger),
		logger,
	))

	logger.Info("notification channels initialized",
		zap.Int("channels", len(clients)),
		zap.Bool("whatsapp_enabled", cfg.WhatsAppAccessToken != ""),
	)

	// Dispatch service: claim gate + per-channel retry
	dispatcher := dispatch.NewDispatcher(lifecycle, dispatch.Config{
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseDelay:   cfg.DispatchBaseDelay,
		MaxDelay:    cfg.DispatchMaxDelay,
	}, logger)
	notifier := dispatch.NewService(lifecycle, dispatcher, clients, cfg.PublicBaseURL, logger)

	// Optional SQS dispatch queue. When configured, creation enqueues a
	// job and the worker drives dispatch; otherwise dispatch runs off
	// the request path in-process.
	var producer *queue.Producer
	if cfg.SQSQueueURL != "" {
		sqsClient, err := queue.NewSQSClient(ctx, cfg.SQSRegion)
		if err != nil {
			return fmt.Errorf("failed to create SQS client: %w", err)
		}
		producer = queue.NewProducer(sqsClient, cfg.SQSQueueURL, logger)
		consumer := queue.NewConsumer(sqsClient, cfg.SQSQueueURL, logger)

		worker := queue.NewWorker(consumer, func(ctx context.Context, job queue.Job) error {
			_, err := notifier.Notify(ctx, job.InvoiceID)
			return err
		}, logger)

		workerCtx, workerCancel := context.WithCancel(context.Background())
		defer workerCancel()
		go worker.Start(workerCtx)

		logger.Info("dispatch queue worker started", zap.String("queue_url", cfg.SQSQueueURL))
	}

	// Webhook reconciler
	var reconciler *webhook.Reconciler
	if dedupStore != nil {
		reconciler = webhook.NewReconciler(lifecycle, dedupStore, logger)
	} else {
		logger.Warn("webhook reconciliation disabled without redis")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, lifecycle, generator, notifier, producer, cfg.PDFOutputDir)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/invoices", handler.CreateInvoice)
		r.Get("/invoices", handler.ListInvoices)
		r.Get("/invoices/{id}", handler.GetInvoice)
		r.Post("/invoices/{id}/document", handler.RegenerateDocument)
		r.Get("/invoices/{id}/document", handler.DownloadDocument)
		r.Post("/invoices/{id}/notify", handler.NotifyInvoice)

		notifications := api.NewNotificationHandler(logger, notifier)
		r.Post("/notifications/whatsapp", notifications.SendWhatsApp)
		r.Post("/notifications/email", notifications.SendEmail)

		if reconciler != nil {
			webhooks := api.NewWebhookHandler(logger, reconciler, cfg.WhatsAppVerifyToken)
			r.Post("/webhooks/payment", webhooks.PaymentWebhook)
			r.Get("/webhooks/whatsapp", webhooks.WhatsAppVerify)
			r.Post("/webhooks/whatsapp", webhooks.WhatsAppWebhook)
		}
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

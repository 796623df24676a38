package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gearshare/internal/audit"
	"gearshare/internal/auth"
	bookingapp "gearshare/internal/booking/application"
	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	bookingrepo "gearshare/internal/booking/infrastructure/postgres"
	bookinghttp "gearshare/internal/booking/interfaces/http"
	"gearshare/internal/config"
	"gearshare/internal/eventing"
	"gearshare/internal/eventing/eventbus"
	eventingrepo "gearshare/internal/eventing/infrastructure/postgres"
	eventingredis "gearshare/internal/eventing/infrastructure/redis"
	"gearshare/internal/eventing/kafka"
	"gearshare/internal/notify"
	"gearshare/internal/observability/logging"
	"gearshare/internal/observability/metrics"
	"gearshare/internal/ops"
	settlementapp "gearshare/internal/settlement/application"
	settlement "gearshare/internal/settlement/domain"
	settlementinterfaces "gearshare/internal/settlement/interfaces"
	"gearshare/internal/stripeadapter"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resend/resend-go/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	eventing.Register[events.NotificationRequested](registry)

	outboxStore := eventingrepo.NewOutboxStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	pgProcessed := eventingrepo.NewProcessedStore(db)
	var processedStore eventing.ProcessedStore = pgProcessed
	if cfg.RedisURL != "" {
		client, err := eventingredis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis error", zap.Error(err))
		}
		defer client.Close()
		processedStore = eventingredis.NewProcessedStore(client)
		logger.Info("processed events kept in redis")
	}

	bookingRepo := bookingrepo.NewBookingRepository(db, outboxStore)
	profileRepo := bookingrepo.NewProfileRepository(db)

	ledger, err := settlement.NewLedger(settlement.WithOwnerShareBasisPoints(cfg.OwnerShareBasisPoints))
	if err != nil {
		logger.Fatal("ledger error", zap.Error(err))
	}

	alerters := []bookingapp.Alerter{ops.NewLogAlerter(logger)}
	if cfg.OpsAlertWebhookURL != "" {
		webhookAlerter, err := ops.NewWebhookAlerter(cfg.OpsAlertWebhookURL, ops.WithWebhookLogger(logger))
		if err != nil {
			logger.Fatal("ops alert webhook error", zap.Error(err))
		}
		alerters = append(alerters, webhookAlerter)
	}

	var payments bookingapp.PaymentGateway = unconfiguredGateway{}
	var webhookParser bookinghttp.WebhookParser
	if cfg.StripeEnabled() {
		stripeClient, err := stripeadapter.NewClient(cfg.StripeSecretKey, stripeadapter.WithLogger(logger))
		if err != nil {
			logger.Fatal("stripe client error", zap.Error(err))
		}
		payments = stripeClient
		if cfg.StripeWebhookSecret != "" {
			verifier, err := stripeadapter.NewWebhookVerifier(cfg.StripeWebhookSecret)
			if err != nil {
				logger.Fatal("stripe webhook error", zap.Error(err))
			}
			webhookParser = verifier
		}
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; payment operations will fail")
	}

	processor, err := bookingapp.NewProcessor(bookingRepo, profileRepo, payments,
		bookingapp.WithLedger(ledger),
		bookingapp.WithAuthorizer(auth.AdminAuthorizer{}),
		bookingapp.WithAlerter(ops.NewMultiAlerter(alerters...)),
		bookingapp.WithLogger(logger),
		bookingapp.WithTracer(otel.Tracer("gearshare/booking")),
		bookingapp.WithExternalTimeout(cfg.ExternalTimeout),
		bookingapp.WithOperationTimeout(cfg.OperationTimeout),
	)
	if err != nil {
		logger.Fatal("processor error", zap.Error(err))
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.ResendAPIKey != "" {
		resendSender, err := notify.NewResendSender(resend.NewClient(cfg.ResendAPIKey), cfg.EmailFrom)
		if err != nil {
			logger.Fatal("email sender error", zap.Error(err))
		}
		sender = resendSender
	}
	templates := notify.DefaultTemplates()
	if cfg.NotifyTemplatesFile != "" {
		templates, err = notify.LoadTemplates(cfg.NotifyTemplatesFile)
		if err != nil {
			logger.Fatal("notification templates error", zap.Error(err))
		}
	}
	notifier, err := notify.NewDispatcher(profileRepo, sender,
		notify.WithBookings(bookingRepo),
		notify.WithTemplates(templates),
		notify.WithLedger(ledger),
		notify.WithBaseURL(cfg.PublicBaseURL),
		notify.WithSendTimeout(cfg.NotifyTimeout),
		notify.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("notification dispatcher error", zap.Error(err))
	}
	notify.Subscribe(baseBus, notifier, processedStore)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Fatal("kafka producer error", zap.Error(err))
		}
		relay, err := kafka.NewRelay(producer, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatal("kafka relay error", zap.Error(err))
		}
		defer relay.Close()
		eventing.Subscribe(baseBus, eventbus.EventTypeOf[events.NotificationRequested](), kafka.ConsumerName, relay.Handle, processedStore)
	}

	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry,
		eventing.WithDLQ(dlqStore),
		eventing.WithDispatcherLogger(logger),
	)
	worker := eventing.NewWorker(dispatcher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
	go worker.Run(ctx)
	go runCompletionSweeper(ctx, processor, cfg.CompletionSweepInterval, logger)
	if cfg.RedisURL == "" {
		go ops.RunProcessedPurge(ctx, pgProcessed, cfg.ProcessedRetention, time.Hour, logger)
	}

	statementService, err := settlementapp.NewStatementService(bookingRepo, ledger)
	if err != nil {
		logger.Fatal("statement service error", zap.Error(err))
	}
	statementHandler, err := settlementinterfaces.NewStatementHandler(statementService, logger)
	if err != nil {
		logger.Fatal("statement handler error", zap.Error(err))
	}
	bookingHandler, err := bookinghttp.NewHandler(processor, bookingRepo,
		bookinghttp.WithAuditLogger(auditRepo),
		bookinghttp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("booking handler error", zap.Error(err))
	}

	deadLetterHandler, err := ops.NewDeadLetterHandler(dlqStore, logger)
	if err != nil {
		logger.Fatal("dead letter handler error", zap.Error(err))
	}

	mux := http.NewServeMux()
	bookingHandler.Register(mux)
	mux.Handle("GET /api/v1/admin/statements/payouts", statementHandler)
	mux.Handle("GET /api/v1/admin/dead-letters", deadLetterHandler)
	if webhookParser != nil {
		webhookHandler, err := bookinghttp.NewWebhookHandler(webhookParser, processor, processedStore, logger)
		if err != nil {
			logger.Fatal("webhook handler error", zap.Error(err))
		}
		mux.Handle("/webhooks/stripe", webhookHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/webhooks/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.AuthJWTSecret), policy)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           logging.Middleware(logger, authMiddleware.Wrap(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func runCompletionSweeper(ctx context.Context, processor *bookingapp.Processor, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			summary, err := processor.CompleteElapsed(ctx, tick.UTC())
			if err != nil {
				logger.Warn("completion sweep error", zap.Error(err))
				continue
			}
			if summary.Due > 0 {
				logger.Info("completion sweep",
					zap.Int("due", summary.Due),
					zap.Int("completed", summary.Completed),
					zap.Int("failed", summary.Failed))
			}
		}
	}
}

// ---- Adapters ----

var errPaymentsNotConfigured = errors.New("payments not configured")

// unconfiguredGateway fails every payment call when no Stripe key is set.
type unconfiguredGateway struct{}

func (unconfiguredGateway) CreateTransfer(ctx context.Context, params bookingapp.TransferParams) (string, error) {
	return "", &booking.ExternalServiceError{Service: "payment", Operation: "transfer", Err: errPaymentsNotConfigured}
}

func (unconfiguredGateway) CreateRefund(ctx context.Context, params bookingapp.RefundParams) (string, error) {
	return "", &booking.ExternalServiceError{Service: "payment", Operation: "refund", Err: errPaymentsNotConfigured}
}

func (unconfiguredGateway) VerifyCheckoutSession(ctx context.Context, sessionID string) (bookingapp.CheckoutSession, error) {
	return bookingapp.CheckoutSession{}, &booking.ExternalServiceError{Service: "payment", Operation: "verify_checkout", Err: errPaymentsNotConfigured}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	appnotification "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/notification"
	apppayment "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/config"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/carrier"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/notification"
	infraobs "github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/redislock"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-fulfillment/internal/presentation/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type stores struct {
	orders    order.Repository
	payments  payment.Repository
	shipments shipping.Repository
	ledger    inventory.Ledger
	close     func()
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		// The logger is configured from cfg, so this one goes to stderr.
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Service.LogLevel,
		File:    cfg.Service.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraobs.NewProvider(infraobs.Config{
		ServiceName: cfg.Service.Name,
		Logger:      baseLogger,
		Registerer:  reg,
		Namespace:   "minishop",
	})
	systemLogger := baseLogger.With(zap.String("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Fatal("storage_init_failed", zap.Error(err))
	}
	defer st.close()

	var locker fulfillment.Locker = memory.NewLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			systemLogger.Fatal("redis_unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = redislock.New(rdb, cfg.Redis.LockTTL)
	}

	// Handlers must be subscribed before Start.
	bus := outbox.NewBus(tel, outbox.DefaultOptions())

	if len(cfg.Kafka.Brokers) > 0 {
		writer := kafka.NewWriter(cfg.Kafka.Brokers)
		defer func() { _ = writer.Close() }()
		bus.SubscribeAll(kafka.NewRelay(writer, cfg.Kafka.Topic, tel).Handle)
		systemLogger.Info("kafka_relay_enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	var notifier appnotification.Notifier = notification.NewLogNotifier(tel.Logger())
	if cfg.SMTP.Host != "" {
		notifier = notification.NewSMTPNotifier(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	confirmations := appnotification.NewSendConfirmationUseCase(notifier, cfg.SMTP.InternalRecipients, cfg.Fulfillment.Currency, tel)
	appnotification.NewWorker(bus, confirmations, tel).Start()

	bus.Start(context.Background())

	gatewayClient := gateway.New(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	}, nil)
	carrierClient := carrier.New(carrier.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		Email:          cfg.Carrier.Email,
		Password:       cfg.Carrier.Password,
		PickupLocation: cfg.Carrier.PickupLocation,
		Timeout:        cfg.Carrier.Timeout,
		RatePerSecond:  cfg.Carrier.RatePerSecond,
		Burst:          cfg.Carrier.Burst,
	}, nil)

	policy := fulfillment.DefaultPolicy()
	policy.Currency = cfg.Fulfillment.Currency
	policy.EstimatedDeliveryDays = cfg.Fulfillment.EstimatedDeliveryDays
	policy.RestockOnCancel = cfg.Fulfillment.RestockOnCancel
	policy.LockWait = cfg.Fulfillment.LockWait
	policy.GatewayTimeout = cfg.Gateway.Timeout
	policy.CarrierTimeout = cfg.Carrier.Timeout

	ids := id.NewUUIDGenerator()
	service := fulfillment.NewService(fulfillment.Deps{
		Orders:    st.orders,
		Payments:  st.payments,
		Shipments: st.shipments,
		Ledger:    st.ledger,
		Gateway:   gatewayClient,
		Carrier:   carrierClient,
		Publisher: bus,
		Locker:    locker,
		IDs:       ids,
	}, policy, tel)
	refunds := apppayment.NewRefundPaymentUseCase(st.orders, st.payments, gatewayClient, ids, tel)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Mount("/", httppresentation.NewHandler(service, refunds, tel).Router())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	bus.Stop(shutdownCtx)
}

// openStores picks Postgres when DATABASE_URL is set and the in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Postgres.URL == "" {
		log.Warn("storage_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return &stores{
			orders:    memory.NewOrderRepository(),
			payments:  memory.NewPaymentRepository(),
			shipments: memory.NewShippingRepository(),
			ledger:    memory.NewInventoryLedger(demoCatalog(time.Now())...),
			close:     func() {},
		}, nil
	}

	if cfg.Postgres.Migrate {
		applied, err := postgres.Migrate(cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		log.Info("db_migrations", zap.Bool("applied", applied))
	}
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, err
	}
	ledger := postgres.NewInventoryLedger(pool)
	if cfg.Service.Env == "dev" {
		for _, p := range demoCatalog(time.Now()) {
			if err := ledger.Upsert(ctx, p); err != nil {
				pool.Close()
				return nil, err
			}
		}
	}
	return &stores{
		orders:    postgres.NewOrderRepository(pool),
		payments:  postgres.NewPaymentRepository(pool),
		shipments: postgres.NewShippingRepository(pool),
		ledger:    ledger,
		close:     pool.Close,
	}, nil
}

func demoCatalog(now time.Time) []inventory.Product {
	return []inventory.Product{
		{ID: "prod-mug", Name: "Ceramic Mug", SKU: "MUG-001", Price: decimal.RequireFromString("249.00"), Stock: 100, UpdatedAt: now},
		{ID: "prod-tee", Name: "Cotton T-Shirt", SKU: "TEE-002", Price: decimal.RequireFromString("599.50"), Stock: 50, UpdatedAt: now},
		{ID: "prod-pen", Name: "Gel Pen", SKU: "PEN-003", Price: decimal.RequireFromString("35.00"), Stock: 500, UpdatedAt: now},
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/config"
	"github.com/ignatzorin/homepro-escrow/internal/db"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/http/middleware"
	httpRouter "github.com/ignatzorin/homepro-escrow/internal/http/router"
	"github.com/ignatzorin/homepro-escrow/internal/infrastructure/messaging"
	"github.com/ignatzorin/homepro-escrow/internal/infrastructure/persistence"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/handler"
	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/scheduler"
	"github.com/ignatzorin/homepro-escrow/internal/service"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/dispatch"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/payments"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/payout"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/reconcile"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/subscription"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/timer"
	"github.com/ignatzorin/homepro-escrow/internal/ws"
	"github.com/ignatzorin/homepro-escrow/migrations"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.Env)

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn, log)

	if err := db.RunMigrations(ctx, dbConn, migrations.FS); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Репозитории.
	escrowRepo := persistence.NewEscrowRepository(dbConn)
	payoutRepo := persistence.NewPayoutRepository(dbConn)
	workOrderRepo := persistence.NewWorkOrderRepository(dbConn)
	accountRepo := persistence.NewAccountRepository(dbConn)
	subscriptionRepo := persistence.NewSubscriptionRepository(dbConn)
	userRepo := persistence.NewUserRepository(dbConn)

	// Брокер: без него события только пишутся в лог.
	var producer messaging.Publisher = &messaging.FallbackProducer{Log: log}
	if cfg.RabbitMQURL != "" {
		p, err := messaging.NewEventProducer(cfg.RabbitMQURL, log)
		if err != nil {
			log.WithError(err).Warn("main: RabbitMQ недоступен, события не будут опубликованы в брокер")
		} else {
			producer = p
		}
	}
	defer producer.Close()
	brokerEvents := messaging.NewEscrowEvents(producer)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	events := notify.NewDispatcher(notify.Multi{hub, brokerEvents}, brokerEvents, brokerEvents, log)

	// Домен.
	processor := gateway.NewStripeProcessor(gateway.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	}, log)
	subs := subscription.NewEngine(subscriptionRepo, cfg.DefaultFeeRate, cfg.PlanCacheTTL)
	directory := identity.NewDirectory(userRepo, accountRepo)
	reconciler := reconcile.NewReconciler(escrowRepo, accountRepo, processor, events, cfg.HoldPeriod, log)

	escrowEngine := escrow.NewEngine(escrow.Deps{
		Escrows:    escrowRepo,
		Payouts:    payoutRepo,
		WorkOrders: workOrderRepo,
		Accounts:   accountRepo,
		Fees:       subs,
		Identity:   directory,
		Gateway:    processor,
		Reconciler: reconciler,
		Events:     events,
		Log:        log,
	}, escrow.Config{
		HoldPeriod:     cfg.HoldPeriod,
		MinAmount:      cfg.EscrowMinAmount,
		MaxAmount:      cfg.EscrowMaxAmount,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	dispatchEngine := dispatch.NewEngine(escrowRepo, workOrderRepo, directory, subs, events, log).
		RequirePlan(cfg.DispatchRequirePlan)
	onboarding := payments.NewOnboarding(accountRepo, processor, payments.Config{
		ReturnURL:  cfg.ConnectReturnURL,
		RefreshURL: cfg.ConnectRefreshURL,
	}, log)

	// Фоновые задачи.
	payoutWorker := payout.NewWorker(escrowRepo, payoutRepo, payout.NewExecutor(processor), events, log)
	timerRunner := timer.NewRunner(escrowRepo, escrowEngine, events, cfg.TimerStuckAfter, cfg.TimerStuckPromote, log)

	jobs := scheduler.New(log)
	if err := jobs.Register(timerRunner, cfg.TimerInterval, payoutWorker, cfg.PayoutInterval); err != nil {
		log.Fatalf("main: не удалось зарегистрировать фоновые задачи: %v", err)
	}
	jobs.Start()

	// Лимитер: общий счётчик в Redis, если он задан.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: некорректный REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	limiterStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		log.Fatalf("main: не удалось создать хранилище лимитера: %v", err)
	}

	// HTTP.
	auth := middleware.NewAuthenticator(service.NewTokenManager(cfg.JWTSecret), directory, log)
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Escrow:     handler.NewEscrowHandler(escrowEngine, log),
		WorkOrder:  handler.NewWorkOrderHandler(dispatchEngine, log),
		Account:    handler.NewAccountHandler(onboarding, subs, log),
		Webhook:    handler.NewWebhookHandler(processor, reconciler, log),
		WS:         handler.NewWSHandler(hub, cfg.AllowedOrigins, log),
		Health:     handler.NewHealthHandler(dbConn),
		Authorizer: auth,
	}, limiterStore, log)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}

	// Дожидаемся фоновых задач и доставки уже отправленных событий.
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	jobs.Stop(stopCtx)
	events.Wait()
	log.Info("main: сервер остановлен")
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB, log logrus.FieldLogger) {
	if err := db.Close(); err != nil {
		log.WithError(err).Error("main: ошибка закрытия базы")
	}
}

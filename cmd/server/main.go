package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gigwork/settlement-backend/internal/config"
	"github.com/gigwork/settlement-backend/internal/db"
	"github.com/gigwork/settlement-backend/internal/events"
	httpHandlers "github.com/gigwork/settlement-backend/internal/http/handlers"
	httpRouter "github.com/gigwork/settlement-backend/internal/http/router"
	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/provider"
	"github.com/gigwork/settlement-backend/internal/repository"
	"github.com/gigwork/settlement-backend/internal/service"
	"github.com/gigwork/settlement-backend/internal/storage"
	"github.com/gigwork/settlement-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	deliveryStorage, err := storage.NewDeliveryStorage(cfg.DeliveryStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// События уходят в Kafka, без брокеров остаётся только лог.
	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("main: не удалось подключиться к Kafka: %v", err)
		}
	} else {
		publisher = events.NewLogPublisher()
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("main: ошибка закрытия издателя событий: %v", err)
		}
	}()

	// Платёжный шлюз: Midtrans при наличии ключа, иначе заглушка.
	var gateway provider.PaymentProvider
	if cfg.MidtransServerKey != "" {
		gateway = provider.NewMidtransProvider(cfg.MidtransServerKey, cfg.MidtransProduction)
	} else {
		gateway = provider.NewNoopProvider()
	}

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	walletRepo := repository.NewWalletRepository(dbConn)
	transactionRepo := repository.NewTransactionRepository(dbConn)
	orderRepo := repository.NewOrderRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	withdrawalRepo := repository.NewWithdrawalRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()

	// Сервисы.
	notificationService := service.NewNotificationService(notificationRepo, hub)
	orderService := service.NewOrderService(
		orderRepo, escrowRepo, deliveryRepo, disputeRepo,
		notificationService, publisher,
		cfg.PlatformFeePercent, cfg.ReviewWindow,
	)
	paymentService := service.NewPaymentService(
		walletRepo, transactionRepo, escrowRepo, orderRepo,
		gateway, publisher,
		cfg.ProviderTimeout, cfg.AutoReleaseWindow, cfg.ReviewWindow,
	)
	deliveryService := service.NewDeliveryService(deliveryRepo, orderRepo, notificationService, publisher)
	disputeService := service.NewDisputeService(disputeRepo, orderRepo, escrowRepo, notificationService, publisher)
	withdrawalService := service.NewWithdrawalService(withdrawalRepo, cfg.WithdrawalFeePercent, cfg.MinWithdrawalAmount)

	// HTTP хэндлеры.
	orderHandler := httpHandlers.NewOrderHandler(orderService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService)
	deliveryHandler := httpHandlers.NewDeliveryHandler(deliveryService, deliveryStorage)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	withdrawalHandler := httpHandlers.NewWithdrawalHandler(withdrawalService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(
		cfg,
		orderHandler, paymentHandler, deliveryHandler, disputeHandler,
		withdrawalHandler, notificationHandler, wsHandler, healthHandler,
		tokenManager, userRepo,
	)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}

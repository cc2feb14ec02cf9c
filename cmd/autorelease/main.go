package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/gigwork/settlement-backend/internal/config"
	"github.com/gigwork/settlement-backend/internal/db"
	"github.com/gigwork/settlement-backend/internal/events"
	"github.com/gigwork/settlement-backend/internal/logger"
	"github.com/gigwork/settlement-backend/internal/provider"
	"github.com/gigwork/settlement-backend/internal/repository"
	"github.com/gigwork/settlement-backend/internal/service"
)

// Разовый проход автовыплаты: закрывает escrow по заказам, на сдачу
// которых клиент не ответил в отведённый срок. Запускается по cron.
func main() {
	limit := flag.Int("limit", 100, "максимум escrow за один проход")
	timeout := flag.Duration("timeout", 5*time.Minute, "общий таймаут прохода")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("autorelease: ошибка загрузки конфигурации: %v", err)
	}
	logger.Init("info")

	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("autorelease: ошибка подключения к базе: %v", err)
	}
	defer dbConn.Close()

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("autorelease: не удалось подключиться к Kafka: %v", err)
		}
	} else {
		publisher = events.NewLogPublisher()
	}
	defer publisher.Close()

	paymentService := service.NewPaymentService(
		repository.NewWalletRepository(dbConn),
		repository.NewTransactionRepository(dbConn),
		repository.NewEscrowRepository(dbConn),
		repository.NewOrderRepository(dbConn),
		provider.NewNoopProvider(),
		publisher,
		cfg.ProviderTimeout, cfg.AutoReleaseWindow, cfg.ReviewWindow,
	)

	released, err := paymentService.ReleaseEligibleEscrows(ctx, time.Now(), *limit)
	if err != nil {
		log.Fatalf("autorelease: проход завершился с ошибкой после %d выплат: %v", released, err)
	}
	log.Printf("autorelease: выплачено escrow: %d", released)
}

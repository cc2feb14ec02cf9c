package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/gigwork/settlement-backend/internal/logger"
)

// KafkaPublisher публикует события заказов в Kafka.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka producer %w", err)
	}

	logger.Log.WithField("brokers", brokers).Info("Kafka producer инициализирован")
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal event %w", err)
	}

	// Ключ — ID заказа: события одного заказа попадают в одну партицию
	// и сохраняют порядок.
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.OrderID.String()),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("events: send message %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"type":      event.Type,
		"order_id":  event.OrderID,
		"partition": partition,
		"offset":    offset,
	}).Debug("Событие опубликовано")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher пишет события только в лог. Используется без брокеров.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	logger.Log.WithFields(logrus.Fields{
		"type":       event.Type,
		"order_id":   event.OrderID,
		"old_status": event.OldStatus,
		"new_status": event.NewStatus,
	}).Info("Событие заказа")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

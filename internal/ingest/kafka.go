package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sensor-fdd/internal/models"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает измерения из топика Kafka
type Consumer struct {
	reader messageReader
	sink   Sink
	logger *zap.Logger
}

// NewConsumer создает consumer группы groupID
func NewConsumer(brokers []string, groupID, topic string, sink Sink, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{
		reader: reader,
		sink:   sink,
		logger: logger.With(zap.String("component", "kafka-consumer"), zap.String("topic", topic)),
	}
}

// Run читает сообщения до отмены контекста
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Kafka read error", zap.Error(err))
			continue
		}
		deliver(c.sink, c.logger, "kafka", msg.Value, string(msg.Key))
	}
}

// Close закрывает reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Publisher публикует отчеты о неисправностях в Kafka с ключом platform_id
type Publisher struct {
	writer messageWriter
}

// NewPublisher создает publisher топика
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishFault отправляет отчет
func (p *Publisher) PublishFault(ctx context.Context, report models.FaultReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal fault report: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(report.PlatformID),
		Value: payload,
		Time:  report.DetectedAt,
	})
}

// Close закрывает writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
)

// Producer writes detected events and subscription commands to Kafka
type Producer struct {
	config   *config.KafkaConfig
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewProducerConfig returns the sarama settings shared by the service and the CLI
func NewProducerConfig(cfg *config.KafkaConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	return saramaConfig
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerWithClient(cfg, producer, logger), nil
}

// NewProducerWithClient wraps an existing sarama producer
func NewProducerWithClient(cfg *config.KafkaConfig, producer sarama.SyncProducer, logger *slog.Logger) *Producer {
	return &Producer{
		config:   cfg,
		producer: producer,
		logger:   logger,
	}
}

// PublishEvent writes ev to the event topic, keyed by game ID
func (p *Producer) PublishEvent(_ context.Context, ev domain.NotificationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.config.EventTopic,
		Key:   sarama.StringEncoder(ev.GameID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
			{Key: []byte("league"), Value: []byte(ev.League)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing %s event for %s: %w", ev.Type, ev.GameID, err)
	}

	p.logger.Debug("event published",
		"game_id", ev.GameID,
		"event_type", ev.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// PublishCommand writes a subscription command to the command topic
func (p *Producer) PublishCommand(_ context.Context, cmd domain.SubscriptionCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}

	if _, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.config.CommandTopic,
		Key:   sarama.StringEncoder(CommandKey(cmd)),
		Value: sarama.ByteEncoder(data),
	}); err != nil {
		return fmt.Errorf("publishing %s command: %w", cmd.Action, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

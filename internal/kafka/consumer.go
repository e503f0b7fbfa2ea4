package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/service"
)

// CommandHandler applies subscription commands
type CommandHandler interface {
	HandleCommandBatch(ctx context.Context, cmds []domain.SubscriptionCommand) error
}

// Consumer consumes subscription commands from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       CommandHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler CommandHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, handler, logger, consumerGroup), nil
}

func newConsumer(cfg *config.KafkaConfig, handler CommandHandler, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.CommandTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.CommandTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	once     sync.Once
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches commands from one partition. Commands are applied in
// partition order; offsets are marked only after their batch was handed off
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	batch := make([]domain.SubscriptionCommand, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := h.consumer.handler.HandleCommandBatch(ctx, batch); err != nil {
				logger.Error("failed to process batch", "error", err, "batch_size", len(batch))
			} else {
				logger.Debug("processed batch", "batch_size", len(batch))
			}
			cancel()
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			cmd, err := DecodeCommand(message.Value)
			if err != nil {
				logger.Warn("dropping subscription command",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, cmd)
			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// DecodeCommand parses and checks one command message
func DecodeCommand(data []byte) (domain.SubscriptionCommand, error) {
	var cmd domain.SubscriptionCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	switch cmd.Action {
	case domain.ActionSubscribe:
		if cmd.Subscribe == nil || cmd.Subscribe.GameID == "" {
			return cmd, fmt.Errorf("%w: subscribe command missing game", domain.ErrInvalidRequest)
		}
	case domain.ActionUnsubscribe:
		if cmd.SubscriptionID == "" || cmd.GameID == "" {
			return cmd, fmt.Errorf("%w: unsubscribe command missing ids", domain.ErrInvalidRequest)
		}
	case domain.ActionUnsubscribeAll:
		if cmd.SubscriptionID == "" {
			return cmd, fmt.Errorf("%w: unsubscribe_all command missing subscription id", domain.ErrInvalidRequest)
		}
	default:
		return cmd, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidRequest, cmd.Action)
	}
	return cmd, nil
}

// CommandKey is the partition key of a command. Commands for one subscription
// land on one partition and keep their order
func CommandKey(cmd domain.SubscriptionCommand) string {
	if cmd.SubscriptionID == "" && cmd.Subscribe != nil {
		return service.SubscriptionID(cmd.Subscribe.Push.Endpoint)
	}
	return cmd.SubscriptionID
}

// Package invalidation keeps aggregation caches on every replica in step with
// ingestions committed anywhere in the fleet.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/polygon-parts/internal/core/observability"
	"github.com/mohammed-shakir/polygon-parts/internal/events"
	mylog "github.com/mohammed-shakir/polygon-parts/internal/logger"
)

// Invalidator moves a partition's cached aggregation to a new generation.
type Invalidator interface {
	Invalidate(ctx context.Context, partition string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	inv    Invalidator
	seen   *versionDedupe
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, inv Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Defaults()
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   zl,
		inv:    inv,
		seen:   newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes change events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("invalidation: missing invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					continue
				}
				obs.IncKafkaConsumerError("consume")
				mylog.FromContext(ctx, c.zlog).Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single change event. Malformed events are logged, counted
// and skipped so they cannot wedge the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev events.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.poison(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.poison(ctx, msg, "invalid", err)
		return nil
	}

	name := ev.PolygonPartsEntityName
	v := ev.TS.UnixNano()
	if !c.seen.shouldApply(name, v) {
		c.logger.Debug("skipping stale change event", "partition", name, "ts", ev.TS)
		return nil
	}

	if err := c.inv.Invalidate(ctx, name); err != nil {
		c.seen.forget(name, v)
		obs.IncKafkaConsumerError("invalidate")
		mylog.FromContext(mylog.WithPartition(ctx, name), c.zlog).Error().Err(err).
			Str("kind", "invalidate").
			Int32("kafka_partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("invalidate %s: %w", name, err)
	}

	c.logger.Debug("aggregation cache invalidated from event",
		"partition", name, "op", ev.Op, "parts", ev.Parts)
	return nil
}

func (c *Consumer) poison(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	mylog.FromContext(ctx, c.zlog).Error().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("kafka_partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}

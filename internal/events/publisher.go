package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/polygon-parts/internal/core/observability"
	"github.com/mohammed-shakir/polygon-parts/internal/ingest"
)

// Publisher hands events to an async producer without ever blocking the caller.
// A nil *Publisher is valid and discards everything.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	now     func() time.Time
	stopped chan struct{}
	drained chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		now:     time.Now,
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEventPublished("error")
				p.log.Error("events: marshal", "err", err)
				continue
			}
			// keyed by partition so one partition's events stay ordered
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.PolygonPartsEntityName),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.drained)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEventPublished("error")
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev, dropping it when the queue is full.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.events <- ev:
		observability.IncEventPublished("queued")
	default:
		observability.IncEventPublished("dropped")
	}
}

// AfterCommit turns a committed ingestion into an event. It is registered as an
// ingest post-commit hook.
func (p *Publisher) AfterCommit(_ context.Context, res ingest.Result) error {
	if p == nil {
		return nil
	}
	p.Publish(Event{
		Version:                Version,
		Op:                     string(res.Op),
		PartsEntityName:        res.Names.Parts.EntityName,
		PolygonPartsEntityName: res.Names.PolygonParts.EntityName,
		CatalogIDs:             res.CatalogIDs,
		Parts:                  res.Parts,
		TS:                     p.now().UTC(),
	})
	return nil
}

// Close flushes queued events and shuts the producer down.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.drained
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

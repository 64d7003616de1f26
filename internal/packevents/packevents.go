// Package packevents publishes a Kafka record for every pack the store
// writes, so downstream consumers (warmers, analytics) can follow cache
// fill without polling SQLite.
package packevents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/core/config"
)

type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher is safe to use as a nil pointer: every method is a no-op, so
// deployments without brokers skip the wiring rather than branch on it.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	log     zerolog.Logger
}

func New(cfg config.PackEventsCfg, log zerolog.Logger) (*Publisher, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_5_0_0
	scfg.Producer.Return.Errors = true
	scfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(strings.Split(cfg.Brokers, ","), scfg)
	if err != nil {
		return nil, fmt.Errorf("packevents: create async producer: %w", err)
	}
	return newWith(prod, cfg.Topic, cfg.Queue, log), nil
}

func newWith(prod sarama.AsyncProducer, topic string, queueSize int, log zerolog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		log:     log.With().Str("component", "packevents").Logger(),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error().Err(err).Msg("marshal event")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Key),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn().Err(err).Msg("producer error")
			}
		}
	}()

	return p
}

// Publish enqueues one event. Queue full means drop: the write path is
// never allowed to block on Kafka.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

// PackStored implements the store's PackSink.
func (p *Publisher) PackStored(kind, key string, bytes int) {
	if p == nil {
		return
	}
	p.Publish(Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		Bytes:     bytes,
		CreatedAt: time.Now().UTC(),
	})
}

// Close drains queued events into the producer and shuts it down.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("packevents: close producer: %w", err)
	}
	return nil
}

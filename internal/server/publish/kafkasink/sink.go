// Package kafkasink mirrors hot-key changes onto a Kafka topic for
// consumers outside the push protocol.
package kafkasink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

type ChangeEvent struct {
	App         string    `json:"app"`
	Key         string    `json:"key"`
	Op          string    `json:"op"`
	Version     int64     `json:"version"`
	PrevVersion int64     `json:"prev_version,omitempty"`
	HotKeys     int       `json:"hot_keys"`
	TS          time.Time `json:"ts"`
}

func toChange(ev model.PushEvent, now time.Time) ChangeEvent {
	op := "removed"
	if ev.Added {
		op = "added"
	}
	return ChangeEvent{
		App:         ev.AppName(),
		Key:         ev.Key,
		Op:          op,
		Version:     ev.Version,
		PrevVersion: ev.PrevVersion,
		HotKeys:     ev.Result.Len(),
		TS:          now.UTC(),
	}
}

// Sink buffers events and feeds an async producer; records are keyed by
// application so one application's changes stay ordered in a partition.
type Sink struct {
	topic   string
	log     *slog.Logger
	events  chan ChangeEvent
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errsWG  sync.WaitGroup
	now     func() time.Time
}

func New(brokers []string, topic string, queueSize int, log *slog.Logger) (*Sink, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkasink: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer wires an existing producer, e.g. a sarama mock.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{
		topic:   topic,
		log:     log,
		events:  make(chan ChangeEvent, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(s.stopped)
		for ev := range s.events {
			b, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("kafkasink: marshal", "err", err)
				continue
			}
			s.prod.Input() <- &sarama.ProducerMessage{
				Topic: s.topic,
				Key:   sarama.StringEncoder(ev.App),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	s.errsWG.Add(1)
	go func() {
		defer s.errsWG.Done()
		for err := range s.prod.Errors() {
			if err != nil {
				s.log.Warn("kafkasink: producer error", "err", err)
			}
		}
	}()
	return s
}

// Observe queues ev; when the buffer is full the event is dropped rather
// than delaying push delivery.
func (s *Sink) Observe(ev model.PushEvent) {
	select {
	case s.events <- toChange(ev, s.now()):
	default:
		s.log.Warn("kafkasink: queue full; dropping change", "app", ev.AppName(), "key", ev.Key)
	}
}

// Close flushes queued events and closes the producer. Observe must not be
// called afterwards.
func (s *Sink) Close() error {
	close(s.events)
	<-s.stopped

	if err := s.prod.Close(); err != nil {
		return fmt.Errorf("kafkasink: close producer: %w", err)
	}
	s.errsWG.Wait()
	return nil
}

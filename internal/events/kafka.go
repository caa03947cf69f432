package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when the producer cannot keep up and an event
// is dropped instead of blocking the caller.
var ErrBufferFull = errors.New("event buffer full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

const maxBatch = 100

// KafkaPublisher queues events in memory and writes them to a topic from a
// single goroutine, keyed so that one variant's or transfer's events stay
// on one partition.
type KafkaPublisher struct {
	w     *kafka.Writer
	log   *zap.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a publisher. Call Start before publishing.
func NewKafkaPublisher(brokers []string, topic string, buf int, log *zap.Logger) *KafkaPublisher {
	if buf <= 0 {
		buf = 1024
	}
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				log.Warn(fmt.Sprintf(msg, args...), zap.String("component", "kafka"))
			}),
		},
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start runs the write loop until Close.
func (p *KafkaPublisher) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			batch := []kafka.Message{m}
		drain:
			for len(batch) < maxBatch {
				select {
				case next, ok := <-p.inbox:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			p.write(batch)
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("closing kafka writer", zap.Error(err))
		}
	}()
}

func (p *KafkaPublisher) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, batch...); err != nil {
		p.log.Error("publishing events", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// Publish queues ev. It never blocks; a full queue drops the event.
func (p *KafkaPublisher) Publish(_ context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		p.log.Warn("dropping event", zap.String("type", ev.Type), zap.String("key", ev.Key))
		return ErrBufferFull
	}
}

// Close flushes queued events and stops the write loop.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}

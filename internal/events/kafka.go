package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const Topic = "storefront-events"

const queueSize = 256

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events and writes them from one background goroutine, so Publish
// never waits on the broker. Events are dropped when the queue is full.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *log.Entry
	queue   chan kafka.Message
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(logger *log.Entry, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *log.Entry) *KafkaPublisher {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	p := &KafkaPublisher{
		writer:  w,
		timeout: 5 * time.Second,
		logger:  logger.WithField("component", "events"),
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) Publish(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("event_type", event.Type).Error("failed to marshal event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.WithField("event_type", event.Type).Warn("publisher closed, dropping event")
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.WithField("event_type", event.Type).Warn("event queue full, dropping event")
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithField("key", string(msg.Key)).Warn("failed to publish event")
		}
	}
}

// Close flushes queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

// messageKey keeps events of one checkout, or of one cart line, on one partition.
func messageKey(event Event) string {
	switch {
	case event.SnapshotID != "":
		return event.SnapshotID
	case event.ProductID != 0:
		return fmt.Sprintf("product:%d", event.ProductID)
	default:
		return string(event.Type)
	}
}

package kafka

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox drained by one goroutine. Close
// flushes what is buffered, then closes the writer.
type Producer struct {
	w     messageWriter
	inbox chan kafka.Message
	done  chan struct{}

	drain  sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Printf("[kafka] WARN: %d message(s) to %s not delivered: %v", len(msgs), topic, err)
			}
		},
	}
	return newProducer(w, buf)
}

func newProducer(w messageWriter, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start ties the producer to ctx: cancelling it closes the producer. The
// drain loop itself starts on first use, so Publish and Close never block
// on a producer that was not started.
func (p *Producer) Start(ctx context.Context) {
	p.startDrain()
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
}

func (p *Producer) startDrain() {
	p.drain.Do(func() {
		go func() {
			for m := range p.inbox {
				if err := p.w.WriteMessages(context.Background(), m); err != nil {
					log.Printf("[kafka] WARN: write %s: %v", m.Key, err)
				}
			}
			if err := p.w.Close(); err != nil {
				log.Printf("[kafka] WARN: close writer: %v", err)
			}
			close(p.done)
		}()
	})
}

// Publish enqueues a message; after Close it is dropped with a warning.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Printf("[kafka] WARN: producer closed, dropping message %s", key)
		return
	}
	p.startDrain()
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// PublishEvent publishes an encoded envelope tagged with its type.
func (p *Producer) PublishEvent(key []byte, eventType string, value []byte) {
	p.Publish(key, value,
		kafka.Header{Key: HeaderEventType, Value: []byte(eventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(1))},
	)
}

// Close stops intake and waits for the buffered messages to be written.
// It is safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	p.startDrain()
	<-p.done
}

// EventType reads the type header set by PublishEvent.
func EventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}

package kafka

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	backoff time.Duration

	mu      sync.Mutex // guards pending/handled and serializes commits
	pending map[partition][]int64
	handled map[partition]map[int64]kafka.Message
}

type partition struct {
	topic string
	id    int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commits are synchronous and explicit
	})
	return newConsumer(r, workers)
}

func newConsumer(r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		workers: workers,
		backoff: 200 * time.Millisecond,
		pending: map[partition][]int64{},
		handled: map[partition]map[int64]kafka.Message{},
	}
}

// Start fetches until ctx is done. Messages with the same key always land on
// the same worker, so events for one bill are handled in order. A failing
// message is retried in place; a partition's offset is committed only up to
// the last message before the first one still unhandled.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if c.handle(ctx, h, m) {
					c.ack(ctx, m)
				}
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.track(m)
		q := queues[xxhash.Sum64(m.Key)%uint64(len(queues))]
		select {
		case q <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds. It reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	for {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		log.Printf("[kafka] handler error topic=%s partition=%d offset=%d: %v", m.Topic, m.Partition, m.Offset, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
}

func (c *Consumer) track(m kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := partition{m.Topic, m.Partition}
	c.pending[k] = append(c.pending[k], m.Offset)
}

// ack marks m handled and commits the longest handled run at the head of its
// partition.
func (c *Consumer) ack(ctx context.Context, m kafka.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := partition{m.Topic, m.Partition}
	done := c.handled[k]
	if done == nil {
		done = map[int64]kafka.Message{}
		c.handled[k] = done
	}
	done[m.Offset] = m

	var (
		last  kafka.Message
		ready bool
	)
	q := c.pending[k]
	for len(q) > 0 {
		hm, ok := done[q[0]]
		if !ok {
			break
		}
		delete(done, q[0])
		q = q[1:]
		last, ready = hm, true
	}
	c.pending[k] = q
	if !ready {
		return
	}
	if err := c.r.CommitMessages(ctx, last); err != nil && ctx.Err() == nil {
		log.Printf("[kafka] commit offset=%d: %v", last.Offset, err)
	}
}

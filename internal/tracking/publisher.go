package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"tether-go/internal/metrics"
	"tether-go/internal/models"
)

const (
	DefaultEnqueueTimeout = 100 * time.Millisecond

	// maxInFlight bounds the enqueues running in the background
	maxInFlight = 1024
)

var (
	ErrPublisherClosed = errors.New("tracking publisher is closed")
	ErrEnqueueTimeout  = errors.New("tracking enqueue timed out")
	ErrBackpressure    = errors.New("too many tracking enqueues in flight")
)

// Publisher enqueues tracking tasks. A circuit breaker stops hammering an
// unavailable queue.
type Publisher struct {
	pub     message.Publisher
	topic   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[interface{}]

	inFlight chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func NewPublisher(pub message.Publisher, topic string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = DefaultEnqueueTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "tracking-enqueue",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("tracking circuit breaker changed state")
		},
	})

	return &Publisher{
		pub:      pub,
		topic:    topic,
		timeout:  timeout,
		breaker:  breaker,
		inFlight: make(chan struct{}, maxInFlight),
	}
}

// Enqueue publishes task, giving up after the enqueue timeout. The task's
// ID becomes the message ID so redeliveries record the same visit.
func (p *Publisher) Enqueue(ctx context.Context, task *models.TrackingTask) error {
	if !p.acquire() {
		return ErrPublisherClosed
	}
	defer p.wg.Done()
	return p.enqueue(ctx, task, func() {})
}

// acquire registers a caller with Close unless the publisher is closed
func (p *Publisher) acquire() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

// enqueue calls release once the publish itself has returned, which may be
// after enqueue gave up waiting for it. The caller must hold an acquire.
func (p *Publisher) enqueue(ctx context.Context, task *models.TrackingTask, release func()) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		release()
		return fmt.Errorf("encoding tracking task: %w", err)
	}
	msg := message.NewMessage(task.ID.String(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	if task.ShortLink != nil {
		msg.Metadata.Set("key", task.ShortLink.Key)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer func() {
			release()
			p.wg.Done()
		}()
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.pub.Publish(p.topic, msg)
		})
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrEnqueueTimeout
	}
}

// Dispatch enqueues task in the background and never blocks the caller.
// Failures are logged at error level and dropped. A slot stays taken until
// its publish returns, so a stalled queue fills up and sheds load.
func (p *Publisher) Dispatch(task *models.TrackingTask) {
	if !p.acquire() {
		p.reportFailure(task, ErrPublisherClosed)
		return
	}

	select {
	case p.inFlight <- struct{}{}:
	default:
		p.wg.Done()
		p.reportFailure(task, ErrBackpressure)
		return
	}
	release := func() { <-p.inFlight }

	go func() {
		defer p.wg.Done()
		if err := p.enqueue(context.Background(), task, release); err != nil {
			p.reportFailure(task, err)
			return
		}
		metrics.TrackingEnqueued.WithLabelValues("ok").Inc()
	}()
}

func (p *Publisher) reportFailure(task *models.TrackingTask, err error) {
	metrics.TrackingEnqueued.WithLabelValues("failed").Inc()

	key := ""
	if task.ShortLink != nil {
		key = task.ShortLink.Key
	}
	log.Error().
		Err(err).
		Str("key", key).
		Str("ip", task.IP).
		Msg("failed to enqueue visit tracking task")
}

// Close waits for running publishes and closes the underlying publisher
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return p.pub.Close()
}

package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether-go/internal/config"
	"tether-go/internal/logger"
	"tether-go/internal/metrics"
	"tether-go/internal/models"
	"tether-go/internal/visits"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Provider:         ProviderMemory,
		Topic:            "visits.track",
		PoisonTopic:      "visits.poison",
		EnqueueTimeout:   time.Second,
		Subscribers:      1,
		MaxRetries:       1,
		RetryInterval:    5 * time.Millisecond,
		RetryMaxInterval: 10 * time.Millisecond,
	}
}

type recorderFunc func(ctx context.Context, task *models.TrackingTask) (*models.Visit, error)

func (f recorderFunc) Record(ctx context.Context, task *models.TrackingTask) (*models.Visit, error) {
	return f(ctx, task)
}

func newTask(key string) *models.TrackingTask {
	return &models.TrackingTask{
		IP:          "203.0.113.7",
		UserAgent:   "Mozilla/5.0",
		ShortLink:   models.NewShortLink(key, "https://example.com", nil, time.Now().UTC()),
		RequestedAt: time.Now().UTC(),
	}
}

func startWorker(t *testing.T, cfg config.QueueConfig, rec VisitRecorder) *PubSub {
	t.Helper()
	ps, err := NewPubSub(cfg, logger.NewWatermillAdapter())
	require.NoError(t, err)

	w, err := NewWorker(cfg, ps, rec, logger.NewWatermillAdapter())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		_ = ps.Close()
	})

	select {
	case <-w.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start")
	}
	return ps
}

func TestNewPubSub_UnknownProvider(t *testing.T) {
	_, err := NewPubSub(config.QueueConfig{Provider: "kafka"}, logger.NewWatermillAdapter())
	assert.Error(t, err)
}

func TestWorker_RecordsEnqueuedTask(t *testing.T) {
	cfg := testQueueConfig()
	received := make(chan *models.TrackingTask, 1)
	ps := startWorker(t, cfg, recorderFunc(func(_ context.Context, task *models.TrackingTask) (*models.Visit, error) {
		received <- task
		return &models.Visit{}, nil
	}))

	pub := NewPublisher(ps.Publisher, cfg.Topic, cfg.EnqueueTimeout)
	require.NoError(t, pub.Enqueue(context.Background(), newTask("abc1234")))

	select {
	case task := <-received:
		assert.Equal(t, "abc1234", task.ShortLink.Key)
		assert.Equal(t, "203.0.113.7", task.IP)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not recorded")
	}
}

func TestWorker_ExhaustedTaskIsDeadLettered(t *testing.T) {
	cfg := testQueueConfig()
	var mu sync.Mutex
	attempts := 0
	ps := startWorker(t, cfg, recorderFunc(func(context.Context, *models.TrackingTask) (*models.Visit, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("database unavailable")
	}))

	before := testutil.ToFloat64(metrics.TrackingDeadLetters)

	pub := NewPublisher(ps.Publisher, cfg.Topic, cfg.EnqueueTimeout)
	require.NoError(t, pub.Enqueue(context.Background(), newTask("doomed1")))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TrackingDeadLetters) == before+1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// the first attempt plus MaxRetries
	assert.Equal(t, cfg.MaxRetries+1, attempts)
}

func TestWorker_MalformedTaskSkipsRetries(t *testing.T) {
	cfg := testQueueConfig()
	var called atomic.Bool
	ps := startWorker(t, cfg, recorderFunc(func(context.Context, *models.TrackingTask) (*models.Visit, error) {
		called.Store(true)
		return &models.Visit{}, nil
	}))

	before := testutil.ToFloat64(metrics.TrackingDeadLetters)
	require.NoError(t, ps.Publisher.Publish(cfg.Topic, message.NewMessage("bad-1", []byte("{garbage"))))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TrackingDeadLetters) == before+1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, called.Load())
}

type blockingPublisher struct {
	release chan struct{}
	calls   atomic.Int64
}

func (p *blockingPublisher) Publish(string, ...*message.Message) error {
	p.calls.Add(1)
	<-p.release
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(string, ...*message.Message) error {
	p.calls++
	return errors.New("queue down")
}

func (p *failingPublisher) Close() error { return nil }

func TestEnqueue_Timeout(t *testing.T) {
	blocker := &blockingPublisher{release: make(chan struct{})}
	defer close(blocker.release)

	pub := NewPublisher(blocker, "visits.track", 20*time.Millisecond)

	start := time.Now()
	err := pub.Enqueue(context.Background(), newTask("slow123"))
	assert.ErrorIs(t, err, ErrEnqueueTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnqueue_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := &failingPublisher{}
	pub := NewPublisher(failing, "visits.track", time.Second)

	for i := 0; i < 5; i++ {
		assert.Error(t, pub.Enqueue(context.Background(), newTask("fail123")))
	}
	err := pub.Enqueue(context.Background(), newTask("fail123"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, failing.calls)
}

func TestDispatch_DoesNotBlockAndCountsFailures(t *testing.T) {
	failing := &failingPublisher{}
	pub := NewPublisher(failing, "visits.track", time.Second)

	before := testutil.ToFloat64(metrics.TrackingEnqueued.WithLabelValues("failed"))

	start := time.Now()
	pub.Dispatch(newTask("async12"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, pub.Close())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TrackingEnqueued.WithLabelValues("failed")))
}

func TestEnqueue_AfterClose(t *testing.T) {
	pub := NewPublisher(&failingPublisher{}, "visits.track", time.Second)
	require.NoError(t, pub.Close())

	assert.ErrorIs(t, pub.Enqueue(context.Background(), newTask("closed1")), ErrPublisherClosed)
}

func TestDispatch_StalledPublishesKeepTheirSlots(t *testing.T) {
	blocker := &blockingPublisher{release: make(chan struct{})}
	pub := NewPublisher(blocker, "visits.track", 5*time.Millisecond)
	failed := metrics.TrackingEnqueued.WithLabelValues("failed")
	before := testutil.ToFloat64(failed)

	for i := 0; i < maxInFlight; i++ {
		pub.Dispatch(newTask("stall12"))
	}
	// every enqueue gives up waiting while its publish stays stuck
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(failed) == before+maxInFlight
	}, 10*time.Second, 10*time.Millisecond)

	pub.Dispatch(newTask("stall12"))
	assert.Equal(t, before+maxInFlight+1, testutil.ToFloat64(failed))
	assert.EqualValues(t, maxInFlight, blocker.calls.Load())

	close(blocker.release)
	require.NoError(t, pub.Close())
}

func TestEnqueue_MessageIDIsTaskID(t *testing.T) {
	cfg := testQueueConfig()
	received := make(chan *models.TrackingTask, 1)
	ps := startWorker(t, cfg, recorderFunc(func(_ context.Context, task *models.TrackingTask) (*models.Visit, error) {
		received <- task
		return &models.Visit{}, nil
	}))

	task := newTask("ident12")
	pub := NewPublisher(ps.Publisher, cfg.Topic, cfg.EnqueueTimeout)
	require.NoError(t, pub.Enqueue(context.Background(), task))
	require.NotEqual(t, uuid.Nil, task.ID)

	select {
	case got := <-received:
		assert.Equal(t, task.ID, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not recorded")
	}
}

func TestWorker_TaskWithoutIDTakesMessageID(t *testing.T) {
	cfg := testQueueConfig()
	received := make(chan *models.TrackingTask, 1)
	ps := startWorker(t, cfg, recorderFunc(func(_ context.Context, task *models.TrackingTask) (*models.Visit, error) {
		received <- task
		return &models.Visit{}, nil
	}))

	payload, err := json.Marshal(newTask("legacy1"))
	require.NoError(t, err)
	msgID := uuid.New()
	require.NoError(t, ps.Publisher.Publish(cfg.Topic, message.NewMessage(msgID.String(), payload)))

	select {
	case got := <-received:
		assert.Equal(t, msgID, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not recorded")
	}
}

func TestWorker_RedeliveryIsAckedOnce(t *testing.T) {
	cfg := testQueueConfig()
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	ps := startWorker(t, cfg, recorderFunc(func(_ context.Context, task *models.TrackingTask) (*models.Visit, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[task.ID]++
		if seen[task.ID] > 1 {
			return nil, visits.ErrAlreadyRecorded
		}
		return &models.Visit{ID: task.ID}, nil
	}))

	recorded := testutil.ToFloat64(metrics.VisitsRecorded)
	deadLetters := testutil.ToFloat64(metrics.TrackingDeadLetters)

	task := newTask("twice12")
	task.ID = uuid.New()
	pub := NewPublisher(ps.Publisher, cfg.Topic, cfg.EnqueueTimeout)
	require.NoError(t, pub.Enqueue(context.Background(), task))
	require.NoError(t, pub.Enqueue(context.Background(), task))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[task.ID] == 2
	}, 5*time.Second, 10*time.Millisecond)

	// give a wrongly retried duplicate the chance to show up
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, seen[task.ID])
	mu.Unlock()
	assert.Equal(t, recorded+1, testutil.ToFloat64(metrics.VisitsRecorded))
	assert.Equal(t, deadLetters, testutil.ToFloat64(metrics.TrackingDeadLetters))
}

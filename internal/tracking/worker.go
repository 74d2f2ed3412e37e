package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tether-go/internal/config"
	"tether-go/internal/metrics"
	"tether-go/internal/models"
	"tether-go/internal/visits"
)

var errMissingLink = errors.New("tracking task has no short link")

const (
	recordHandlerName     = "record_visit"
	deadLetterHandlerName = "dead_letters"
)

// VisitRecorder persists one tracking task. It returns an error wrapping
// visits.ErrAlreadyRecorded for a task recorded before.
type VisitRecorder interface {
	Record(ctx context.Context, task *models.TrackingTask) (*models.Visit, error)
}

// Worker consumes tracking tasks and records them as visits. Failed tasks
// are retried with exponential backoff and then moved to the poison topic.
type Worker struct {
	cfg      config.QueueConfig
	ps       *PubSub
	recorder VisitRecorder
	logger   watermill.LoggerAdapter

	mu     sync.Mutex
	router *message.Router
	served bool
}

func NewWorker(cfg config.QueueConfig, ps *PubSub, recorder VisitRecorder, logger watermill.LoggerAdapter) (*Worker, error) {
	w := &Worker{
		cfg:      cfg,
		ps:       ps,
		recorder: recorder,
		logger:   logger,
	}
	router, err := w.newRouter()
	if err != nil {
		return nil, err
	}
	w.router = router
	return w, nil
}

func (w *Worker) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	poisonQueue, err := middleware.PoisonQueue(w.ps.Publisher, w.cfg.PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}

	// first added is outermost: panics become errors, errors are retried,
	// exhausted messages are poisoned and acked
	router.AddMiddleware(
		poisonQueue,
		middleware.Retry{
			MaxRetries:      w.cfg.MaxRetries,
			InitialInterval: w.cfg.RetryInterval,
			MaxInterval:     w.cfg.RetryMaxInterval,
			Multiplier:      2,
			Logger:          w.logger,
		}.Middleware,
		middleware.Recoverer,
	)

	router.AddNoPublisherHandler(recordHandlerName, w.cfg.Topic, w.ps.Subscriber, w.handleTask)
	router.AddNoPublisherHandler(deadLetterHandlerName, w.cfg.PoisonTopic, w.ps.Subscriber, w.handleDeadLetter)
	return router, nil
}

func (w *Worker) handleTask(msg *message.Message) error {
	var task models.TrackingTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil || task.ShortLink == nil {
		if err == nil {
			err = errMissingLink
		}
		// undecodable tasks cannot succeed on retry
		return w.poisonNow(msg, err)
	}

	// tasks published without an ID are keyed by their message
	if task.ID == uuid.Nil {
		if id, err := uuid.Parse(msg.UUID); err == nil {
			task.ID = id
		}
	}

	_, err := w.recorder.Record(msg.Context(), &task)
	if errors.Is(err, visits.ErrAlreadyRecorded) {
		log.Debug().
			Str("key", task.ShortLink.Key).
			Str("message_id", msg.UUID).
			Msg("visit already recorded, redelivery acked")
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording visit for %s: %w", task.ShortLink.Key, err)
	}

	metrics.VisitsRecorded.Inc()
	log.Debug().
		Str("key", task.ShortLink.Key).
		Str("message_id", msg.UUID).
		Msg("visit recorded")
	return nil
}

func (w *Worker) poisonNow(msg *message.Message, reason error) error {
	poisoned := msg.Copy()
	poisoned.Metadata.Set(middleware.ReasonForPoisonedKey, reason.Error())
	poisoned.Metadata.Set(middleware.PoisonedTopicKey, w.cfg.Topic)
	poisoned.Metadata.Set(middleware.PoisonedHandlerKey, recordHandlerName)
	if err := w.ps.Publisher.Publish(w.cfg.PoisonTopic, poisoned); err != nil {
		return fmt.Errorf("poisoning malformed task: %w", err)
	}
	return nil
}

func (w *Worker) handleDeadLetter(msg *message.Message) error {
	metrics.TrackingDeadLetters.Inc()
	log.Error().
		Str("message_id", msg.UUID).
		Str("key", msg.Metadata.Get("key")).
		Str("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)).
		Str("handler", msg.Metadata.Get(middleware.PoisonedHandlerKey)).
		Msg("tracking task moved to dead letter queue")
	return nil
}

// Serve runs the router until ctx is cancelled. A router cannot run twice,
// so a restarted worker gets a fresh one.
func (w *Worker) Serve(ctx context.Context) error {
	w.mu.Lock()
	if w.served {
		router, err := w.newRouter()
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.router = router
	}
	w.served = true
	router := w.router
	w.mu.Unlock()

	return router.Run(ctx)
}

// Running is closed once every handler of the current router is subscribed
func (w *Worker) Running() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.router.Running()
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.router.Close()
}

func (w *Worker) String() string {
	return "tracking-worker"
}

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeOtp is the asynq task type for queued codes.
	TaskTypeOtp = "otp:deliver"
	// DefaultQueue is the asynq queue codes are placed on.
	DefaultQueue = "auth"
)

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier queues messages for a Worker.
type AsynqNotifier struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

type NotifierOption func(*AsynqNotifier)

func WithQueue(name string) NotifierOption {
	return func(n *AsynqNotifier) {
		if name != "" {
			n.queue = name
		}
	}
}

func WithMaxRetry(n int) NotifierOption {
	return func(a *AsynqNotifier) {
		if n >= 0 {
			a.maxRetry = n
		}
	}
}

func NewAsynqNotifier(client Enqueuer, opts ...NotifierOption) *AsynqNotifier {
	n := &AsynqNotifier{client: client, queue: DefaultQueue, maxRetry: 3}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver enqueues m. The task's deadline is the code's expiry, so a
// backlog never delivers a dead code.
func (n *AsynqNotifier) Deliver(ctx context.Context, m Message) error {
	if m.Destination() == "" {
		return ErrNoDestination
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeOtp, body)
	opts := []asynq.Option{asynq.Queue(n.queue), asynq.MaxRetry(n.maxRetry)}
	if !m.ExpiresAt.IsZero() {
		opts = append(opts, asynq.Deadline(m.ExpiresAt))
	}
	if _, err := n.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("delivery: enqueue: %w", err)
	}
	return nil
}

// Worker drains the queue into a Sender.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker serves DefaultQueue (or queue, when given) with the given
// concurrency.
func NewWorker(opt asynq.RedisConnOpt, sender Sender, logger *slog.Logger, concurrency int, queue string) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	if queue == "" {
		queue = DefaultQueue
	}
	w := &Worker{
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
		}),
		mux:    asynq.NewServeMux(),
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
	w.mux.HandleFunc(TaskTypeOtp, w.HandleTask)
	return w
}

// Start runs the worker in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// HandleTask sends one queued message. Bad payloads and expired codes are
// not retried.
func (w *Worker) HandleTask(ctx context.Context, task *asynq.Task) error {
	var m Message
	if err := json.Unmarshal(task.Payload(), &m); err != nil {
		return fmt.Errorf("delivery: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if m.Destination() == "" {
		return fmt.Errorf("delivery: %w: %w", ErrNoDestination, asynq.SkipRetry)
	}
	if !m.ExpiresAt.IsZero() && !w.now().Before(m.ExpiresAt) {
		w.logger.Warn("otp expired before delivery", "account_id", m.AccountID, "purpose", string(m.Purpose))
		return nil
	}
	if err := w.sender.Send(ctx, m); err != nil {
		if errors.Is(err, ErrNoDestination) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

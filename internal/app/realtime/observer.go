package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionInfo describes one joined session for observers.
type SessionInfo struct {
	ConnID   string
	UserID   string
	OpenedAt time.Time
	ClosedAt time.Time
	Reason   string
}

// SessionObserver receives session transitions off the hot path.
// Calls run on a single worker goroutine, in transition order.
type SessionObserver interface {
	SessionOpened(ctx context.Context, s SessionInfo) error
	SessionClosed(ctx context.Context, s SessionInfo) error
}

type observerJob struct {
	opened  bool
	session SessionInfo
}

// notifier fans session transitions out to observers through a bounded queue.
// A full queue drops the transition and logs it; routing never waits on observers.
type notifier struct {
	observers []SessionObserver
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan observerJob

	wg     sync.WaitGroup
	logger zerolog.Logger
}

func newNotifier(observers []SessionObserver, queueSize int, timeout time.Duration, logger zerolog.Logger) *notifier {
	n := &notifier{
		observers: observers,
		timeout:   timeout,
		jobs:      make(chan observerJob, queueSize),
		logger:    logger,
	}

	if len(observers) > 0 {
		n.wg.Add(1)
		go n.run()
	}

	return n
}

func (n *notifier) run() {
	defer n.wg.Done()

	for job := range n.jobs {
		for _, o := range n.observers {
			n.dispatch(o, job)
		}
	}
}

func (n *notifier) dispatch(o SessionObserver, job observerJob) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	var err error
	if job.opened {
		err = o.SessionOpened(ctx, job.session)
	} else {
		err = o.SessionClosed(ctx, job.session)
	}

	if err != nil {
		n.logger.Warn().Err(err).
			Bool("opened", job.opened).
			Str("conn_id", job.session.ConnID).
			Str("user_id", job.session.UserID).
			Msg("Session observer failed")
	}
}

func (n *notifier) publish(job observerJob) {
	if len(n.observers) == 0 {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	select {
	case n.jobs <- job:
	default:
		n.logger.Warn().
			Str("conn_id", job.session.ConnID).
			Int("queue_len", len(n.jobs)).
			Msg("Observer queue full, dropping session transition")
	}
}

func (n *notifier) opened(s SessionInfo) { n.publish(observerJob{opened: true, session: s}) }

func (n *notifier) ended(s SessionInfo) { n.publish(observerJob{opened: false, session: s}) }

// stop closes the queue and waits for the worker to drain it or for ctx to expire.
func (n *notifier) stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

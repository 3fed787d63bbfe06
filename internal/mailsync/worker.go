package mailsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// UserLister lists the users a background sync should visit.
type UserLister interface {
	ListSyncableUserIDs(ctx context.Context, now time.Time) ([]string, error)
}

type WorkerOptions struct {
	Interval       time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Worker syncs every user with a live credential on a fixed interval. A
// user whose sync fails is skipped with exponential backoff until the delay
// has passed.
type Worker struct {
	users          UserLister
	sync           *Service
	interval       time.Duration
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
	now            func() time.Time

	mu       sync.Mutex
	failures map[string]failure
}

type failure struct {
	attempts int
	nextRun  time.Time
}

func NewWorker(users UserLister, svc *Service, opts WorkerOptions) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = interval
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = time.Hour
	}

	return &Worker{
		users:          users,
		sync:           svc,
		interval:       interval,
		retryBaseDelay: retryBase,
		maxRetryDelay:  maxRetry,
		now:            time.Now,
		failures:       make(map[string]failure),
	}
}

// Run syncs all users once per interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.syncAll(ctx); err != nil {
			slog.Error("background sync cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) syncAll(ctx context.Context) error {
	ids, err := w.users.ListSyncableUserIDs(ctx, w.now())
	if err != nil {
		return err
	}
	w.forgetUnlisted(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		if !w.due(id) {
			continue
		}

		n, err := w.sync.SyncUser(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := w.recordFailure(id)
			if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrUserNotFound) {
				slog.Info("skipping background sync", "user_id", id, "reason", err, "retry_in", delay)
				continue
			}
			slog.Error("background sync failed", "user_id", id, "error", err, "retry_in", delay)
			continue
		}

		w.mu.Lock()
		delete(w.failures, id)
		w.mu.Unlock()
		if n > 0 {
			slog.Info("background sync stored new messages", "user_id", id, "count", n)
		}
	}
	return nil
}

// forgetUnlisted drops backoff state for users that are no longer syncable.
func (w *Worker) forgetUnlisted(ids []string) {
	listed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		listed[id] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.failures {
		if _, ok := listed[id]; !ok {
			delete(w.failures, id)
		}
	}
}

func (w *Worker) due(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.failures[id]
	return !ok || !w.now().Before(f.nextRun)
}

func (w *Worker) recordFailure(id string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	f := w.failures[id]
	f.attempts++
	delay := w.retryDelay(f.attempts)
	f.nextRun = w.now().Add(delay)
	w.failures[id] = f
	return delay
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	if delay > w.maxRetryDelay {
		return w.maxRetryDelay
	}
	return delay
}

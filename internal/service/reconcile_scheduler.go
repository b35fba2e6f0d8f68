package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/pkg/config"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/jobs"
)

type sessionReconciler interface {
	SessionIDs(ctx context.Context) ([]string, error)
	ReconcileSessionCount(ctx context.Context, sessionID string) (int, error)
}

// ReconcileScheduler periodically queues every session for a counter repair.
type ReconcileScheduler struct {
	sessions sessionReconciler
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconcileScheduler wires the sweep to a worker queue. A zero interval
// disables the ticker; Sweep can still be triggered manually.
func NewReconcileScheduler(sessions sessionReconciler, cfg config.ReconcileConfig, logger *zap.Logger) *ReconcileScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReconcileScheduler{sessions: sessions, interval: cfg.Interval, logger: logger}
	s.queue = jobs.NewQueue("session-reconcile", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: time.Second,
		Logger:     logger,
	})
	return s
}

// Start launches the workers and, when configured, the ticker.
func (s *ReconcileScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)
	s.done = make(chan struct{})
	if s.interval <= 0 {
		close(s.done)
		return
	}
	go s.loop(ctx)
}

// Stop halts the ticker and drains the workers.
func (s *ReconcileScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.queue.Stop()
}

// Sweep queues every session and returns how many were newly queued.
func (s *ReconcileScheduler) Sweep(ctx context.Context) (int, error) {
	ids, err := s.sessions.SessionIDs(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		ok, err := s.queue.Enqueue(id)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	s.logger.Debug("reconcile sweep queued sessions", zap.Int("queued", queued), zap.Int("sessions", len(ids)))
	return queued, nil
}

func (s *ReconcileScheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, jobs.ErrQueueStopped) {
				s.logger.Warn("reconcile sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *ReconcileScheduler) handle(ctx context.Context, job jobs.Job) error {
	_, err := s.sessions.ReconcileSessionCount(ctx, job.Key)
	if errors.Is(err, appErrors.ErrNotFound) {
		// Session removed between sweep and run.
		return nil
	}
	return err
}

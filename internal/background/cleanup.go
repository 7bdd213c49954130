package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
)

// Task is one maintenance job. Run returns how many records it removed or changed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// CleanupManager periodically runs the maintenance tasks: CSRF sweep, idle
// limiter records, expired API keys, stale reset tokens, event retention and
// revoked sessions.
type CleanupManager struct {
	tasks    []Task
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	mu        sync.Mutex
}

// DefaultInterval replaces a non-positive interval, which time.NewTicker rejects.
const DefaultInterval = 15 * time.Minute

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tasks []Task, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		logger.Warn("invalid cleanup interval, using default",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval))
		interval = DefaultInterval
	}
	return &CleanupManager{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs every task once, then on each tick until Stop or ctx ends.
// It returns immediately; calling it again has no effect.
func (cm *CleanupManager) Start(ctx context.Context) {
	cm.startOnce.Do(func() {
		cm.mu.Lock()
		cm.started = true
		cm.mu.Unlock()
		go cm.loop(ctx)
	})
}

func (cm *CleanupManager) loop(ctx context.Context) {
	defer close(cm.done)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every task. A failing task is logged and retried next tick;
// the remaining tasks still run.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for _, task := range cm.tasks {
		select {
		case <-cm.stopCh:
			return
		default:
		}

		taskCtx, cancel := context.WithTimeout(ctx, cm.timeout)
		n, err := task.Run(taskCtx)
		cancel()

		if err != nil {
			cm.logger.Error("cleanup task failed", slog.String("task", task.Name), slog.Any("error", err))
			continue
		}
		if n > 0 {
			metrics.CleanupRemoved.WithLabelValues(task.Name).Add(float64(n))
			cm.logger.Info("cleanup task completed", slog.String("task", task.Name), slog.Int("affected", n))
		}
	}
}

// Stop signals the loop to exit and waits for it. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() {
		close(cm.stopCh)
	})

	cm.mu.Lock()
	started := cm.started
	cm.mu.Unlock()
	if started {
		<-cm.done
	}
}

// Package scheduler triggers sync cycles: periodically while online,
// immediately on reconnect, and on demand from the user.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/logging"
	"github.com/joselitz123/budget-planner/internal/netx"
	"github.com/joselitz123/budget-planner/internal/notify"
	syncpkg "github.com/joselitz123/budget-planner/internal/sync"
)

// DefaultInterval is the periodic sync cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Scheduler drives the sync engine in the background.
type Scheduler struct {
	engine   *syncpkg.Engine
	monitor  *netx.Monitor
	notifier notify.Notifier
	hub      *notify.Hub
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.Mutex
	isRunning      bool
	syncInProgress bool
	cancelSub      func()
}

// New creates a Scheduler. The hub may be nil when no UI is attached; a
// nil notifier falls back to the structured log.
func New(engine *syncpkg.Engine, monitor *netx.Monitor, notifier notify.Notifier, hub *notify.Hub, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Scheduler{
		engine:   engine,
		monitor:  monitor,
		notifier: notifier,
		hub:      hub,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic sync loop and subscribes to connectivity
// transitions. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.cancelSub = s.monitor.Subscribe(func(online bool) {
		if s.hub != nil {
			s.hub.BroadcastConnectivityChanged(online)
		}
		if online {
			// Drain whatever accumulated while offline without waiting
			// for the next tick.
			go s.runSync(ctx)
		}
	})

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", logging.Fields{"interval": s.interval.String()})
}

// Stop unsubscribes from connectivity events and terminates the
// periodic loop. Safe to call without Start and safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancelSub != nil {
		s.cancelSub()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// ManualSync runs a user-initiated cycle. While offline it rejects
// immediately with a user-visible notification instead of queueing a
// doomed network attempt.
func (s *Scheduler) ManualSync(ctx context.Context) error {
	if !s.monitor.Online() {
		s.notifier.Notify("Cannot sync while offline", notify.SeverityError, 3*time.Second)
		return apperrors.New(apperrors.ErrSyncOffline, "cannot sync while offline")
	}

	s.notifier.Notify("Sync started", notify.SeverityInfo, 2*time.Second)
	if err := s.runSync(ctx); err != nil {
		s.notifier.Notify("Sync failed, changes remain queued", notify.SeverityError, 5*time.Second)
		return err
	}
	if s.engine.Status() == syncpkg.StatusError {
		// Push went through but the pull leg failed.
		s.notifier.Notify("Changes uploaded, fetching latest changes failed", notify.SeverityWarning, 5*time.Second)
		return nil
	}
	s.notifier.Notify("All changes synced", notify.SeverityInfo, 2*time.Second)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.Online() {
				continue
			}

			s.mu.Lock()
			busy := s.syncInProgress
			s.mu.Unlock()
			if busy {
				logging.Debug("Sync already in progress, skipping tick", nil)
				continue
			}

			if err := s.runSync(ctx); err != nil {
				logging.Error("Periodic sync failed", err, nil)
			}
		}
	}
}

// runSync executes one cycle through the engine and broadcasts its
// outcome to attached UIs.
func (s *Scheduler) runSync(ctx context.Context) error {
	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	if s.hub != nil {
		s.hub.BroadcastSyncStarted()
	}

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		if s.hub != nil {
			s.hub.BroadcastSyncFailed(string(apperrors.CodeOf(err)), true)
		}
		return err
	}

	if s.hub != nil {
		s.hub.BroadcastSyncCompleted(len(result.Successful), time.Since(start))
	}
	return nil
}

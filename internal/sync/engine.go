// Package sync implements the offline-first synchronization engine: it
// drains the durable queue to the server, pulls remote changes back, and
// reconciles conflicts with last-write-wins.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/joselitz123/budget-planner/internal/api"
	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/logging"
	"github.com/joselitz123/budget-planner/internal/models"
	"github.com/joselitz123/budget-planner/internal/netx"
	"github.com/joselitz123/budget-planner/internal/notify"
	"github.com/joselitz123/budget-planner/internal/store"
	"github.com/joselitz123/budget-planner/internal/sync/conflict"
	"github.com/joselitz123/budget-planner/internal/sync/queue"
	"github.com/joselitz123/budget-planner/internal/sync/retry"
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Engine coordinates push, pull, and conflict resolution over the
// durable queue and the local store. One Engine serves the whole
// process; cycles are serialized internally.
type Engine struct {
	queue    *queue.Queue
	store    *store.Store
	client   *api.Client
	monitor  *netx.Monitor
	notifier notify.Notifier

	// syncMu serializes sync cycles so overlapping ticks or manual
	// triggers cannot race on queue claims.
	syncMu sync.Mutex

	stateMu  sync.Mutex
	status   Status
	lastSync time.Time
}

// NewEngine creates a sync engine. A nil notifier falls back to the
// structured log.
func NewEngine(q *queue.Queue, s *store.Store, c *api.Client, m *netx.Monitor, n notify.Notifier) *Engine {
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Engine{
		queue:    q,
		store:    s,
		client:   c,
		monitor:  m,
		notifier: n,
		status:   StatusIdle,
	}
}

// Status returns the engine's current state.
func (e *Engine) Status() Status {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.status
}

// LastSync returns the completion time of the last successful cycle, or
// the zero time if none has completed yet.
func (e *Engine) LastSync() time.Time {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastSync
}

func (e *Engine) setStatus(s Status) {
	e.stateMu.Lock()
	e.status = s
	e.stateMu.Unlock()
}

// PushResult summarizes one push attempt.
type PushResult struct {
	Attempted  int
	Successful []string
	Failed     []api.OpError
}

// Sync runs one full cycle: push local mutations, then pull remote
// changes. Pull failures are reported to the user but do not fail the
// cycle; a later cycle retries from the durable checkpoint.
func (e *Engine) Sync(ctx context.Context) (*PushResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.setStatus(StatusSyncing)

	result, err := e.push(ctx)
	if err != nil {
		e.setStatus(StatusError)
		return result, err
	}

	if err := e.pull(ctx); err != nil {
		// Status stays error so callers can see the cycle was partial.
		logging.Warn("Pull failed, will retry on a later cycle", logging.Fields{"error": err.Error()})
		return result, nil
	}

	e.stateMu.Lock()
	e.status = StatusIdle
	e.lastSync = time.Now()
	e.stateMu.Unlock()
	return result, nil
}

// Push delivers every eligible queued operation to the server. When
// nothing is eligible it returns immediately without a network call.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.setStatus(StatusSyncing)
	result, err := e.push(ctx)
	if err != nil {
		e.setStatus(StatusError)
		return result, err
	}
	e.setStatus(StatusIdle)
	return result, nil
}

func (e *Engine) push(ctx context.Context) (*PushResult, error) {
	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	eligible := make([]*models.SyncOperation, 0, len(pending))
	for _, op := range pending {
		if retry.Eligible(op, now) {
			eligible = append(eligible, op)
		}
	}

	result := &PushResult{Attempted: len(eligible)}
	if len(eligible) == 0 {
		return result, nil
	}

	ids := make([]string, len(eligible))
	for i, op := range eligible {
		ids[i] = op.ID
	}
	if err := e.queue.MarkSyncing(ctx, ids); err != nil {
		return nil, err
	}

	logging.Info("Pushing queued operations", logging.Fields{"count": len(eligible)})

	resp, err := e.client.Push(ctx, eligible)
	if err != nil {
		// The whole batch failed before any per-operation verdicts:
		// every claimed operation takes a failed attempt.
		for _, op := range eligible {
			e.recordFailure(ctx, op, err.Error(), now)
		}
		return result, apperrors.Wrap(apperrors.ErrSyncFailed, "push batch failed", err)
	}

	successful := make(map[string]bool, len(resp.Successful))
	for _, id := range resp.Successful {
		successful[id] = true
		if err := e.queue.Remove(ctx, id); err != nil {
			logging.Error("Failed to remove synced operation", err, logging.Fields{"operation_id": id})
			continue
		}
		result.Successful = append(result.Successful, id)
	}

	rejected := make(map[string]string, len(resp.Failed))
	for _, f := range resp.Failed {
		rejected[f.ID] = f.Error
		result.Failed = append(result.Failed, f)
	}

	for _, op := range eligible {
		if successful[op.ID] {
			continue
		}
		reason, ok := rejected[op.ID]
		if !ok {
			// Server gave no verdict for this operation. Treat it as a
			// failed attempt so it is retried rather than stuck syncing.
			reason = "no verdict from server"
		}
		e.recordFailure(ctx, op, reason, now)
	}

	if len(result.Successful) == result.Attempted {
		e.stateMu.Lock()
		e.lastSync = time.Now()
		e.stateMu.Unlock()
	}

	return result, nil
}

// recordFailure charges one failed attempt to the operation, arming the
// backoff timer or marking it terminal when the budget is spent.
func (e *Engine) recordFailure(ctx context.Context, op *models.SyncOperation, reason string, attemptTime time.Time) {
	op.RetryCount++
	op.Error = reason
	op.ClaimedAt = 0

	if retry.Exhausted(op.RetryCount) {
		op.Status = models.SyncStatusFailed
		op.NextRetryAt = 0
		e.notifier.Notify("Some changes could not be synced to the server", notify.SeverityError, 5*time.Second)
		logging.Error("Operation exhausted its retry budget", nil, logging.Fields{
			"operation_id": op.ID,
			"table":        op.Table,
			"record_id":    op.RecordID,
			"error":        reason,
		})
	} else {
		op.Status = models.SyncStatusPending
		op.NextRetryAt = retry.NextAttempt(attemptTime, op.RetryCount).UnixMilli()
		e.notifier.Notify("Sync failed, will retry", notify.SeverityWarning, 3*time.Second)
		logging.Warn("Operation failed, scheduled for retry", logging.Fields{
			"operation_id": op.ID,
			"retry_count":  op.RetryCount,
			"error":        reason,
		})
	}

	if err := e.queue.Update(ctx, op); err != nil {
		logging.Error("Failed to persist operation failure", err, logging.Fields{"operation_id": op.ID})
	}
}

// Pull fetches server-side changes since the durable checkpoint and
// reconciles them into the local store. Failures are surfaced to the
// user but not returned as hard errors to periodic callers; the
// checkpoint only advances past pages that were fully applied.
func (e *Engine) Pull(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.pull(ctx)
}

func (e *Engine) pull(ctx context.Context) error {
	if e.monitor != nil && !e.monitor.Online() {
		return apperrors.New(apperrors.ErrSyncOffline, "cannot pull while offline")
	}

	lastSync, err := e.store.GetState(ctx, store.StateLastSync)
	if err != nil {
		return err
	}

	for {
		resp, err := e.client.Pull(ctx, lastSync)
		if err != nil {
			e.setStatus(StatusError)
			e.notifier.Notify("Could not fetch latest changes, will retry later", notify.SeverityWarning, 3*time.Second)
			return apperrors.Wrap(apperrors.ErrSyncFailed, "pull failed", err)
		}

		applied := 0
		for _, c := range models.Collections() {
			for _, raw := range resp.Changes[c] {
				if err := e.applyChange(ctx, c, raw); err != nil {
					logging.Error("Failed to apply pulled change", err, logging.Fields{"collection": c})
					continue
				}
				applied++
			}
		}

		advanced := resp.LastSyncTime != "" && resp.LastSyncTime != lastSync
		if advanced {
			if err := e.store.SetState(ctx, store.StateLastSync, resp.LastSyncTime); err != nil {
				return err
			}
			lastSync = resp.LastSyncTime
		}

		logging.Debug("Applied pulled changes", logging.Fields{"count": applied, "last_sync": lastSync})

		if !resp.HasMore {
			return nil
		}
		if !advanced {
			// A stuck checkpoint with hasMore set would loop on the same
			// page forever; stop and let the next cycle retry.
			logging.Warn("Server reported more changes without advancing the checkpoint, stopping pull", nil)
			return nil
		}
	}
}

// applyChange reconciles one server snapshot into the local store.
// Unknown records are inserted; known records go through last-write-wins
// resolution, the server winning ties.
func (e *Engine) applyChange(ctx context.Context, c models.Collection, raw json.RawMessage) error {
	var ident struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ident); err != nil || ident.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "pulled change has no id")
	}

	local, found, err := e.store.Get(ctx, c, ident.ID)
	if err != nil {
		return err
	}
	if !found {
		return e.store.Put(ctx, c, ident.ID, raw)
	}

	res := conflict.Resolve(local, raw)
	if res.Winner == conflict.WinnerLocal {
		// Local copy is newer; it will reach the server on the next push.
		return nil
	}
	return e.store.Put(ctx, c, ident.ID, res.Data)
}

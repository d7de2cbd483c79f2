// Package queue provides the durable queue of pending sync operations.
//
// The queue is the sole persisted record of undelivered local intent: a
// row is appended when a domain record mutates, updated as delivery
// attempts fail, and deleted exactly once, on confirmed server
// acceptance. Rows survive process restart.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/joselitz123/budget-planner/internal/dbx"
	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/logging"
	"github.com/joselitz123/budget-planner/internal/models"
	"github.com/joselitz123/budget-planner/internal/sync/retry"
	"github.com/joselitz123/budget-planner/internal/uuid"
)

// DefaultClaimTimeout bounds how long an operation may sit in status
// syncing before ListPending hands it out again. A crash between claim
// and reconciliation must not strand operations.
const DefaultClaimTimeout = 2 * time.Minute

// Queue is a durable, capacity-bounded sync queue.
type Queue struct {
	db           *sql.DB
	mu           sync.Mutex
	capacity     int
	claimTimeout time.Duration
}

// New returns a Queue backed by the given database.
func New(db *sql.DB, capacity int) *Queue {
	return &Queue{
		db:           db,
		capacity:     capacity,
		claimTimeout: DefaultClaimTimeout,
	}
}

// Enqueue appends a new operation with a fresh id, the current
// timestamp, status pending, and zero retries, and returns it.
func (q *Queue) Enqueue(ctx context.Context, table models.Collection, recordID string, op models.Op, data json.RawMessage) (*models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return enqueue(ctx, q.db, q.capacity, table, recordID, op, data)
}

// EnqueueTx appends a new operation inside an existing transaction, so a
// domain mutation and its queue entry commit atomically.
func (q *Queue) EnqueueTx(ctx context.Context, tx dbx.DBTX, table models.Collection, recordID string, op models.Op, data json.RawMessage) (*models.SyncOperation, error) {
	return enqueue(ctx, tx, q.capacity, table, recordID, op, data)
}

func enqueue(ctx context.Context, db dbx.DBTX, capacity int, table models.Collection, recordID string, op models.Op, data json.RawMessage) (*models.SyncOperation, error) {
	if !table.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown collection: %q", table))
	}
	if !op.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation: %q", op))
	}
	if recordID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record id is required")
	}

	var size int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&size); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to check queue size", err)
	}
	if size >= capacity {
		return nil, apperrors.New(apperrors.ErrQueueFull, fmt.Sprintf("sync queue is full (capacity %d)", capacity))
	}

	entry := &models.SyncOperation{
		ID:        uuid.New(),
		Table:     table,
		RecordID:  recordID,
		Op:        op,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    models.SyncStatusPending,
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, tbl, record_id, operation, data, timestamp, status, retry_count, next_retry_at, claimed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, '')`,
		entry.ID, string(entry.Table), entry.RecordID, string(entry.Op),
		string(entry.Data), entry.Timestamp, string(entry.Status))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue operation", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = seq
	}

	logging.Debug("Enqueued sync operation", logging.Fields{
		"op_id":     entry.ID,
		"table":     entry.Table,
		"record_id": entry.RecordID,
		"operation": entry.Op,
	})

	return entry, nil
}

// ListPending returns every operation still awaiting delivery: pending
// rows, transiently failed rows with retry budget remaining, and
// syncing rows whose claim has gone stale. Rows come back in enqueue
// order as a best effort; callers must not rely on it.
func (q *Queue) ListPending(ctx context.Context) ([]*models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	staleClaim := time.Now().Add(-q.claimTimeout).UnixMilli()
	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, id, tbl, record_id, operation, data, timestamp, status, retry_count, next_retry_at, claimed_at, error
		 FROM sync_queue
		 WHERE (status = ? AND retry_count < ?)
		    OR (status = ? AND retry_count < ?)
		    OR (status = ? AND claimed_at < ?)
		 ORDER BY seq`,
		string(models.SyncStatusPending), retry.MaxAttempts,
		string(models.SyncStatusFailed), retry.MaxAttempts,
		string(models.SyncStatusSyncing), staleClaim)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending operations", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// All returns every queued operation, terminal failures included, for
// inspection surfaces.
func (q *Queue) All(ctx context.Context) ([]*models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, id, tbl, record_id, operation, data, timestamp, status, retry_count, next_retry_at, claimed_at, error
		 FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list operations", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// Get returns one operation by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRowContext(ctx,
		`SELECT seq, id, tbl, record_id, operation, data, timestamp, status, retry_count, next_retry_at, claimed_at, error
		 FROM sync_queue WHERE id = ?`, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get operation", err)
	}
	return op, nil
}

// MarkSyncing claims the given operations for an in-flight push cycle.
func (q *Queue) MarkSyncing(ctx context.Context, ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, id := range ids {
		_, err := q.db.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, claimed_at = ? WHERE id = ?`,
			string(models.SyncStatusSyncing), now, id)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to claim operation", err)
		}
	}
	return nil
}

// Update replaces an operation's mutable delivery state in place.
func (q *Queue) Update(ctx context.Context, op *models.SyncOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retry_count = ?, next_retry_at = ?, claimed_at = ?, error = ? WHERE id = ?`,
		string(op.Status), op.RetryCount, op.NextRetryAt, op.ClaimedAt, op.Error, op.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update operation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", op.ID))
	}
	return nil
}

// Remove deletes an operation. Called exactly once per operation, on
// confirmed server acceptance.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove operation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	return nil
}

// Size returns the number of queued operations.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count operations", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*models.SyncOperation, error) {
	var (
		op    models.SyncOperation
		table string
		kind  string
		data  string
		state string
	)
	err := row.Scan(&op.Seq, &op.ID, &table, &op.RecordID, &kind, &data,
		&op.Timestamp, &state, &op.RetryCount, &op.NextRetryAt, &op.ClaimedAt, &op.Error)
	if err != nil {
		return nil, err
	}
	op.Table = models.Collection(table)
	op.Op = models.Op(kind)
	op.Data = json.RawMessage(data)
	op.Status = models.SyncStatus(state)
	return &op, nil
}

func scanOperations(rows *sql.Rows) ([]*models.SyncOperation, error) {
	var result []*models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

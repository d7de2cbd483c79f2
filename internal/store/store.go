// Package store provides durable per-collection record storage.
//
// Every synced entity collection (budgets, categories, transactions,
// reflections, payment methods) lives in one records table keyed by
// (collection, id). Payloads are stored as full JSON snapshots; the
// updatedAt field is extracted into its own column for range scans, and
// arbitrary indexed-field lookups go through json_extract.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/joselitz123/budget-planner/internal/dbx"
	"github.com/joselitz123/budget-planner/internal/models"
)

// Store reads and writes record snapshots for all collections.
type Store struct {
	db dbx.DBTX
}

// New returns a Store bound to the given DBTX.
func New(db dbx.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to a transactional handle.
func (s *Store) WithTx(tx dbx.DBTX) *Store {
	return &Store{db: tx}
}

type snapshotMeta struct {
	UpdatedAt string `json:"updatedAt"`
}

// Get returns the record snapshot, or found=false if absent.
func (s *Store) Get(ctx context.Context, c models.Collection, id string) (json.RawMessage, bool, error) {
	if !c.Valid() {
		return nil, false, fmt.Errorf("unknown collection: %q", c)
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND id = ?`, string(c), id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", c, id, err)
	}
	return json.RawMessage(data), true, nil
}

// Put upserts the record snapshot, replacing any existing copy.
func (s *Store) Put(ctx context.Context, c models.Collection, id string, data json.RawMessage) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection: %q", c)
	}

	var meta snapshotMeta
	// Unparseable snapshots keep an empty updated_at; the resolver
	// treats those as the zero instant.
	_ = json.Unmarshal(data, &meta)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(c), id, string(data), meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", c, id, err)
	}
	return nil
}

// Delete removes a record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, c models.Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection: %q", c)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, string(c), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, id, err)
	}
	return nil
}

// GetAll returns every snapshot in a collection.
func (s *Store) GetAll(ctx context.Context, c models.Collection) ([]json.RawMessage, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection: %q", c)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = ? ORDER BY id`, string(c))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", c, err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// GetAllByIndex returns every snapshot whose JSON field equals value,
// e.g. GetAllByIndex(ctx, transactions, "budgetId", "b1").
func (s *Store) GetAllByIndex(ctx context.Context, c models.Collection, field, value string) ([]json.RawMessage, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection: %q", c)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND json_extract(data, '$.' || ?) = ? ORDER BY id`,
		string(c), field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", c, field, err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, c models.Collection) (int, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("unknown collection: %q", c)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, string(c)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c, err)
	}
	return n, nil
}

func collectSnapshots(rows *sql.Rows) ([]json.RawMessage, error) {
	var result []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		result = append(result, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

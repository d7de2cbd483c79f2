package models

import (
	"encoding/json"
	"fmt"
)

// Op is the kind of mutation a sync operation carries.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Valid reports whether o is a known operation kind.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncStatus is the delivery state of a queued operation. Success has no
// status: a confirmed operation is removed from the queue.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncOperation is a pending local mutation awaiting delivery.
type SyncOperation struct {
	ID         string          `json:"id"`
	Table      Collection      `json:"table"`
	RecordID   string          `json:"recordId"`
	Op         Op              `json:"operation"`
	Data       json.RawMessage `json:"data"`
	Timestamp  string          `json:"timestamp"`
	Status     SyncStatus      `json:"status"`
	RetryCount int             `json:"retryCount"`
	Error      string          `json:"error,omitempty"`

	// Durable bookkeeping, not part of the wire format.
	Seq         int64 `json:"-"` // enqueue order
	NextRetryAt int64 `json:"-"` // unix millis; 0 means immediately eligible
	ClaimedAt   int64 `json:"-"` // unix millis of the last syncing claim
}

// Decode unmarshals the operation's snapshot into the typed entity for
// its table.
func (op *SyncOperation) Decode() (Record, error) {
	return DecodeRecord(op.Table, op.Data)
}

// DecodeRecord unmarshals a raw snapshot into the entity type of the
// given collection.
func DecodeRecord(c Collection, data json.RawMessage) (Record, error) {
	var (
		rec Record
		err error
	)
	switch c {
	case CollectionBudgets:
		var v Budget
		err = json.Unmarshal(data, &v)
		rec = v
	case CollectionCategories:
		var v Category
		err = json.Unmarshal(data, &v)
		rec = v
	case CollectionTransactions:
		var v Transaction
		err = json.Unmarshal(data, &v)
		rec = v
	case CollectionReflections:
		var v Reflection
		err = json.Unmarshal(data, &v)
		rec = v
	case CollectionPaymentMethods:
		var v PaymentMethod
		err = json.Unmarshal(data, &v)
		rec = v
	default:
		return nil, fmt.Errorf("unknown collection: %q", c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", c, err)
	}
	return rec, nil
}

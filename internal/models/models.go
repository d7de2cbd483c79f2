// Package models provides data model definitions for the budget client.
package models

import "time"

// Collection is the symbolic name of a synced entity collection.
type Collection string

const (
	CollectionBudgets        Collection = "budgets"
	CollectionCategories     Collection = "categories"
	CollectionTransactions   Collection = "transactions"
	CollectionReflections    Collection = "reflections"
	CollectionPaymentMethods Collection = "paymentMethods"
)

// Collections lists every synced collection.
func Collections() []Collection {
	return []Collection{
		CollectionBudgets,
		CollectionCategories,
		CollectionTransactions,
		CollectionReflections,
		CollectionPaymentMethods,
	}
}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionBudgets, CollectionCategories, CollectionTransactions,
		CollectionReflections, CollectionPaymentMethods:
		return true
	}
	return false
}

// Record is implemented by every synced domain entity.
type Record interface {
	RecordID() string
	LastModified() time.Time
}

// ParseTimestamp parses an RFC3339 timestamp, returning the zero time
// for empty or unparseable input. Conflict resolution treats zero times
// as equal.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

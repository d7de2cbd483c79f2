package models

import "time"

// Budget is a monthly budget with a spending limit.
type Budget struct {
	ID         string  `json:"id"`
	UserID     string  `json:"userId"`
	Month      string  `json:"month" validate:"required"` // "YYYY-MM"
	TotalLimit float64 `json:"totalLimit" validate:"gte=0"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
}

func (b Budget) RecordID() string        { return b.ID }
func (b Budget) LastModified() time.Time { return ParseTimestamp(b.UpdatedAt) }

// Category is an expense category. UserID is empty for system categories.
type Category struct {
	ID           string   `json:"id"`
	UserID       string   `json:"userId,omitempty"`
	Name         string   `json:"name" validate:"required"`
	Icon         string   `json:"icon,omitempty"`
	Color        string   `json:"color,omitempty"`
	IsDefault    bool     `json:"isDefault"`
	DefaultLimit *float64 `json:"defaultLimit,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

func (c Category) RecordID() string        { return c.ID }
func (c Category) LastModified() time.Time { return ParseTimestamp(c.UpdatedAt) }

// Transaction is a single expense or income entry.
type Transaction struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	BudgetID        string  `json:"budgetId" validate:"required"`
	CategoryID      string  `json:"categoryId" validate:"required"`
	Amount          float64 `json:"amount" validate:"gt=0"`
	Description     string  `json:"description,omitempty"`
	TransactionDate string  `json:"transactionDate"`
	TransactionType string  `json:"transactionType" validate:"oneof=expense income"`
	PaymentMethodID string  `json:"paymentMethodId,omitempty"`
	Paid            bool    `json:"paid"`
	DueDate         string  `json:"dueDate,omitempty"`
	IsRecurring     bool    `json:"isRecurring"`
	Notes           string  `json:"notes,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

func (t Transaction) RecordID() string        { return t.ID }
func (t Transaction) LastModified() time.Time { return ParseTimestamp(t.UpdatedAt) }

// Reflection is a monthly budget reflection.
type Reflection struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	BudgetID      string `json:"budgetId" validate:"required"`
	Wins          string `json:"wins,omitempty"`
	DidMeetBudget bool   `json:"didMeetBudget"`
	Reasons       string `json:"reasons,omitempty"`
	Improvements  string `json:"improvements,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func (r Reflection) RecordID() string        { return r.ID }
func (r Reflection) LastModified() time.Time { return ParseTimestamp(r.UpdatedAt) }

// PaymentMethod is a card, cash, or other payment instrument.
type PaymentMethod struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name" validate:"required"`
	Type      string `json:"type" validate:"required"`
	IsDefault bool   `json:"isDefault"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (p PaymentMethod) RecordID() string        { return p.ID }
func (p PaymentMethod) LastModified() time.Time { return ParseTimestamp(p.UpdatedAt) }

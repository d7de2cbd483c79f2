// Package ledger is the write path for budgeting data. Every mutation
// persists the record and appends a sync operation in one transaction,
// so a crash can never leave a saved change that the server will not
// hear about.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/joselitz123/budget-planner/internal/dbx"
	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/models"
	"github.com/joselitz123/budget-planner/internal/store"
	"github.com/joselitz123/budget-planner/internal/sync/queue"
	"github.com/joselitz123/budget-planner/internal/uuid"
)

// Ledger owns local budgeting records and their outbound sync trail.
type Ledger struct {
	db       *sql.DB
	store    *store.Store
	queue    *queue.Queue
	validate *validator.Validate
}

// New creates a Ledger over the shared database handle.
func New(db *sql.DB, s *store.Store, q *queue.Queue) *Ledger {
	return &Ledger{
		db:       db,
		store:    s,
		queue:    q,
		validate: validator.New(),
	}
}

// now returns the canonical timestamp format stored on records.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// mutate persists a snapshot and enqueues the matching sync operation
// atomically.
func (l *Ledger) mutate(ctx context.Context, c models.Collection, id string, op models.Op, data json.RawMessage) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		switch op {
		case models.OpDelete:
			if err := l.store.WithTx(tx).Delete(ctx, c, id); err != nil {
				return err
			}
		default:
			if err := l.store.WithTx(tx).Put(ctx, c, id, data); err != nil {
				return err
			}
		}
		_, err := l.queue.EnqueueTx(ctx, tx, c, id, op, data)
		return err
	})
}

func (l *Ledger) create(ctx context.Context, c models.Collection, rec models.Record) error {
	if err := l.validate.Struct(rec); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid record", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode record", err)
	}
	return l.mutate(ctx, c, rec.RecordID(), models.OpCreate, data)
}

func (l *Ledger) update(ctx context.Context, c models.Collection, rec models.Record) error {
	if err := l.validate.Struct(rec); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid record", err)
	}
	if _, found, err := l.store.Get(ctx, c, rec.RecordID()); err != nil {
		return err
	} else if !found {
		return apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode record", err)
	}
	return l.mutate(ctx, c, rec.RecordID(), models.OpUpdate, data)
}

// delete removes a record locally and enqueues the deletion. The queued
// snapshot carries the record's last known state so the server can
// still identify it.
func (l *Ledger) delete(ctx context.Context, c models.Collection, id string) error {
	data, found, err := l.store.Get(ctx, c, id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	return l.mutate(ctx, c, id, models.OpDelete, data)
}

// stamp fills in the identity and timestamps of a new record.
func stamp(id, createdAt *string) {
	if *id == "" {
		*id = uuid.New()
	}
	*createdAt = now()
}

// CreateBudget saves a new monthly budget.
func (l *Ledger) CreateBudget(ctx context.Context, b *models.Budget) error {
	stamp(&b.ID, &b.CreatedAt)
	b.UpdatedAt = b.CreatedAt
	return l.create(ctx, models.CollectionBudgets, *b)
}

// UpdateBudget saves changes to an existing budget.
func (l *Ledger) UpdateBudget(ctx context.Context, b *models.Budget) error {
	b.UpdatedAt = now()
	return l.update(ctx, models.CollectionBudgets, *b)
}

// DeleteBudget removes a budget.
func (l *Ledger) DeleteBudget(ctx context.Context, id string) error {
	return l.delete(ctx, models.CollectionBudgets, id)
}

// GetBudget loads one budget by id.
func (l *Ledger) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	return getRecord[models.Budget](ctx, l, models.CollectionBudgets, id)
}

// BudgetForMonth returns the budget for a "YYYY-MM" month, or nil when
// none exists.
func (l *Ledger) BudgetForMonth(ctx context.Context, month string) (*models.Budget, error) {
	budgets, err := listByIndex[models.Budget](ctx, l, models.CollectionBudgets, "month", month)
	if err != nil {
		return nil, err
	}
	if len(budgets) == 0 {
		return nil, nil
	}
	return &budgets[0], nil
}

// ListBudgets returns all budgets.
func (l *Ledger) ListBudgets(ctx context.Context) ([]models.Budget, error) {
	return listAll[models.Budget](ctx, l, models.CollectionBudgets)
}

// CreateCategory saves a new expense category.
func (l *Ledger) CreateCategory(ctx context.Context, c *models.Category) error {
	stamp(&c.ID, &c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	return l.create(ctx, models.CollectionCategories, *c)
}

// UpdateCategory saves changes to an existing category.
func (l *Ledger) UpdateCategory(ctx context.Context, c *models.Category) error {
	c.UpdatedAt = now()
	return l.update(ctx, models.CollectionCategories, *c)
}

// DeleteCategory removes a category.
func (l *Ledger) DeleteCategory(ctx context.Context, id string) error {
	return l.delete(ctx, models.CollectionCategories, id)
}

// ListCategories returns all categories.
func (l *Ledger) ListCategories(ctx context.Context) ([]models.Category, error) {
	return listAll[models.Category](ctx, l, models.CollectionCategories)
}

// CreateTransaction saves a new expense or income entry.
func (l *Ledger) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	stamp(&t.ID, &t.CreatedAt)
	t.UpdatedAt = t.CreatedAt
	return l.create(ctx, models.CollectionTransactions, *t)
}

// UpdateTransaction saves changes to an existing transaction.
func (l *Ledger) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	t.UpdatedAt = now()
	return l.update(ctx, models.CollectionTransactions, *t)
}

// DeleteTransaction removes a transaction.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	return l.delete(ctx, models.CollectionTransactions, id)
}

// TransactionsForBudget returns all transactions booked against a budget.
func (l *Ledger) TransactionsForBudget(ctx context.Context, budgetID string) ([]models.Transaction, error) {
	return listByIndex[models.Transaction](ctx, l, models.CollectionTransactions, "budgetId", budgetID)
}

// TransactionsForCategory returns all transactions in a category.
func (l *Ledger) TransactionsForCategory(ctx context.Context, categoryID string) ([]models.Transaction, error) {
	return listByIndex[models.Transaction](ctx, l, models.CollectionTransactions, "categoryId", categoryID)
}

// CreateReflection saves a new monthly reflection.
func (l *Ledger) CreateReflection(ctx context.Context, r *models.Reflection) error {
	stamp(&r.ID, &r.CreatedAt)
	r.UpdatedAt = r.CreatedAt
	return l.create(ctx, models.CollectionReflections, *r)
}

// UpdateReflection saves changes to an existing reflection.
func (l *Ledger) UpdateReflection(ctx context.Context, r *models.Reflection) error {
	r.UpdatedAt = now()
	return l.update(ctx, models.CollectionReflections, *r)
}

// ReflectionForBudget returns the reflection for a budget, or nil when
// none has been written.
func (l *Ledger) ReflectionForBudget(ctx context.Context, budgetID string) (*models.Reflection, error) {
	reflections, err := listByIndex[models.Reflection](ctx, l, models.CollectionReflections, "budgetId", budgetID)
	if err != nil {
		return nil, err
	}
	if len(reflections) == 0 {
		return nil, nil
	}
	return &reflections[0], nil
}

// CreatePaymentMethod saves a new payment method.
func (l *Ledger) CreatePaymentMethod(ctx context.Context, p *models.PaymentMethod) error {
	stamp(&p.ID, &p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	return l.create(ctx, models.CollectionPaymentMethods, *p)
}

// UpdatePaymentMethod saves changes to an existing payment method.
func (l *Ledger) UpdatePaymentMethod(ctx context.Context, p *models.PaymentMethod) error {
	p.UpdatedAt = now()
	return l.update(ctx, models.CollectionPaymentMethods, *p)
}

// DeletePaymentMethod removes a payment method.
func (l *Ledger) DeletePaymentMethod(ctx context.Context, id string) error {
	return l.delete(ctx, models.CollectionPaymentMethods, id)
}

// ListPaymentMethods returns all payment methods.
func (l *Ledger) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	return listAll[models.PaymentMethod](ctx, l, models.CollectionPaymentMethods)
}

func getRecord[T any](ctx context.Context, l *Ledger, c models.Collection, id string) (*T, error) {
	data, found, err := l.store.Get(ctx, c, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode record", err)
	}
	return &rec, nil
}

func listAll[T any](ctx context.Context, l *Ledger, c models.Collection) ([]T, error) {
	raws, err := l.store.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](raws)
}

func listByIndex[T any](ctx context.Context, l *Ledger, c models.Collection, field, value string) ([]T, error) {
	raws, err := l.store.GetAllByIndex(ctx, c, field, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](raws)
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode record", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

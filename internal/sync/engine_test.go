package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joselitz123/budget-planner/internal/api"
	"github.com/joselitz123/budget-planner/internal/db"
	"github.com/joselitz123/budget-planner/internal/ledger"
	"github.com/joselitz123/budget-planner/internal/models"
	"github.com/joselitz123/budget-planner/internal/netx"
	"github.com/joselitz123/budget-planner/internal/notify"
	"github.com/joselitz123/budget-planner/internal/store"
	"github.com/joselitz123/budget-planner/internal/sync/queue"
	"github.com/joselitz123/budget-planner/internal/sync/retry"
)

type recordingNotifier struct {
	messages   []string
	severities []notify.Severity
}

func (r *recordingNotifier) Notify(message string, severity notify.Severity, duration time.Duration) {
	r.messages = append(r.messages, message)
	r.severities = append(r.severities, severity)
}

type fixture struct {
	engine   *Engine
	database *db.DB
	queue    *queue.Queue
	store    *store.Store
	monitor  *netx.Monitor
	notifier *recordingNotifier
	requests *atomic.Int64
}

// newFixture builds an engine against an httptest server driven by the
// given handler. The handler receives the decoded request body.
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(ctx))

	requests := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := &fixture{
		database: database,
		queue:    queue.New(database.DB, 100),
		store:    store.New(database.DB),
		monitor:  netx.NewMonitor(),
		notifier: &recordingNotifier{},
		requests: requests,
	}
	client := api.NewClient(srv.URL, api.StaticToken("test-token"), 5*time.Second)
	f.engine = NewEngine(f.queue, f.store, client, f.monitor, f.notifier)
	return f
}

func budgetJSON(id, updatedAt string, amount float64) json.RawMessage {
	b, _ := json.Marshal(map[string]interface{}{
		"id":        id,
		"name":      "Groceries",
		"amount":    amount,
		"updatedAt": updatedAt,
	})
	return b
}

func pushOK(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/push":
			var req api.PushRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := api.PushResponse{}
			for _, op := range req.Operations {
				resp.Successful = append(resp.Successful, op.ID)
			}
			json.NewEncoder(w).Encode(resp)
		case "/sync/pull":
			json.NewEncoder(w).Encode(api.PullResponse{LastSyncTime: time.Now().UTC().Format(time.RFC3339)})
		}
	}
}

func TestPushRemovesSuccessfulOperation(t *testing.T) {
	f := newFixture(t, pushOK(t))
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)

	result, err := f.engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Len(t, result.Successful, 1)

	size, err := f.queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Equal(t, StatusIdle, f.engine.Status())
	assert.False(t, f.engine.LastSync().IsZero())
}

func TestPushWithEmptyQueueMakesNoNetworkCall(t *testing.T) {
	f := newFixture(t, pushOK(t))

	result, err := f.engine.Push(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, f.requests.Load())
}

func TestPushBatchFailureArmsBackoff(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	op, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)

	before := time.Now()
	_, err = f.engine.Push(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusError, f.engine.Status())

	got, err := f.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.Error)

	// First retry is delayed at least BaseDelay from the attempt.
	next := time.UnixMilli(got.NextRetryAt)
	assert.True(t, next.After(before.Add(retry.BaseDelay-time.Millisecond)))
	assert.False(t, retry.Eligible(got, time.Now()))
}

func TestPushPerOperationRejection(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := api.PushResponse{
			Successful: []string{req.Operations[0].ID},
			Failed:     []api.OpError{{ID: req.Operations[1].ID, Error: "validation failed"}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)
	op2, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b2", models.OpCreate, budgetJSON("b2", "2026-01-01T00:00:00Z", 200))
	require.NoError(t, err)

	result, err := f.engine.Push(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Successful, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, op2.ID, result.Failed[0].ID)

	got, err := f.queue.Get(ctx, op2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "validation failed", got.Error)
}

func TestPushExhaustionIsTerminal(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := api.PushResponse{}
		for _, op := range req.Operations {
			resp.Failed = append(resp.Failed, api.OpError{ID: op.ID, Error: "server rejected"})
		}
		json.NewEncoder(w).Encode(resp)
	})
	ctx := context.Background()

	op, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)

	for i := 0; i < retry.MaxAttempts; i++ {
		// Rewind the backoff timer so every attempt is immediately eligible.
		got, err := f.queue.Get(ctx, op.ID)
		require.NoError(t, err)
		got.NextRetryAt = time.Now().Add(-time.Second).UnixMilli()
		require.NoError(t, f.queue.Update(ctx, got))

		_, err = f.engine.Push(ctx)
		require.NoError(t, err)
	}

	got, err := f.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, got.Status)
	assert.Equal(t, retry.MaxAttempts, got.RetryCount)

	// Terminal failure stays visible in the queue and triggered a
	// user-facing notification.
	size, err := f.queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	require.NotEmpty(t, f.notifier.messages)
	assert.Equal(t, notify.SeverityError, f.notifier.severities[len(f.notifier.severities)-1])

	// A terminal operation is never sent again.
	sent := f.requests.Load()
	_, err = f.engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent, f.requests.Load())
}

func TestPullInsertsUnknownRecords(t *testing.T) {
	remote := budgetJSON("b9", "2026-02-01T00:00:00Z", 400)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes:      map[models.Collection][]json.RawMessage{models.CollectionBudgets: {remote}},
			LastSyncTime: "2026-02-01T00:00:05Z",
		})
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Pull(ctx))

	data, found, err := f.store.Get(ctx, models.CollectionBudgets, "b9")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(remote), string(data))

	checkpoint, err := f.store.GetState(ctx, store.StateLastSync)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01T00:00:05Z", checkpoint)
}

func TestPullConflictServerNewerWins(t *testing.T) {
	remote := budgetJSON("b1", "2026-02-02T00:00:00Z", 999)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes: map[models.Collection][]json.RawMessage{models.CollectionBudgets: {remote}},
		})
	})
	ctx := context.Background()

	local := budgetJSON("b1", "2026-02-01T00:00:00Z", 100)
	require.NoError(t, f.store.Put(ctx, models.CollectionBudgets, "b1", local))

	require.NoError(t, f.engine.Pull(ctx))

	data, _, err := f.store.Get(ctx, models.CollectionBudgets, "b1")
	require.NoError(t, err)
	assert.JSONEq(t, string(remote), string(data))
}

func TestPullConflictLocalNewerKept(t *testing.T) {
	remote := budgetJSON("b1", "2026-02-01T00:00:00Z", 999)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes: map[models.Collection][]json.RawMessage{models.CollectionBudgets: {remote}},
		})
	})
	ctx := context.Background()

	local := budgetJSON("b1", "2026-02-02T00:00:00Z", 100)
	require.NoError(t, f.store.Put(ctx, models.CollectionBudgets, "b1", local))

	require.NoError(t, f.engine.Pull(ctx))

	data, _, err := f.store.Get(ctx, models.CollectionBudgets, "b1")
	require.NoError(t, err)
	assert.JSONEq(t, string(local), string(data))
}

func TestPullPaginatesUntilDone(t *testing.T) {
	var page atomic.Int64
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		n := page.Add(1)
		if n == 1 {
			json.NewEncoder(w).Encode(api.PullResponse{
				Changes:      map[models.Collection][]json.RawMessage{models.CollectionBudgets: {budgetJSON("b1", "2026-02-01T00:00:00Z", 1)}},
				LastSyncTime: "2026-02-01T00:00:00Z",
				HasMore:      true,
			})
			return
		}
		var req api.PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2026-02-01T00:00:00Z", req.LastSync)
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes:      map[models.Collection][]json.RawMessage{models.CollectionBudgets: {budgetJSON("b2", "2026-02-02T00:00:00Z", 2)}},
			LastSyncTime: "2026-02-02T00:00:00Z",
		})
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Pull(ctx))
	assert.EqualValues(t, 2, page.Load())

	for _, id := range []string{"b1", "b2"} {
		_, found, err := f.store.Get(ctx, models.CollectionBudgets, id)
		require.NoError(t, err)
		assert.True(t, found, id)
	}
}

func TestPullOfflineShortCircuits(t *testing.T) {
	f := newFixture(t, pushOK(t))
	f.monitor.Set(false)

	err := f.engine.Pull(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.requests.Load())
}

func TestSyncSwallowsPullFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sync/pull" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(api.PushResponse{})
	})
	ctx := context.Background()

	_, err := f.engine.Sync(ctx)
	require.NoError(t, err)

	// Nothing was pushed and the pull leg failed, so the indicator
	// reports the partial cycle and the timestamp is untouched.
	assert.Equal(t, StatusError, f.engine.Status())
	assert.True(t, f.engine.LastSync().IsZero())

	// The pull failure was surfaced to the user.
	require.NotEmpty(t, f.notifier.messages)
	assert.Equal(t, notify.SeverityWarning, f.notifier.severities[0])
}

func TestCreateTransactionSyncsEndToEnd(t *testing.T) {
	var received atomic.Int64
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/push":
			var req api.PushRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := api.PushResponse{}
			for _, op := range req.Operations {
				received.Add(1)
				assert.Equal(t, models.OpCreate, op.Op)
				resp.Successful = append(resp.Successful, op.ID)
			}
			json.NewEncoder(w).Encode(resp)
		case "/sync/pull":
			json.NewEncoder(w).Encode(api.PullResponse{})
		}
	})
	ctx := context.Background()

	l := ledger.New(f.database.DB, f.store, f.queue)

	b := &models.Budget{UserID: "u1", Month: "2026-09", TotalLimit: 2000}
	require.NoError(t, l.CreateBudget(ctx, b))

	tx := &models.Transaction{
		UserID:          "u1",
		BudgetID:        b.ID,
		CategoryID:      "cat-groceries",
		Amount:          54.20,
		TransactionDate: "2026-09-01",
		TransactionType: "expense",
	}
	require.NoError(t, l.CreateTransaction(ctx, tx))

	_, err := f.engine.Sync(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, received.Load())
	size, err := f.queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	// The transaction survived the round trip in the local store.
	got, err := l.TransactionsForBudget(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 54.20, got[0].Amount)
}

func TestTransientFailureNotifiesWillRetry(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := api.PushResponse{}
		for _, op := range req.Operations {
			resp.Failed = append(resp.Failed, api.OpError{ID: op.ID, Error: "temporarily unavailable"})
		}
		json.NewEncoder(w).Encode(resp)
	})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)

	_, err = f.engine.Push(ctx)
	require.NoError(t, err)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "retry")
	assert.Equal(t, notify.SeverityWarning, f.notifier.severities[0])
}

func TestPushWithRejectionsLeavesLastSyncUntouched(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := api.PushResponse{
			Failed: []api.OpError{{ID: req.Operations[0].ID, Error: "validation failed"}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.CollectionBudgets, "b1", models.OpCreate, budgetJSON("b1", "2026-01-01T00:00:00Z", 100))
	require.NoError(t, err)

	_, err = f.engine.Push(ctx)
	require.NoError(t, err)
	assert.True(t, f.engine.LastSync().IsZero())
}

func TestPullStopsWhenCheckpointStalls(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes: map[models.Collection][]json.RawMessage{models.CollectionBudgets: {budgetJSON("b1", "2026-02-01T00:00:00Z", 1)}},
			HasMore: true,
		})
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Pull(ctx))
	assert.EqualValues(t, 1, f.requests.Load())

	// The page that did arrive was still applied.
	_, found, err := f.store.Get(ctx, models.CollectionBudgets, "b1")
	require.NoError(t, err)
	assert.True(t, found)
}

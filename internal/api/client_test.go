package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/joselitz123/budget-planner/internal/errors"
	"github.com/joselitz123/budget-planner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushSendsBatchWithAuth(t *testing.T) {
	var gotAuth string
	var gotBody PushRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sync/push", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(PushResponse{
			Successful: []string{"op-1"},
			Failed:     []OpError{{ID: "op-2", Error: "validation"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("secret"), 5*time.Second)
	ops := []*models.SyncOperation{
		{ID: "op-1", Table: models.CollectionTransactions, RecordID: "tx-1", Op: models.OpCreate, Data: json.RawMessage(`{"amount":100}`)},
		{ID: "op-2", Table: models.CollectionBudgets, RecordID: "b-1", Op: models.OpUpdate, Data: json.RawMessage(`{}`)},
	}

	resp, err := client.Push(context.Background(), ops)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotBody.Operations, 2)
	assert.Equal(t, "op-1", gotBody.Operations[0].ID)
	assert.Equal(t, []string{"op-1"}, resp.Successful)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "validation", resp.Failed[0].Error)
}

func TestPullSendsCheckpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/pull", r.URL.Path)

		var req PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2025-01-01T00:00:00Z", req.LastSync)

		json.NewEncoder(w).Encode(PullResponse{
			Changes: map[models.Collection][]json.RawMessage{
				models.CollectionBudgets: {json.RawMessage(`{"id":"b1","updatedAt":"2025-01-02T00:00:00Z"}`)},
			},
			LastSyncTime: "2025-01-02T00:00:00Z",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("secret"), 5*time.Second)
	resp, err := client.Pull(context.Background(), "2025-01-01T00:00:00Z")
	require.NoError(t, err)

	assert.Equal(t, "2025-01-02T00:00:00Z", resp.LastSyncTime)
	assert.False(t, resp.HasMore)
	assert.Len(t, resp.Changes[models.CollectionBudgets], 1)
}

func TestNon2xxIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("secret"), 5*time.Second)
	_, err := client.Push(context.Background(), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestUnauthorizedIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("stale"), 5*time.Second)
	_, err := client.Pull(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestConnectionRefusedIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // gone before the call

	client := NewClient(srv.URL, StaticToken("secret"), time.Second)
	_, err := client.Push(context.Background(), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}

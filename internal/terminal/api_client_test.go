package terminal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"floor-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_ReadsSendStaffHeaderAndQuery(t *testing.T) {
	var gotStaff, gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStaff = r.Header.Get("X-Staff-ID")
		gotStatus = r.URL.Query().Get("status")
		assert.Equal(t, "/api/v1/restaurants/3/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]models.Order{{ID: 1, Status: models.OrderStatusPending}})
	}))
	defer srv.Close()

	orders, err := NewAPIClient(srv.URL, 42).ListOrders(context.Background(), 3,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusReady})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, "42", gotStaff)
	assert.Equal(t, "pending,ready", gotStatus)
}

func TestAPIClient_RejectionIsNotRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid transition", "details": "ready -> pending"})
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, 1).UpdateOrderStatus(context.Background(), 7, models.OrderStatusPending)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Rejected())
	assert.Equal(t, "Invalid transition", apiErr.Message)
	assert.Equal(t, "ready -> pending", apiErr.Details)
	assert.NotErrorIs(t, err, ErrRecoverable)
}

func TestAPIClient_ServerFailureIsRecoverable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, 1).AcknowledgeCall(context.Background(), 4)
	assert.ErrorIs(t, err, ErrRecoverable)
	assert.Equal(t, 1, calls)
}

func TestAPIClient_TransportFailureIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAPIClient(url, 1).FreeTable(context.Background(), 5)
	assert.ErrorIs(t, err, ErrRecoverable)
}

func TestAPIClient_FreeTableDecodesTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tables/5/free", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"table":   models.Table{ID: 5, Status: models.TableStatusFree},
			"session": models.TableSession{TableID: 5},
		})
	}))
	defer srv.Close()

	table, err := NewAPIClient(srv.URL, 1).FreeTable(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusFree, table.Status)
}

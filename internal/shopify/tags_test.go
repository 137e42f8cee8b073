package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/42.json", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer":{"id":42,"email":"a@example.com","tags":"vip, wholesale"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	cust, err := client.GetCustomer(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, int64(42), cust.ID)
	assert.Equal(t, "a@example.com", cust.Email)
	assert.Equal(t, []string{"vip", "wholesale"}, cust.Tags)
}

func TestUpdateCustomerTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/customers/42.json", r.URL.Path)

		var req updateCustomerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.Customer.ID)
		assert.Equal(t, "vip, new", req.Customer.Tags)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer":{"id":42}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.UpdateCustomerTags(context.Background(), "42", []string{"vip", "new"})
	require.NoError(t, err)
}

func TestUpdateCustomerTags_InvalidID(t *testing.T) {
	client := newTestClient(t, "http://unused")
	err := client.UpdateCustomerTags(context.Background(), "not-a-number", []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid customer ID")
}

func TestBatchUpdateTags_AllSucceed(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = true
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer":{}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	updates := []TagUpdate{
		{CustomerID: 1, Tags: []string{"a"}},
		{CustomerID: 2, Tags: []string{"b"}},
		{CustomerID: 3, Tags: []string{"c"}},
	}

	require.NoError(t, client.BatchUpdateTags(context.Background(), updates))

	assert.True(t, seen["/customers/1.json"])
	assert.True(t, seen["/customers/2.json"])
	assert.True(t, seen["/customers/3.json"])
}

func TestBatchUpdateTags_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/customers/2.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer":{}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	updates := []TagUpdate{
		{CustomerID: 1, Tags: []string{"a"}},
		{CustomerID: 2, Tags: []string{"b"}},
		{CustomerID: 3, Tags: []string{"c"}},
	}

	err := client.BatchUpdateTags(context.Background(), updates)
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	assert.ErrorIs(t, batchErr.Failures[2], ErrNotFound)
}

func TestBatchUpdateTags_Empty(t *testing.T) {
	client := newTestClient(t, "http://unused")
	require.NoError(t, client.BatchUpdateTags(context.Background(), nil))
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", []string{}},
		{"single", "vip", []string{"vip"}},
		{"spaces trimmed", " vip , wholesale ", []string{"vip", "wholesale"}},
		{"empty entries dropped", "vip,,wholesale,", []string{"vip", "wholesale"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitTags(tt.raw))
		})
	}
}

func TestJoinTags(t *testing.T) {
	assert.Equal(t, "vip, wholesale", JoinTags([]string{"vip", "wholesale"}))
	assert.Equal(t, "", JoinTags(nil))
}

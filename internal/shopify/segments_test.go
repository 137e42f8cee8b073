package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customer_saved_searches.json", r.URL.Path)
		assert.Equal(t, "250", r.URL.Query().Get("limit"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer_saved_searches":[
			{"id":1,"name":"VIPs","query":"tag:vip","created_at":"2024-01-15T10:00:00Z","updated_at":"2024-02-01T09:30:00Z"},
			{"id":2,"name":"Big spenders","query":" total_spent:>500 ","created_at":"2024-01-20T08:00:00Z","updated_at":"2024-01-20T08:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	segments, err := client.ListSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, int64(1), segments[0].ID)
	assert.Equal(t, "VIPs", segments[0].Name)
	assert.Equal(t, "tag:vip", segments[0].FilterQuery)
	assert.Equal(t, 2024, segments[0].CreatedAt.Year())

	// Query whitespace is trimmed during normalization.
	assert.Equal(t, "total_spent:>500", segments[1].FilterQuery)
}

func TestListSegments_BadTimestampReplaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customer_saved_searches":[
			{"id":1,"name":"Broken","query":"tag:x","created_at":"not-a-date","updated_at":"3000-01-01T00:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	segments, err := client.ListSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 1)

	// Both timestamps fall back to now.
	assert.LessOrEqual(t, segments[0].CreatedAt.Year(), maxValidYear)
	assert.LessOrEqual(t, segments[0].UpdatedAt.Year(), maxValidYear)
}

func TestListSegmentMemberIDs_Paginates(t *testing.T) {
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/customers/search.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_info") == "cursor2" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"customers":[{"id":300},{"id":400}]}`))
			return
		}

		assert.Equal(t, "tag:'vip'", r.URL.Query().Get("query"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/customers/search.json?page_info=cursor2&limit=250>; rel="next"`, srvURL))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customers":[{"id":100},{"id":200}]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	client := newTestClient(t, srv.URL)
	seg := Segment{ID: 1, Name: "VIPs", FilterQuery: "tag:vip"}

	ids, err := client.ListSegmentMemberIDs(context.Background(), seg, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "300", "400"}, ids)
}

func TestListSegmentMemberIDs_StopsAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Link", `<http://example.invalid/next>; rel="next"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"customers":[{"id":1},{"id":2},{"id":3}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	seg := Segment{ID: 1, FilterQuery: "tag:vip"}

	ids, err := client.ListSegmentMemberIDs(context.Background(), seg, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestListSegmentMemberIDs_Unmonitorable(t *testing.T) {
	client := newTestClient(t, "http://unused")
	seg := Segment{ID: 7, Name: "Weird", FilterQuery: "shopify_plus:true"}

	_, err := client.ListSegmentMemberIDs(context.Background(), seg, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnmonitorable)
	assert.Contains(t, err.Error(), "segment 7")
}

func TestNextPagePath(t *testing.T) {
	client := newTestClient(t, "https://shop.myshopify.com/admin/api/2024-01")

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty header", "", ""},
		{"no next rel", `<https://x/prev>; rel="previous"`, ""},
		{
			"next with base path stripped",
			`<https://shop.myshopify.com/admin/api/2024-01/customers/search.json?page_info=abc&limit=250>; rel="next"`,
			"/customers/search.json?page_info=abc&limit=250",
		},
		{
			"previous and next",
			`<https://x/a?page_info=p>; rel="previous", <https://shop.myshopify.com/admin/api/2024-01/customers/search.json?page_info=n>; rel="next"`,
			"/customers/search.json?page_info=n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.nextPagePath(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

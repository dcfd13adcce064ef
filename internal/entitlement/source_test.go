package entitlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribersServer(t *testing.T, body string, status int) (*httptest.Server, *string) {
	t.Helper()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/subscribers" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &query
}

func TestSupabaseSource_IsEntitled(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"active no end", `[{"subscribed": true, "subscription_end": null}]`, true},
		{"active future end", `[{"subscribed": true, "subscription_end": "2025-04-01T00:00:00Z"}]`, true},
		{"lapsed", `[{"subscribed": true, "subscription_end": "2025-03-01T00:00:00Z"}]`, false},
		{"unsubscribed", `[{"subscribed": false, "subscription_end": null}]`, false},
		{"no row", `[]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, query := subscribersServer(t, tt.body, http.StatusOK)
			s, err := NewSupabaseSource(srv.URL, "anon-key")
			require.NoError(t, err)
			s.now = func() time.Time { return now }

			got, err := s.IsEntitled(context.Background(), "user-42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, *query, "user_id=eq.user-42")
		})
	}
}

func TestSupabaseSource_Errors(t *testing.T) {
	_, err := NewSupabaseSource("", "key")
	assert.Error(t, err)

	srv, _ := subscribersServer(t, `not json`, http.StatusOK)
	s, err := NewSupabaseSource(srv.URL, "anon-key")
	require.NoError(t, err)
	_, err = s.IsEntitled(context.Background(), "user-42")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.IsEntitled(ctx, "user-42")
	assert.ErrorIs(t, err, context.Canceled)
}

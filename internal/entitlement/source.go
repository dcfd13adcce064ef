// Package entitlement decides whether a viewer may use the offline cache.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"
)

// Source answers whether a viewer currently holds an active subscription.
type Source interface {
	IsEntitled(ctx context.Context, viewerID string) (bool, error)
}

// StaticSource entitles a fixed set of viewers. The id "*" entitles every non-anonymous viewer.
type StaticSource struct {
	ids map[string]struct{}
}

func NewStaticSource(ids ...string) *StaticSource {
	s := &StaticSource{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

func (s *StaticSource) IsEntitled(_ context.Context, viewerID string) (bool, error) {
	if _, ok := s.ids["*"]; ok {
		return true, nil
	}
	_, ok := s.ids[viewerID]
	return ok, nil
}

const subscribersTable = "subscribers"

// SupabaseSource reads the subscribers table through PostgREST.
type SupabaseSource struct {
	client *supabase.Client
	now    func() time.Time
}

// NewSupabaseSource connects to the project at url with an API key.
func NewSupabaseSource(url, key string) (*SupabaseSource, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	c, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseSource{client: c, now: time.Now}, nil
}

type subscriberRow struct {
	Subscribed      bool       `json:"subscribed"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
}

// IsEntitled is true when the viewer has a row with subscribed set and no past subscription_end.
// The PostgREST client has no context support; ctx is checked before the call only.
func (s *SupabaseSource) IsEntitled(ctx context.Context, viewerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, _, err := s.client.From(subscribersTable).
		Select("subscribed,subscription_end", "", false).
		Eq("user_id", viewerID).
		Execute()
	if err != nil {
		return false, fmt.Errorf("query %s: %w", subscribersTable, err)
	}
	var rows []subscriberRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, fmt.Errorf("decode %s: %w", subscribersTable, err)
	}
	now := s.now()
	for _, r := range rows {
		if r.Subscribed && (r.SubscriptionEnd == nil || r.SubscriptionEnd.After(now)) {
			return true, nil
		}
	}
	return false, nil
}

package main

import (
	"path/filepath"
	"testing"

	"github.com/kjstillabower/rainz/internal/config"
	"github.com/kjstillabower/rainz/internal/entitlement"
	"github.com/kjstillabower/rainz/internal/offline"
)

func TestNewOfflineStore(t *testing.T) {
	tests := []struct {
		backend string
		check   func(offline.Store) bool
	}{
		{config.BackendMemory, func(s offline.Store) bool { _, ok := s.(*offline.MemoryStore); return ok }},
		{config.BackendSQLite, func(s offline.Store) bool { _, ok := s.(*offline.SQLiteStore); return ok }},
		{config.BackendMemcached, func(s offline.Store) bool { _, ok := s.(*offline.MemcachedStore); return ok }},
	}
	for _, tc := range tests {
		cfg := &config.Config{
			OfflineBackend: tc.backend,
			SQLitePath:     filepath.Join(t.TempDir(), "offline.db"),
			MemcachedAddrs: "localhost:11211",
		}
		if s := newOfflineStore(cfg); !tc.check(s) {
			t.Errorf("newOfflineStore(%q) = %T", tc.backend, s)
		}
	}
}

func TestNewEntitlementSource(t *testing.T) {
	src, err := newEntitlementSource(&config.Config{
		EntitlementSource: config.EntitlementStatic,
		EntitledViewers:   []string{"a"},
	})
	if err != nil {
		t.Fatalf("static source: %v", err)
	}
	if _, ok := src.(*entitlement.StaticSource); !ok {
		t.Fatalf("source = %T, want *StaticSource", src)
	}
	if ok, _ := src.IsEntitled(t.Context(), "a"); !ok {
		t.Error("viewer a not entitled")
	}

	if _, err := newEntitlementSource(&config.Config{EntitlementSource: config.EntitlementSupabase}); err == nil {
		t.Error("supabase source without url and key: want error")
	}
}

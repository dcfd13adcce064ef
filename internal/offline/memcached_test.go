package offline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemcachedStore_ExpirationClamp(t *testing.T) {
	assert.Equal(t, int32(21600), NewMemcachedStore("", 0, 0, 6*time.Hour).expiration())
	assert.Equal(t, int32(0), NewMemcachedStore("", 0, 0, 0).expiration())
	assert.Equal(t, int32(0), NewMemcachedStore("", 0, 0, 31*24*time.Hour).expiration())
}

func TestParseAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, parseAddrs(" a:1, ,b:2 "))
	assert.Nil(t, parseAddrs(""))
}

func TestIndexStats_SkipsServerExpiredEntries(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	s := NewMemcachedStore("", 0, 0, 6*time.Hour)
	s.now = func() time.Time { return now }
	idx := map[string]int64{
		"old":      now.Add(-7 * time.Hour).UnixMilli(),
		"boundary": now.Add(-6 * time.Hour).UnixMilli(),
		"mid":      now.Add(-5 * time.Hour).UnixMilli(),
		"new":      now.Add(-time.Hour).UnixMilli(),
	}

	cutoff, expire := s.expiredCutoff()
	assert.True(t, expire)
	st := indexStats(idx, cutoff, expire)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, idx["mid"], *st.OldestTimestamp)
	assert.Equal(t, idx["new"], *st.NewestTimestamp)

	pruneIndex(idx, cutoff)
	assert.Len(t, idx, 2)
	assert.Contains(t, idx, "mid")
	assert.Contains(t, idx, "new")
}

func TestIndexStats_NoExpiry(t *testing.T) {
	s := NewMemcachedStore("", 0, 0, 0)
	_, expire := s.expiredCutoff()
	assert.False(t, expire)

	st := indexStats(map[string]int64{"a": 1, "b": 5}, 0, expire)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, int64(1), *st.OldestTimestamp)

	empty := indexStats(map[string]int64{}, 0, false)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.OldestTimestamp)
	assert.Nil(t, empty.NewestTimestamp)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryoha000/proctail/pkg/kevent"
)

func evt(path string, ts time.Time) kevent.Event {
	return kevent.Event{Timestamp: ts, Variant: kevent.VariantFile, FilePath: path}
}

func TestStoreInsertionOrderUnderCap(t *testing.T) {
	s := New(10)
	base := time.Now()
	for i, p := range []string{"a", "b", "c"} {
		s.Store("tag", evt(p, base.Add(time.Duration(i)*time.Millisecond)))
	}
	got := s.Get("tag")
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].FilePath)
	assert.Equal(t, "b", got[1].FilePath)
	assert.Equal(t, "c", got[2].FilePath)
}

func TestStoreEvictsOldestOnOverflow(t *testing.T) {
	s := New(3)
	base := time.Now()
	for i, p := range []string{"f1", "f2", "f3", "f4"} {
		s.Store("q", evt(p, base.Add(time.Duration(i)*time.Millisecond)))
	}
	got := s.Get("q")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"f2", "f3", "f4"}, []string{got[0].FilePath, got[1].FilePath, got[2].FilePath})
}

func TestStoreGetLatestReverseChronological(t *testing.T) {
	s := New(10)
	base := time.Now()
	for i, p := range []string{"a", "b", "c"} {
		s.Store("tag", evt(p, base.Add(time.Duration(i)*time.Millisecond)))
	}
	latest := s.GetLatest("tag", 2)
	require.Len(t, latest, 2)
	assert.Equal(t, "c", latest[0].FilePath)
	assert.Equal(t, "b", latest[1].FilePath)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	s := New(10)
	s.Store("tag", evt("a", time.Now()))
	s.Clear("tag")
	assert.Empty(t, s.Get("tag"))
	s.Clear("tag") // idempotent
	assert.Empty(t, s.Get("tag"))
}

func TestStoreTimeRange(t *testing.T) {
	s := New(10)
	base := time.Now()
	for i, p := range []string{"a", "b", "c"} {
		s.Store("tag", evt(p, base.Add(time.Duration(i)*time.Second)))
	}
	got := s.GetTimeRange("tag", base.Add(500*time.Millisecond), base.Add(2500*time.Millisecond))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].FilePath)
	assert.Equal(t, "c", got[1].FilePath)
}

func TestStoreStats(t *testing.T) {
	s := New(10)
	s.Store("a", evt("x", time.Now()))
	s.Store("a", evt("y", time.Now()))
	s.Store("b", evt("z", time.Now()))
	stats := s.Stats()
	assert.Equal(t, 2, stats.TagCount)
	assert.Equal(t, 3, stats.EventCount)
	assert.Equal(t, 2, stats.PerTagCounts["a"])
	assert.Equal(t, 1, stats.PerTagCounts["b"])
	assert.NotEmpty(t, stats.EstimatedHuman)
}

func TestReapEvictsOldEvents(t *testing.T) {
	s := New(10)
	s.SetRetention(time.Hour)
	s.Store("tag", evt("old", time.Now().Add(-2*time.Hour)))
	s.Store("tag", evt("new", time.Now()))
	s.reapOnce()
	got := s.Get("tag")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].FilePath)
}

func TestReapReclaimsEmptyBucket(t *testing.T) {
	s := New(10)
	s.SetRetention(time.Hour)
	s.Store("tag", evt("old", time.Now().Add(-2*time.Hour)))
	s.reapOnce()
	assert.NotContains(t, s.Tags(), "tag")
}

// Package store implements the Event Store: per-tag bounded FIFO queues
// of normalized events, with one lock per tag bucket so writes to
// different tags never contend (spec.md §4.4/§5).
//
// The ring is backed by github.com/gammazero/deque.Deque, which gives
// O(1) push-back and pop-front — exactly the two operations the FIFO
// eviction policy needs — rather than the slice-shuffling a hand-rolled
// ring buffer would require.
package store

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gammazero/deque"
	"golang.org/x/time/rate"

	"github.com/ryoha000/proctail/pkg/kevent"
)

// DefaultMaxEventsPerTag is the per-tag ring cap used when the
// configuration does not override it.
const DefaultMaxEventsPerTag = 10000

// DefaultRetention is the reaper horizon used when the configuration does
// not override it.
const DefaultRetention = 24 * time.Hour

// DefaultReapInterval is the reaper cadence used when the configuration
// does not override it.
const DefaultReapInterval = 5 * time.Minute

// bytesPerEventEstimate is the coarse constant-per-event size used for
// Stats' memory estimate. It doesn't need to be exact: spec.md §4.4 says
// the daemon never relies on it for decisions.
const bytesPerEventEstimate = 256

type bucket struct {
	mu     sync.Mutex
	events deque.Deque
}

// Store is the Event Store of spec.md §4.4.
type Store struct {
	maxPerTag int
	retention time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket

	overflowLimiter *rate.Limiter
	onOverflow      func(tag string) // test/diagnostic hook, may be nil

	quit chan struct{}
	wg   sync.WaitGroup
}

// Stats is the composite snapshot returned by the GetStatus/stats
// operation.
type Stats struct {
	TagCount      int
	EventCount    int
	PerTagCounts  map[string]int
	EstimatedSize uint64
	EstimatedHuman string
}

// New constructs an Event Store. maxPerTag <= 0 selects
// DefaultMaxEventsPerTag.
func New(maxPerTag int) *Store {
	if maxPerTag <= 0 {
		maxPerTag = DefaultMaxEventsPerTag
	}
	return &Store{
		maxPerTag:       maxPerTag,
		retention:       DefaultRetention,
		buckets:         make(map[string]*bucket),
		overflowLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		quit:            make(chan struct{}),
	}
}

// SetRetention overrides the reaper's retention horizon; must be called
// before StartReaper.
func (s *Store) SetRetention(d time.Duration) { s.retention = d }

// SetOverflowHook installs a callback invoked (best-effort, rate-limited)
// whenever a tag's ring overflows. Intended for tests and diagnostics; nil
// disables it.
func (s *Store) SetOverflowHook(f func(tag string)) { s.onOverflow = f }

func (s *Store) bucketFor(tag string) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[tag]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[tag]; ok {
		return b
	}
	b = &bucket{}
	s.buckets[tag] = b
	return b
}

// Store appends event to tag's ring, evicting the oldest entries until
// the count is within the configured maximum.
func (s *Store) Store(tag string, event kevent.Event) {
	b := s.bucketFor(tag)
	b.mu.Lock()
	b.events.PushBack(event)
	overflowed := false
	for b.events.Len() > s.maxPerTag {
		b.events.PopFront()
		overflowed = true
	}
	b.mu.Unlock()

	if overflowed && s.onOverflow != nil && s.overflowLimiter.Allow() {
		s.onOverflow(tag)
	}
}

// Get returns a snapshot of tag's queue in insertion order.
func (s *Store) Get(tag string) []kevent.Event {
	b := s.bucketForReadOnly(tag)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]kevent.Event, b.events.Len())
	for i := 0; i < b.events.Len(); i++ {
		out[i] = b.events.At(i).(kevent.Event)
	}
	return out
}

// GetLatest returns up to n of tag's most recent events, newest first.
func (s *Store) GetLatest(tag string, n int) []kevent.Event {
	b := s.bucketForReadOnly(tag)
	if b == nil || n <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.events.Len()
	if n > total {
		n = total
	}
	out := make([]kevent.Event, n)
	for i := 0; i < n; i++ {
		out[i] = b.events.At(total - 1 - i).(kevent.Event)
	}
	return out
}

// GetTimeRange returns tag's events with from <= Timestamp <= to, in
// insertion order.
func (s *Store) GetTimeRange(tag string, from, to time.Time) []kevent.Event {
	b := s.bucketForReadOnly(tag)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []kevent.Event
	for i := 0; i < b.events.Len(); i++ {
		e := b.events.At(i).(kevent.Event)
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) bucketForReadOnly(tag string) *bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[tag]
}

// Clear removes tag's queue and count atomically. Idempotent: clearing an
// already-empty or never-seen tag is a no-op.
func (s *Store) Clear(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, tag)
}

// Tags returns a snapshot of every tag currently holding events.
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buckets))
	for tag := range s.buckets {
		out = append(out, tag)
	}
	return out
}

// Stats returns the composite statistics snapshot of spec.md §4.4.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	tags := make([]string, 0, len(s.buckets))
	bs := make([]*bucket, 0, len(s.buckets))
	for tag, b := range s.buckets {
		tags = append(tags, tag)
		bs = append(bs, b)
	}
	s.mu.RUnlock()

	perTag := make(map[string]int, len(tags))
	total := 0
	for i, tag := range tags {
		bs[i].mu.Lock()
		n := bs[i].events.Len()
		bs[i].mu.Unlock()
		perTag[tag] = n
		total += n
	}
	size := uint64(total) * bytesPerEventEstimate
	return Stats{
		TagCount:       len(tags),
		EventCount:     total,
		PerTagCounts:   perTag,
		EstimatedSize:  size,
		EstimatedHuman: humanize.Bytes(size),
	}
}

// StartReaper launches the background goroutine that evicts events older
// than the configured retention, walking tags one at a time so a single
// step never holds more than one tag's lock (spec.md §4.4).
func (s *Store) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.reapOnce()
			case <-s.quit:
				return
			}
		}
	}()
}

func (s *Store) reapOnce() {
	horizon := time.Now().Add(-s.retention)
	s.mu.RLock()
	tags := make([]string, 0, len(s.buckets))
	for tag := range s.buckets {
		tags = append(tags, tag)
	}
	s.mu.RUnlock()

	for _, tag := range tags {
		s.reapTag(tag, horizon)
	}
}

func (s *Store) reapTag(tag string, horizon time.Time) {
	b := s.bucketForReadOnly(tag)
	if b == nil {
		return
	}
	b.mu.Lock()
	for b.events.Len() > 0 {
		oldest := b.events.Front().(kevent.Event)
		if !oldest.Timestamp.Before(horizon) {
			break
		}
		b.events.PopFront()
	}
	empty := b.events.Len() == 0
	b.mu.Unlock()

	if empty {
		s.mu.Lock()
		if cur, ok := s.buckets[tag]; ok && cur == b {
			cur.mu.Lock()
			stillEmpty := cur.events.Len() == 0
			cur.mu.Unlock()
			if stillEmpty {
				delete(s.buckets, tag)
			}
		}
		s.mu.Unlock()
	}
}

// Close stops the reaper goroutine, if running.
func (s *Store) Close() error {
	close(s.quit)
	s.wg.Wait()
	return nil
}

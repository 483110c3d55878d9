package ps

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// detailCacheSize bounds the best-effort image-lookup cache so that a
// daemon watching many short-lived processes doesn't grow it unbounded.
const detailCacheSize = 4096

// ImageResolver performs the best-effort, possibly expensive process
// introspection behind Detail's extra fields. It is supplied by the
// platform-specific file in this package (detail_windows.go on Windows,
// detail_stub.go elsewhere) so Registry itself stays platform-neutral.
type ImageResolver interface {
	Resolve(pid uint32) Detail
}

// Registry is the Watch Target Registry of spec.md §4.2: the
// authoritative {process id -> tag} map, plus the tag -> pid-set index
// that is always exactly derivable from it.
type Registry struct {
	mu        sync.RWMutex
	byPID     map[uint32]Target
	byTag     map[string]map[uint32]struct{}
	resolver  ImageResolver
	detailLRU *lru.Cache
}

// NewRegistry constructs an empty registry. resolver may be nil, in
// which case ListDetailed falls back to the bare Target fields.
func NewRegistry(resolver ImageResolver) *Registry {
	return &Registry{
		byPID:     make(map[uint32]Target),
		byTag:     make(map[string]map[uint32]struct{}),
		resolver:  resolver,
		detailLRU: lru.New(detailCacheSize),
	}
}

// Add registers pid under tag. Returns true if newly inserted, false if
// pid was already present (pre-existing registrations are never
// overwritten per spec.md §4.2).
func (r *Registry) Add(pid uint32, tag string) bool {
	if pid == 0 || tag == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPID[pid]; ok {
		return false
	}
	r.insertLocked(Target{
		ProcessID:    pid,
		TagName:      tag,
		RegisteredAt: now(),
	})
	return true
}

// AddChild registers childPID under the tag of parentPID, marking it as
// an automatically-inherited child target. Returns false if the parent
// isn't registered or the child is already present.
func (r *Registry) AddChild(childPID, parentPID uint32) bool {
	if childPID == 0 || parentPID == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.byPID[parentPID]
	if !ok {
		return false
	}
	if _, ok := r.byPID[childPID]; ok {
		return false
	}
	r.insertLocked(Target{
		ProcessID:    childPID,
		TagName:      parent.TagName,
		RegisteredAt: now(),
		IsChild:      true,
		ParentPID:    parentPID,
	})
	return true
}

// insertLocked writes both the forward map and the reverse index. Callers
// must hold r.mu for writing.
func (r *Registry) insertLocked(t Target) {
	r.byPID[t.ProcessID] = t
	set, ok := r.byTag[t.TagName]
	if !ok {
		set = make(map[uint32]struct{})
		r.byTag[t.TagName] = set
	}
	set[t.ProcessID] = struct{}{}
}

// removeLocked removes pid from both maps. Callers must hold r.mu.
func (r *Registry) removeLocked(pid uint32) bool {
	t, ok := r.byPID[pid]
	if !ok {
		return false
	}
	delete(r.byPID, pid)
	set := r.byTag[t.TagName]
	delete(set, pid)
	if len(set) == 0 {
		delete(r.byTag, t.TagName)
	}
	return true
}

// Remove drops pid from the registry, wherever it's tagged. Returns true
// if a target was actually removed.
func (r *Registry) Remove(pid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(pid)
}

// RemoveByTag drops every target registered under tag, returning the
// count removed.
func (r *Registry) RemoveByTag(tag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byTag[tag]
	if !ok {
		return 0
	}
	pids := make([]uint32, 0, len(set))
	for pid := range set {
		pids = append(pids, pid)
	}
	for _, pid := range pids {
		r.removeLocked(pid)
	}
	return len(pids)
}

// IsWatched reports whether pid currently has a tag.
func (r *Registry) IsWatched(pid uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPID[pid]
	return ok
}

// TagOf returns the tag assigned to pid, if any.
func (r *Registry) TagOf(pid uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPID[pid]
	if !ok {
		return "", false
	}
	return t.TagName, true
}

// Tags returns a snapshot of every tag name currently registered.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}

// List returns a snapshot of every registered target.
func (r *Registry) List() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.byPID))
	for _, t := range r.byPID {
		out = append(out, t)
	}
	return out
}

// ListDetailed returns a snapshot of every registered target, augmented
// with best-effort process introspection. Lookups are served from a
// bounded LRU cache keyed by pid so repeated calls don't repeatedly pay
// for OpenProcess/PE-parsing costs.
func (r *Registry) ListDetailed() []Detail {
	targets := r.List()
	out := make([]Detail, 0, len(targets))
	for _, t := range targets {
		out = append(out, r.detail(t))
	}
	return out
}

func (r *Registry) detail(t Target) Detail {
	if r.resolver == nil {
		return Detail{Target: t}
	}
	r.mu.Lock()
	if cached, ok := r.detailLRU.Get(t.ProcessID); ok {
		d := cached.(Detail)
		d.Target = t
		r.mu.Unlock()
		return d
	}
	r.mu.Unlock()

	d := r.resolver.Resolve(t.ProcessID)
	d.Target = t

	r.mu.Lock()
	r.detailLRU.Add(t.ProcessID, d)
	r.mu.Unlock()
	return d
}

// Size returns the number of currently-registered targets.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPID)
}

// now is a var, not a direct time.Now() call, purely so tests can pin it
// if a future scenario needs deterministic RegisteredAt values; today it's
// just time.Now.
var now = time.Now

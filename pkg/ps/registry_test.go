package ps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct{ calls int }

func (f *fakeResolver) Resolve(pid uint32) Detail {
	f.calls++
	return Detail{ProcessName: "proc.exe", ImagePath: `C:\proc.exe`}
}

func TestAddThenTagOfThenRemove(t *testing.T) {
	r := NewRegistry(nil)
	require.True(t, r.Add(10, "A"))
	tag, ok := r.TagOf(10)
	require.True(t, ok)
	assert.Equal(t, "A", tag)

	require.True(t, r.Remove(10))
	assert.False(t, r.IsWatched(10))
}

func TestAddRejectsDuplicatePID(t *testing.T) {
	r := NewRegistry(nil)
	require.True(t, r.Add(10, "A"))
	assert.False(t, r.Add(10, "B"))
	tag, _ := r.TagOf(10)
	assert.Equal(t, "A", tag)
}

func TestAddChildInheritsParentTag(t *testing.T) {
	r := NewRegistry(nil)
	require.True(t, r.Add(1, "svc"))
	require.True(t, r.AddChild(2, 1))

	tag, ok := r.TagOf(2)
	require.True(t, ok)
	assert.Equal(t, "svc", tag)

	targets := r.List()
	var child *Target
	for i := range targets {
		if targets[i].ProcessID == 2 {
			child = &targets[i]
		}
	}
	require.NotNil(t, child)
	assert.True(t, child.IsChild)
	assert.Equal(t, uint32(1), child.ParentPID)
}

func TestAddChildFailsWithoutParent(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.AddChild(2, 999))
}

func TestRemoveByTagRemovesAllMembers(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(1, "t")
	r.Add(2, "t")
	r.Add(3, "other")

	n := r.RemoveByTag("t")
	assert.Equal(t, 2, n)
	assert.False(t, r.IsWatched(1))
	assert.False(t, r.IsWatched(2))
	assert.True(t, r.IsWatched(3))
}

func TestForwardAndReverseIndexConsistency(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(1, "t")
	r.Add(2, "t")
	r.Remove(1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byTag["t"]
	for pid := range set {
		_, ok := r.byPID[pid]
		assert.True(t, ok)
	}
	for pid, target := range r.byPID {
		_, ok := r.byTag[target.TagName][pid]
		assert.True(t, ok)
	}
}

func TestListDetailedUsesResolverAndCache(t *testing.T) {
	res := &fakeResolver{}
	r := NewRegistry(res)
	r.Add(1, "t")

	details := r.ListDetailed()
	require.Len(t, details, 1)
	assert.Equal(t, "proc.exe", details[0].ProcessName)
	assert.Equal(t, 1, res.calls)

	// second call should be served from cache
	_ = r.ListDetailed()
	assert.Equal(t, 1, res.calls)
}

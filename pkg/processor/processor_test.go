package processor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryoha000/proctail/pkg/kevent"
)

type fakeRegistry struct {
	mu       sync.Mutex
	tags     map[uint32]string
	children []struct{ child, parent uint32 }
	removed  []uint32
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tags: make(map[uint32]string)}
}

func (f *fakeRegistry) TagOf(pid uint32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tags[pid]
	return t, ok
}

func (f *fakeRegistry) AddChild(child, parent uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[parent]
	if !ok {
		return false
	}
	if _, ok := f.tags[child]; ok {
		return false
	}
	f.tags[child] = tag
	f.children = append(f.children, struct{ child, parent uint32 }{child, parent})
	return true
}

func (f *fakeRegistry) Remove(pid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[pid]; !ok {
		return false
	}
	delete(f.tags, pid)
	f.removed = append(f.removed, pid)
	return true
}

func defaultCfg() Config {
	return NewConfig(
		[]string{"Microsoft-Windows-Kernel-File", "Microsoft-Windows-Kernel-Process"},
		kevent.DefaultEnabledEventNames,
		nil,
		nil,
	)
}

func TestAttributionBasic(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[1234] = "A"
	p := New(reg, defaultCfg())

	raw := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOCreate,
		PID:      1234,
		Payload:  map[string]any{"FileName": `C:\a.txt`},
	}
	e, err := p.Process(raw)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, kevent.VariantFile, e.Variant)
	assert.Equal(t, `C:\a.txt`, e.FilePath)
	assert.Equal(t, "A", e.TagName)
}

func TestNonTargetFiltered(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[1234] = "A"
	p := New(reg, defaultCfg())

	raw := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOWrite,
		PID:      5678,
		Payload:  map[string]any{"FileName": `C:\b.txt`},
	}
	e, err := p.Process(raw)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestChildInheritance(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[1000] = "svc"
	p := New(reg, defaultCfg())

	start := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-Process",
		Name:     kevent.ProcessStart,
		PID:      1000,
		Payload:  map[string]any{"ProcessId": int64(2000), "ImageFileName": "child.exe"},
	}
	e, err := p.Process(start)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, uint32(2000), e.ChildProcessID)
	assert.Equal(t, "child.exe", e.ChildProcessName)

	tag, ok := reg.TagOf(2000)
	require.True(t, ok)
	assert.Equal(t, "svc", tag)

	write := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOWrite,
		PID:      2000,
		Payload:  map[string]any{"FileName": `C:\c.txt`},
	}
	e2, err := p.Process(write)
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.Equal(t, `C:\c.txt`, e2.FilePath)
	assert.Equal(t, "svc", e2.TagName)
}

func TestTerminationCleanup(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[3000] = "t"
	p := New(reg, defaultCfg())

	raw := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-Process",
		Name:     kevent.ProcessEnd,
		PID:      3000,
		Payload:  map[string]any{"ExitStatus": int64(5)},
	}
	e, err := p.Process(raw)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int32(5), e.ExitCode)

	_, ok := reg.TagOf(3000)
	assert.False(t, ok)
}

func TestCloseWithoutPathGetsSyntheticMarker(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[42] = "k"
	p := New(reg, defaultCfg())

	raw := &kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOClose,
		PID:      42,
		Payload:  map[string]any{},
	}
	e, err := p.Process(raw)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, kevent.CloseMarker(42), e.FilePath)
}

func TestPatternExclusionWithTestEscape(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[42] = "k"
	cfg := NewConfig(
		[]string{"Microsoft-Windows-Kernel-File"},
		kevent.DefaultEnabledEventNames,
		nil,
		[]string{`*\Temp\*`},
	)
	p := New(reg, cfg)

	dropped, err := p.Process(&kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOCreate,
		PID:      42,
		Payload:  map[string]any{"FileName": `C:\Users\u\Temp\other.txt`},
	})
	require.NoError(t, err)
	assert.Nil(t, dropped)

	kept, err := p.Process(&kevent.Raw{
		Provider: "Microsoft-Windows-Kernel-File",
		Name:     kevent.FileIOCreate,
		PID:      42,
		Payload:  map[string]any{"FileName": `C:\Users\u\Temp\ProcTailTest\t.txt`},
	})
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, `C:\Users\u\Temp\ProcTailTest\t.txt`, kept.FilePath)
}

func TestMalformedChildPIDDropsEvent(t *testing.T) {
	reg := newFakeRegistry()
	reg.tags[1] = "a"
	p := New(reg, defaultCfg())

	var failed *kevent.Raw
	p.OnChildAttributionFailed = func(raw *kevent.Raw) { failed = raw }

	raw := &kevent.Raw{
		Provider:  "Microsoft-Windows-Kernel-Process",
		Name:      kevent.ProcessStart,
		PID:       1,
		Timestamp: time.Now(),
		Payload:   map[string]any{"ImageFileName": "x.exe"},
	}
	e, err := p.Process(raw)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NotNil(t, failed)
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryoha000/proctail/pkg/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PipeName = "ProcTailOrchestratorTest"
	return cfg
}

func TestStartRunStopLifecycle(t *testing.T) {
	o := New(testConfig(), nil)
	assert.Equal(t, StateStopped, o.State())

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.Equal(t, StateRunning, o.State())

	require.NoError(t, o.Start(ctx)) // re-entrant no-op
	assert.Equal(t, StateRunning, o.State())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(stopCtx))
	assert.Equal(t, StateStopped, o.State())

	require.NoError(t, o.Stop(stopCtx)) // re-entrant no-op
}

func TestAddWatchTargetThenGetWatchTargets(t *testing.T) {
	o := New(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		o.Stop(stopCtx)
	}()

	require.NoError(t, o.AddWatchTarget(123, "demo"))
	targets := o.GetWatchTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, uint32(123), targets[0].ProcessId)
	assert.Equal(t, "demo", targets[0].TagName)
}

func TestAddWatchTargetRejectsEmptyTag(t *testing.T) {
	o := New(testConfig(), nil)
	assert.Error(t, o.AddWatchTarget(1, ""))
}

func TestGetRecordedEventsOnUnknownTagIsEmpty(t *testing.T) {
	o := New(testConfig(), nil)
	resp, err := o.GetRecordedEvents("nope")
	require.NoError(t, err)
	assert.Empty(t, resp.Events)
}

func TestGetStatusReflectsRunningState(t *testing.T) {
	o := New(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		o.Stop(stopCtx)
	}()

	status := o.GetStatus()
	assert.True(t, status.Running)
}

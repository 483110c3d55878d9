package kstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubSessionOpenAndCloseIsSafe(t *testing.T) {
	s := NewSession(Config{Providers: []string{"Microsoft-Windows-Kernel-File"}})
	require.NoError(t, s.Open(context.Background()))

	done := make(chan struct{})
	go func() {
		for range s.Events() {
		}
		close(done)
	}()

	require.NoError(t, s.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events channel was not closed")
	}
}

func TestRetryBackoffTerminatesQuickly(t *testing.T) {
	b := retryBackoff()
	retries := 0
	for {
		d := b.NextBackOff()
		if d < 0 {
			break
		}
		retries++
		if retries > 5 {
			t.Fatal("backoff did not terminate within a bounded number of retries")
		}
	}
	assert.LessOrEqual(t, retries, 2)
}

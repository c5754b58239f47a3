package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldguide/guidance/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, d *Dispatcher[T]) Result[T] {
	t.Helper()
	select {
	case res, ok := <-d.Results():
		require.True(t, ok, "results channel closed early")
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	return Result[T]{}
}

func TestSubmitDeliversStampedResults(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(100, 0))
	d := New[int](1, 4, clock)
	defer d.Close()

	require.NoError(t, d.Submit(7, func() int { return 42 }))
	res := receive(t, d)
	assert.Equal(t, uint32(7), res.RunNumber)
	assert.Equal(t, 42, res.Value)
	assert.NoError(t, res.Err)
	assert.Equal(t, time.Unix(100, 0), res.Started)
	assert.Equal(t, uint64(1), d.Completed())
}

func TestFullQueueEvictsOldest(t *testing.T) {
	t.Parallel()

	d := New[uint32](1, 1, nil)
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit(1, func() uint32 {
		close(started)
		<-release
		return 1
	}))
	<-started

	// Worker is busy; run 2 sits in the queue and is then evicted by run 3.
	require.NoError(t, d.Submit(2, func() uint32 { return 2 }))
	require.NoError(t, d.Submit(3, func() uint32 { return 3 }))
	assert.Equal(t, uint64(1), d.Evicted())

	close(release)
	assert.Equal(t, uint32(1), receive(t, d).Value)
	assert.Equal(t, uint32(3), receive(t, d).Value)
}

func TestPanicIsReportedAsError(t *testing.T) {
	t.Parallel()

	d := New[int](2, 2, nil)
	defer d.Close()

	require.NoError(t, d.Submit(5, func() int { panic("boom") }))
	res := receive(t, d)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")
	assert.Equal(t, uint32(5), res.RunNumber)
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()

	d := New[int](1, 1, nil)
	d.Close()
	d.Close()

	if err := d.Submit(1, func() int { return 0 }); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	select {
	case _, ok := <-d.Results():
		if ok {
			t.Fatal("unexpected result after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results channel never closed")
	}
}

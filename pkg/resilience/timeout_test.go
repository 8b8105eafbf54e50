package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUntilCancelled is a cooperative operation that only resolves when its
// cancellation token fires or the given duration elapses.
func blockUntilCancelled(duration time.Duration) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(duration):
			return "finished", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestTimeoutManager_CompletesBeforeDeadline(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: 100 * time.Millisecond})

	result, err := tm.Execute(context.Background(), blockUntilCancelled(10*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "finished", result)

	stats := tm.Stats()
	assert.Equal(t, uint64(1), stats.TotalExecutions)
	assert.Equal(t, uint64(1), stats.SuccessfulExecutions)
	assert.Equal(t, uint64(0), stats.TimeoutCount)
}

func TestTimeoutManager_DeadlineFires(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: 50 * time.Millisecond})

	_, err := tm.Execute(context.Background(), blockUntilCancelled(time.Second))

	require.Error(t, err)
	assert.True(t, IsOperationTimeoutError(err))

	stats := tm.Stats()
	assert.Equal(t, uint64(1), stats.TotalExecutions)
	assert.Equal(t, uint64(1), stats.TimeoutCount)
	assert.Equal(t, uint64(0), stats.SuccessfulExecutions)
	assert.InDelta(t, 100.0, stats.TimeoutRate, 0.001)
}

func TestTimeoutManager_OperationErrorPassesThrough(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: 100 * time.Millisecond})

	_, err := tm.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("query failed")
	})

	require.Error(t, err)
	assert.EqualError(t, err, "query failed")
	assert.False(t, IsOperationTimeoutError(err))
}

func TestTimeoutManager_ManualCancel(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := tm.Execute(context.Background(), blockUntilCancelled(time.Second))
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	tm.Cancel("shutting down")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, IsOperationCancelledError(err))
		assert.Contains(t, err.Error(), "shutting down")
	case <-time.After(time.Second):
		t.Fatal("cancelled execution did not return")
	}

	stats := tm.Stats()
	assert.Equal(t, uint64(1), stats.CancelledCount)
	assert.Equal(t, uint64(0), stats.TimeoutCount)
}

func TestTimeoutManager_CancelWithoutInFlightCallIsNoop(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: time.Second})

	tm.Cancel("nothing running")

	stats := tm.Stats()
	assert.Equal(t, uint64(0), stats.TotalExecutions)
	assert.Equal(t, uint64(0), stats.CancelledCount)
}

func TestTimeoutManager_ParentCancelPropagates(t *testing.T) {
	parent := NewTimeoutManager(TimeoutConfig{
		Name:                "parent",
		Duration:            time.Second,
		PropagateToChildren: true,
	})
	child := parent.CreateChild(TimeoutConfig{Name: "child", Duration: time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := child.Execute(context.Background(), blockUntilCancelled(time.Second))
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	parent.Cancel("parent shutdown")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, IsOperationCancelledError(err))
	case <-time.After(time.Second):
		t.Fatal("child execution did not observe parent cancellation")
	}

	assert.Equal(t, uint64(1), child.Stats().CancelledCount)
}

func TestTimeoutManager_ParentTimeoutPropagates(t *testing.T) {
	parent := NewTimeoutManager(TimeoutConfig{
		Name:                "parent",
		Duration:            50 * time.Millisecond,
		PropagateToChildren: true,
	})
	child := parent.CreateChild(TimeoutConfig{Name: "child", Duration: time.Second})

	childErr := make(chan error, 1)
	go func() {
		_, err := child.Execute(context.Background(), blockUntilCancelled(time.Second))
		childErr <- err
	}()

	time.Sleep(10 * time.Millisecond)

	_, parentErrResult := parent.Execute(context.Background(), blockUntilCancelled(time.Second))
	require.Error(t, parentErrResult)
	assert.True(t, IsOperationTimeoutError(parentErrResult))

	select {
	case err := <-childErr:
		require.Error(t, err)
		assert.True(t, IsOperationCancelledError(err))
	case <-time.After(time.Second):
		t.Fatal("child execution did not observe parent timeout")
	}
}

func TestTimeoutManager_NoPropagationWithoutFlag(t *testing.T) {
	parent := NewTimeoutManager(TimeoutConfig{Name: "parent", Duration: time.Second})
	child := parent.CreateChild(TimeoutConfig{Name: "child", Duration: 200 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() {
		_, err := child.Execute(context.Background(), blockUntilCancelled(50*time.Millisecond))
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	parent.Cancel("ignored")

	err := <-errCh
	require.NoError(t, err)
}

func TestTimeoutManager_Introspection(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: 200 * time.Millisecond})

	assert.Nil(t, tm.ActiveTimeout())
	assert.Equal(t, time.Duration(0), tm.RemainingTime())
	assert.Equal(t, time.Duration(0), tm.ElapsedTime())

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		tm.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(started)
			select {
			case <-time.After(100 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		close(finished)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	active := tm.ActiveTimeout()
	require.NotNil(t, active)
	assert.Equal(t, "test-timeout", active.Name)
	assert.Greater(t, tm.RemainingTime(), time.Duration(0))
	assert.Greater(t, tm.ElapsedTime(), time.Duration(0))
	assert.Less(t, tm.RemainingTime(), 200*time.Millisecond)

	<-finished
	assert.Nil(t, tm.ActiveTimeout())
}

func TestTimeoutManager_IntrospectionFollowsNewestSurvivor(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: time.Minute})

	const calls = 5
	release := make([]chan struct{}, calls)
	finished := make([]chan struct{}, calls)
	starts := make([]time.Time, calls)

	for i := 0; i < calls; i++ {
		release[i] = make(chan struct{})
		finished[i] = make(chan struct{})
		gate := release[i]
		done := finished[i]
		started := make(chan struct{})

		starts[i] = time.Now()
		go func() {
			tm.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
				close(started)
				<-gate
				return nil, nil
			})
			close(done)
		}()
		<-started
		time.Sleep(50 * time.Millisecond)
	}

	// Completing the newest call hands introspection to the next newest,
	// not to an arbitrary survivor
	close(release[calls-1])
	<-finished[calls-1]

	elapsed := tm.ElapsedTime()
	assert.InDelta(t, float64(time.Since(starts[calls-2])), float64(elapsed), float64(25*time.Millisecond))

	for i := 0; i < calls-1; i++ {
		close(release[i])
		<-finished[i]
	}
	assert.Nil(t, tm.ActiveTimeout())
}

func TestTimeoutManager_DurationTracking(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: time.Second})

	tm.Execute(context.Background(), blockUntilCancelled(10*time.Millisecond))
	tm.Execute(context.Background(), blockUntilCancelled(50*time.Millisecond))

	stats := tm.Stats()
	assert.Equal(t, uint64(2), stats.SuccessfulExecutions)
	assert.GreaterOrEqual(t, stats.MinDuration, 10*time.Millisecond)
	assert.GreaterOrEqual(t, stats.MaxDuration, 50*time.Millisecond)
	assert.Greater(t, stats.MaxDuration, stats.MinDuration)
	assert.GreaterOrEqual(t, stats.AverageDuration, stats.MinDuration)
	assert.LessOrEqual(t, stats.AverageDuration, stats.MaxDuration)
}

func TestTimeoutManager_OuterContextCancellation(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{Name: "test-timeout", Duration: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := tm.Execute(ctx, blockUntilCancelled(time.Second))

	require.Error(t, err)
	assert.True(t, IsOperationCancelledError(err))
	assert.Equal(t, uint64(1), tm.Stats().CancelledCount)
}

package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	m := NewBackgroundTaskManager()
	var calls int32
	m.Register(func() { atomic.AddInt32(&calls, 1) }, time.Millisecond, "test_task")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 5*time.Second, time.Millisecond)
	assert.False(t, m.StopAll(5*time.Second))

	stopped := atomic.LoadInt32(&calls)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&calls))
}

func TestBackgroundTaskManager_StopAllTimesOut(t *testing.T) {
	m := NewBackgroundTaskManager()
	release := make(chan struct{})
	started := make(chan struct{})
	m.Register(func() {
		close(started)
		<-release
	}, time.Hour, "blocking_task")

	<-started
	assert.True(t, m.StopAll(10*time.Millisecond))
	close(release)
}

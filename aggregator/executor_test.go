package aggregator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskExecutorSubmitRunsOnWorkers(t *testing.T) {
	e := newTaskExecutor(2)
	e.start()
	defer e.stop(true)

	var wg sync.WaitGroup
	var n int32
	wg.Add(5)
	for i := 0; i < 5; i++ {
		e.submit(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tasks did not complete in time")
	}
	if got := atomic.LoadInt32(&n); got != 5 {
		t.Fatalf("n = %d, want 5", got)
	}
}

func TestTaskExecutorScheduleAtRunsNear(t *testing.T) {
	e := newTaskExecutor(1)
	e.start()
	defer e.stop(true)

	fired := make(chan struct{})
	e.scheduleAt(time.Now().Add(20*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduled task never fired")
	}
}

func TestTaskExecutorScheduleAtPastRunsImmediately(t *testing.T) {
	e := newTaskExecutor(1)
	e.start()
	defer e.stop(true)

	fired := make(chan struct{})
	e.scheduleAt(time.Now().Add(-time.Second), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("overdue scheduled task never fired")
	}
}

func TestTaskExecutorStopCancelPendingSkipsTimers(t *testing.T) {
	e := newTaskExecutor(1)
	e.start()

	fired := make(chan struct{}, 1)
	e.scheduleAt(time.Now().Add(200*time.Millisecond), func() { fired <- struct{}{} })
	e.stop(true)

	select {
	case <-fired:
		t.Fatalf("timer fired after stop(true) cancelled it")
	case <-time.After(350 * time.Millisecond):
	}
}

func TestTaskExecutorStopDrainsQueueWhenNotCancelling(t *testing.T) {
	e := newTaskExecutor(1)
	e.start()

	// Occupy the only worker so the counted task is still queued when
	// stop is called.
	release := make(chan struct{})
	started := make(chan struct{})
	e.submit(func() {
		close(started)
		<-release
	})
	<-started

	var ran int32
	e.submit(func() { atomic.AddInt32(&ran, 1) })
	close(release)
	e.stop(false)

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("queued task did not run before stop drained the queue")
	}
}

func TestTaskExecutorScheduleAtAfterStopIsNoOp(t *testing.T) {
	e := newTaskExecutor(1)
	e.start()
	e.stop(true)

	fired := make(chan struct{}, 1)
	e.scheduleAt(time.Now(), func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatalf("scheduleAt after stop should be a no-op")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewTaskExecutorDefaultsWorkerCount(t *testing.T) {
	e := newTaskExecutor(0)
	if e.workerCount != 1 {
		t.Fatalf("workerCount = %d, want 1 for a non-positive request", e.workerCount)
	}
}

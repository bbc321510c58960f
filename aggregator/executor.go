package aggregator

import (
	"sync"
	"time"

	"github.com/sndnv/syn-storage/logger"
)

// taskExecutor is the aggregator's bounded worker pool: plan execution
// and timed pending-action processing are both submitted here rather
// than run inline, so a Store call can return its new ID before its
// placement actually lands (§4.G). Built from a task channel, a fixed
// worker count, a shutdown signal and a WaitGroup.
type taskExecutor struct {
	tasks    chan func()
	shutdown chan struct{}
	wg       sync.WaitGroup

	timersMu sync.Mutex
	timers   []*time.Timer

	workerCount int
	stoppedFlag bool
	stopMu      sync.Mutex
}

func newTaskExecutor(workerCount int) *taskExecutor {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &taskExecutor{
		tasks:       make(chan func(), 1024),
		shutdown:    make(chan struct{}),
		workerCount: workerCount,
	}
}

func (e *taskExecutor) start() {
	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

func (e *taskExecutor) worker(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.shutdown:
			return
		case fn, ok := <-e.tasks:
			if !ok {
				return
			}
			fn()
		}
	}
}

// submit enqueues fn for execution without blocking the caller. If the
// queue is momentarily full, a transient goroutine holds fn until there
// is room, preserving the non-blocking contract that async Store relies
// on.
func (e *taskExecutor) submit(fn func()) {
	select {
	case e.tasks <- fn:
	default:
		go func() { e.tasks <- fn }()
	}
}

// scheduleAt arranges for fn to be submitted to the worker pool at (or
// shortly after) at. The timer is recorded so stop can cancel it.
func (e *taskExecutor) scheduleAt(at time.Time, fn func()) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}

	e.timersMu.Lock()
	if e.isStopped() {
		e.timersMu.Unlock()
		return
	}
	timer := time.AfterFunc(d, func() { e.submit(fn) })
	e.timers = append(e.timers, timer)
	e.timersMu.Unlock()
}

func (e *taskExecutor) isStopped() bool {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	return e.stoppedFlag
}

// stop halts the worker pool. Scheduled timers are cancelled in either
// case. When cancelPending is true, any tasks still queued are dropped;
// otherwise they are run before the workers stop. The aggregator's own pending-action list is what actually carries
// "dropped silently" semantics (§5 cancellation) -- this only concerns
// already-submitted closures.
func (e *taskExecutor) stop(cancelPending bool) {
	e.stopMu.Lock()
	e.stoppedFlag = true
	e.stopMu.Unlock()

	e.timersMu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timersMu.Unlock()

	if cancelPending {
		close(e.shutdown)
		e.wg.Wait()
		logger.Debug("aggregator: worker pool stopped, pending tasks cancelled")
		return
	}

	// Drain whatever is already queued before stopping workers.
	for {
		select {
		case fn := <-e.tasks:
			fn()
		default:
			close(e.shutdown)
			e.wg.Wait()
			logger.Debug("aggregator: worker pool stopped, queue drained")
			return
		}
	}
}

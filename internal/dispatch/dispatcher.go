// Package dispatch runs expensive computations on worker goroutines.
//
// Every job is stamped with the generation (run number) it was submitted
// under. The dispatcher never aborts work: it only hands results back in
// completion order, and the caller decides whether a result is still current
// by comparing stamps. When the queue is full the oldest queued job is
// evicted, since a newer stamp always supersedes it.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldguide/guidance/internal/timeutil"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Result is the outcome of one job.
type Result[T any] struct {
	RunNumber uint32
	Value     T
	// Err is set when the computation panicked.
	Err      error
	Started  time.Time
	Finished time.Time
}

type job[T any] struct {
	runNumber uint32
	compute   func() T
}

// Dispatcher is a fixed pool of workers fed from a bounded queue.
type Dispatcher[T any] struct {
	clock   timeutil.Clock
	jobs    chan job[T]
	results chan Result[T]

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	evicted   atomic.Uint64
	completed atomic.Uint64
}

// New starts workers goroutines reading from a queue of depth jobs. Both
// values are raised to at least one.
func New[T any](workers, depth int, clock timeutil.Clock) *Dispatcher[T] {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := &Dispatcher[T]{
		clock:   clock,
		jobs:    make(chan job[T], depth),
		results: make(chan Result[T], depth+workers),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker(i)
	}
	return d
}

// Submit queues compute under runNumber without blocking.
func (d *Dispatcher[T]) Submit(runNumber uint32, compute func() T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	j := job[T]{runNumber: runNumber, compute: compute}
	for {
		select {
		case d.jobs <- j:
			return nil
		default:
		}
		select {
		case old := <-d.jobs:
			d.evicted.Add(1)
			diagf("queue full: evicted job for run %d in favour of run %d", old.runNumber, runNumber)
		default:
		}
	}
}

// Results delivers completed jobs. The channel is closed once Close has been
// called and every worker has finished. Callers must keep draining it or
// the workers stall.
func (d *Dispatcher[T]) Results() <-chan Result[T] {
	return d.results
}

// Evicted returns how many queued jobs were dropped unrun.
func (d *Dispatcher[T]) Evicted() uint64 { return d.evicted.Load() }

// Completed returns how many jobs have finished.
func (d *Dispatcher[T]) Completed() uint64 { return d.completed.Load() }

// Close stops accepting jobs. Queued jobs still run; Results is closed after
// the last one is delivered. Close does not wait.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	go func() {
		d.wg.Wait()
		close(d.results)
		diagf("all workers stopped (%d completed, %d evicted)", d.completed.Load(), d.evicted.Load())
	}()
}

func (d *Dispatcher[T]) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		res := d.run(j)
		d.completed.Add(1)
		tracef("worker %d finished run %d in %v", id, j.runNumber, res.Finished.Sub(res.Started))
		d.results <- res
	}
}

func (d *Dispatcher[T]) run(j job[T]) (res Result[T]) {
	res.RunNumber = j.runNumber
	res.Started = d.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job for run %d panicked: %v", j.runNumber, r)
			opsf("%v", res.Err)
		}
		res.Finished = d.clock.Now()
	}()
	res.Value = j.compute()
	return res
}

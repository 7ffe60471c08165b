// Package dispatcher provides the serialized task queue that runs every
// user-visible callback of this module. Endpoints post from their io
// goroutines; the dispatcher executes tasks one at a time in enqueue order,
// honoring per-task execution times.
package dispatcher

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a unit of work executed on the dispatcher goroutine.
type Task func()

type entry struct {
	task Task
	at   time.Time
	seq  uint64
}

// taskHeap orders entries by execution time, then by enqueue order so that
// same-instant tasks run FIFO.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Dispatcher is a single-consumer task queue with scheduled execution.
// Tasks enqueued for the same instant run in enqueue order.
type Dispatcher struct {
	mu         sync.Mutex
	tasks      taskHeap
	seq        uint64
	wake       chan struct{}
	done       chan struct{}
	loopExited chan struct{}
	terminated bool
}

// New creates a Dispatcher and starts its run loop.
func New() *Dispatcher {
	d := &Dispatcher{
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		loopExited: make(chan struct{}),
	}
	go d.run()
	return d
}

// WhenNow returns the dispatcher's current time point.
func (d *Dispatcher) WhenNow() time.Time {
	return time.Now()
}

// Enqueue schedules a task to run as soon as possible.
func (d *Dispatcher) Enqueue(t Task) {
	d.EnqueueAt(t, d.WhenNow())
}

// EnqueueAt schedules a task to run at (or after) the given time point.
func (d *Dispatcher) EnqueueAt(t Task, at time.Time) {
	if t == nil {
		return
	}
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return
	}
	d.seq++
	heap.Push(&d.tasks, &entry{task: t, at: at, seq: d.seq})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Terminate stops the run loop. Tasks that are already due keep running
// until the loop observes the termination; pending future tasks are
// discarded. Terminate blocks until the loop has exited and is safe to call
// more than once.
func (d *Dispatcher) Terminate() {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		<-d.loopExited
		return
	}
	d.terminated = true
	d.mu.Unlock()

	close(d.done)
	<-d.loopExited
}

func (d *Dispatcher) run() {
	defer close(d.loopExited)

	idle := time.NewTimer(time.Hour)
	defer idle.Stop()

	for {
		d.mu.Lock()
		var next *entry
		if len(d.tasks) > 0 {
			next = d.tasks[0]
		}
		now := time.Now()
		if next != nil && !next.at.After(now) {
			heap.Pop(&d.tasks)
			d.mu.Unlock()
			next.task()
			continue
		}
		d.mu.Unlock()

		wait := time.Hour
		if next != nil {
			wait = next.at.Sub(now)
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-d.done:
			return
		case <-d.wake:
		case <-idle.C:
		}
	}
}

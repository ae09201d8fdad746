// Package eventloop implements the single cooperative-task lane
// ("MAIN") that owns all framer, message-builder, RTCP-codec and
// playout-scheduler state (spec.md §5). Every method those packages
// expose is non-blocking; "waiting" is expressed by posting a task to
// run later. The loop itself is grounded on the teacher's
// ringbuffer-backed asyncProcessor: a single goroutine drains a FIFO
// queue of closures, so tasks posted from any goroutine run to
// completion, in order, on MAIN.
package eventloop

import (
	"container/list"
	"sync"
	"time"
)

// Task is a unit of work run on the loop's goroutine.
type Task func()

// Loop is a FIFO task queue drained by one goroutine. It is the Go
// expression of spec.md §5's "single-threaded cooperative task
// scheduler": no task ever runs concurrently with another task posted
// to the same Loop.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *list.List
	closed  bool
	done    chan struct{}
	timers  map[*time.Timer]struct{}
	timerMu sync.Mutex
}

// New allocates and starts a Loop.
func New() *Loop {
	l := &Loop{
		queue:  list.New(),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post enqueues a task to run on MAIN as soon as prior tasks drain. It
// never blocks the caller.
func (l *Loop) Post(t Task) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue.PushBack(t)
	l.mu.Unlock()
	l.cond.Signal()
}

// PostDelayed schedules a task to be posted to MAIN after d has
// elapsed. It returns a cancel function; calling it after the task has
// already fired is a no-op. This is the mechanism behind every
// "waiting" described in spec.md §5 (PlayoutTimeout, RTCP report
// timer, Cast message timer).
func (l *Loop) PostDelayed(d time.Duration, t Task) (cancel func()) {
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		l.timerMu.Lock()
		delete(l.timers, timer)
		l.timerMu.Unlock()
		l.Post(t)
	})
	l.timerMu.Lock()
	l.timers[timer] = struct{}{}
	l.timerMu.Unlock()
	return func() {
		timer.Stop()
		l.timerMu.Lock()
		delete(l.timers, timer)
		l.timerMu.Unlock()
	}
}

// Close stops accepting new tasks, cancels outstanding delayed tasks,
// and waits for the goroutine to drain and exit. Once Close returns,
// any delayed task that fires afterward is already a no-op because it
// was cancelled; this is the Go equivalent of spec.md §5's weak-pointer
// cancellation-on-destruction guarantee.
func (l *Loop) Close() {
	l.timerMu.Lock()
	for timer := range l.timers {
		timer.Stop()
	}
	l.timers = make(map[*time.Timer]struct{})
	l.timerMu.Unlock()

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()

	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for l.queue.Len() == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.queue.Len() == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		front := l.queue.Front()
		l.queue.Remove(front)
		l.mu.Unlock()

		front.Value.(Task)()
	}
}

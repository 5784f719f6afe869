// Package throttle implements a per-parent concurrency limiter for the
// inline-widget driver (component P): LimitedConcurrencyQueue caps how
// many child-widget requests a single parent may have in flight at
// once, running the rest in FIFO order as slots free up.
package throttle

import "sync"

type jobState int

const (
	stateNone jobState = iota
	stateWaiting
	stateRunning
)

// Job is a unit of work admitted through a Queue. Schedule enqueues it;
// Cancel withdraws it whether it is still waiting or already running.
// The zero value is not usable; create one with Queue.NewJob.
type Job struct {
	queue    *Queue
	callback func()

	mu    sync.Mutex
	state jobState
}

// Schedule admits the job: it runs immediately if the queue has room,
// otherwise it waits in FIFO order behind jobs already queued.
func (j *Job) Schedule() {
	j.queue.add(j)
}

// IsRunning reports whether the job currently holds a concurrency slot.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == stateRunning
}

// IsWaiting reports whether the job is queued behind the limit.
func (j *Job) IsWaiting() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == stateWaiting
}

// Cancel withdraws the job. If it was running, a waiting job (if any)
// is promoted to take its slot. Safe to call on a job that was never
// scheduled or has already finished.
func (j *Job) Cancel() {
	j.queue.remove(j)
}

// Queue admits jobs up to a fixed concurrency limit, running the
// remainder in the order they were scheduled.
type Queue struct {
	mu      sync.Mutex
	limit   int
	waiting []*Job
	running map[*Job]struct{}
}

// New builds a Queue that runs at most limit jobs concurrently.
func New(limit int) *Queue {
	return &Queue{limit: limit, running: make(map[*Job]struct{})}
}

// NewJob creates a Job bound to this queue. callback is invoked exactly
// once, when the job is admitted to run.
func (q *Queue) NewJob(callback func()) *Job {
	return &Job{queue: q, callback: callback}
}

func (q *Queue) add(j *Job) {
	j.mu.Lock()
	if j.state != stateNone {
		j.mu.Unlock()
		return
	}

	q.mu.Lock()
	runNow := len(q.waiting) == 0 && len(q.running) < q.limit
	if runNow {
		j.state = stateRunning
		q.running[j] = struct{}{}
	} else {
		j.state = stateWaiting
		q.waiting = append(q.waiting, j)
	}
	q.mu.Unlock()
	j.mu.Unlock()

	if runNow {
		j.callback()
	}
}

func (q *Queue) remove(j *Job) {
	j.mu.Lock()
	state := j.state
	j.state = stateNone
	j.mu.Unlock()

	switch state {
	case stateNone:
		return

	case stateWaiting:
		q.mu.Lock()
		for i, w := range q.waiting {
			if w == j {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				break
			}
		}
		q.mu.Unlock()

	case stateRunning:
		q.mu.Lock()
		delete(q.running, j)
		next := q.popWaitingLocked()
		q.mu.Unlock()

		if next != nil {
			next.callback()
		}
	}
}

// popWaitingLocked promotes the head of the waiting list to running, if
// there is room and anyone is waiting. Caller must hold q.mu.
func (q *Queue) popWaitingLocked() *Job {
	if len(q.waiting) == 0 || len(q.running) >= q.limit {
		return nil
	}

	next := q.waiting[0]
	q.waiting = q.waiting[1:]

	next.mu.Lock()
	next.state = stateRunning
	next.mu.Unlock()
	q.running[next] = struct{}{}

	return next
}

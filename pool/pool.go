// Package pool implements a bounded-concurrency, FIFO-ordered task
// executor: results surface through Next in the same order tasks were
// submitted via Execute, regardless of the order the underlying work
// actually completes in.
//
// It is the concurrency primitive dal/multipart uses to dispatch part
// uploads, but it has no multipart-specific knowledge of its own.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/unidal/dal"
)

// result carries a task's outcome through its slot channel.
type result[O any] struct {
	value O
	err   error
}

// slot is a reserved position in submission order. Its channel is
// buffered by one so a completing task never blocks delivering its
// result, even if the pool has been Cleared and nobody will ever read
// it.
type slot[O any] struct {
	ch        chan result[O]
	admission *semaphore.Weighted // the admission semaphore this slot's Execute acquired from
}

// ConcurrentTasks is a bounded-concurrency, FIFO-ordered executor for
// async work units of type I -> O. Construction parameters: an
// Executor, a maximum in-flight count C >= 1, a maximum queue depth Q
// (slack between submissions and in-flight), and a task body that runs
// asynchronously.
type ConcurrentTasks[I, O any] struct {
	exec Executor
	f    func(ctx context.Context, in I) (O, error)

	admissionCap   int64
	concurrencyCap int64

	mu          sync.Mutex
	queue       []*slot[O]
	admission   *semaphore.Weighted // guards submissions: size C+Q
	concurrency *semaphore.Weighted // guards execution: size C
}

// Executor is the subset of dal.Executor the pool needs: the ability
// to spawn a task body and, optionally, to race it against a timeout.
type Executor = dal.Executor

// New constructs a ConcurrentTasks pool. maxInFlight must be >= 1;
// maxQueue may be 0 (no slack beyond the in-flight tasks themselves).
func New[I, O any](exec Executor, maxInFlight, maxQueue int, f func(ctx context.Context, in I) (O, error)) *ConcurrentTasks[I, O] {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	if exec == nil {
		exec = dal.GoExecutor{}
	}
	admissionCap := int64(maxInFlight + maxQueue)
	concurrencyCap := int64(maxInFlight)
	return &ConcurrentTasks[I, O]{
		exec:           exec,
		f:              f,
		admissionCap:   admissionCap,
		concurrencyCap: concurrencyCap,
		admission:      semaphore.NewWeighted(admissionCap),
		concurrency:    semaphore.NewWeighted(concurrencyCap),
	}
}

// Execute enqueues a new task. If the pool already has C tasks in
// flight and Q queued, Execute suspends until a prior result is
// delivered via Next. The task body is invoked in submission order
// (start order), though completion order is arbitrary.
func (p *ConcurrentTasks[I, O]) Execute(ctx context.Context, in I) error {
	p.mu.Lock()
	admissionSem := p.admission
	p.mu.Unlock()

	if err := admissionSem.Acquire(ctx, 1); err != nil {
		return dal.Wrap(err)
	}

	s := &slot[O]{ch: make(chan result[O], 1), admission: admissionSem}
	p.mu.Lock()
	p.queue = append(p.queue, s)
	concurrencySem := p.concurrency
	p.mu.Unlock()

	p.exec.Spawn(func() {
		p.runTask(ctx, concurrencySem, in, s)
	})
	return nil
}

func (p *ConcurrentTasks[I, O]) runTask(ctx context.Context, concurrencySem *semaphore.Weighted, in I, s *slot[O]) {
	if err := concurrencySem.Acquire(ctx, 1); err != nil {
		s.ch <- result[O]{err: dal.Wrap(err)}
		return
	}
	defer concurrencySem.Release(1)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[O], 1)
	p.exec.Spawn(func() {
		v, err := p.f(taskCtx, in)
		done <- result[O]{value: v, err: err}
	})

	timeoutCh := p.exec.Timeout()
	if timeoutCh == nil {
		s.ch <- <-done
		return
	}

	select {
	case r := <-done:
		s.ch <- r
	case <-timeoutCh:
		cancel()
		s.ch <- result[O]{err: dal.NewError(dal.KindUnexpected, "task timed out").WithTemporary(true)}
	}
}

// Next awaits the next completed task in submission order and returns
// its result. It returns (zero, false, nil) once the pool is idle (no
// in-flight, no queued tasks).
func (p *ConcurrentTasks[I, O]) Next(ctx context.Context) (O, bool, error) {
	var zero O

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return zero, false, nil
	}
	s := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	// A result has been claimed from the queue, so one admission slot
	// is free for a new submission. Release back to the semaphore this
	// slot actually acquired from, which may no longer be the pool's
	// current one if Clear ran in between.
	s.admission.Release(1)

	select {
	case r := <-s.ch:
		if r.err != nil {
			return zero, true, r.err
		}
		return r.value, true, nil
	case <-ctx.Done():
		return zero, true, dal.Wrap(ctx.Err())
	}
}

// Clear drops every queued result and gives the pool fresh admission
// and concurrency semaphores, so after it returns the pool accepts new
// work as if idle. It is synchronous and does not await in-flight
// work. Tasks already started are not cancelled: their bodies run to
// completion, and any side effects they commit to the backing store
// stay. Their results are discarded; their completion, whenever it
// happens, is a silent no-op because nothing references their slot
// any longer.
func (p *ConcurrentTasks[I, O]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = nil
	p.admission = semaphore.NewWeighted(p.admissionCap)
	p.concurrency = semaphore.NewWeighted(p.concurrencyCap)
}

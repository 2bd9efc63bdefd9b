package frame

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// recordTask is one worker's recording assignment for a frame.
type recordTask func(workerID int)

// recordPool is a fixed pool of recording goroutines. Unlike a general task
// queue, every frame hands each worker at most one task (its partition of
// the draw groups), so the pool only needs fan-out plus a bounded join.
type recordPool struct {
	workers int
	tasks   chan poolTask
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

type poolTask struct {
	workerID int
	run      recordTask
	doneWG   *sync.WaitGroup
}

// newRecordPool starts a pool with the given worker count. Zero or negative
// means GOMAXPROCS.
func newRecordPool(workers int) *recordPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &recordPool{
		workers: workers,
		tasks:   make(chan poolTask, workers),
		done:    make(chan struct{}),
	}
	p.running.Store(true)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *recordPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case t := <-p.tasks:
			t.run(t.workerID)
			t.doneWG.Done()
		}
	}
}

// runAll fans the tasks out and waits for completion, at most timeout.
// Returns false on timeout; the tasks may still be running and must only
// touch state that stays valid, which per-frame recording guarantees by
// writing exclusively into worker-owned batches and ring ranges.
func (p *recordPool) runAll(tasks []recordTask, timeout time.Duration) bool {
	if len(tasks) == 0 || !p.running.Load() {
		return true
	}
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, run := range tasks {
		select {
		case p.tasks <- poolTask{workerID: i, run: run, doneWG: &wg}:
		case <-p.done:
			wg.Done()
		}
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Workers returns the pool size.
func (p *recordPool) Workers() int { return p.workers }

// Close stops the workers. Safe to call more than once.
func (p *recordPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

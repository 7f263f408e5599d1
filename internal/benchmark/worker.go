package benchmark

import (
	"context"
	"sync"
)

type taskResult struct {
	count int
	err   error
}

type job struct {
	ctx  context.Context
	task QueryTask
	done chan taskResult
}

// worker runs query tasks one at a time on a single goroutine. A task
// submitted while another still runs waits until the worker is free.
type worker struct {
	jobs chan job
	quit chan struct{}
	once sync.Once
}

func newWorker() *worker {
	w := &worker{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- runTask(j.ctx, j.task)
		case <-w.quit:
			return
		}
	}
}

// submit hands t to the worker. The returned channel is buffered so a worker
// finishing an abandoned task never blocks.
func (w *worker) submit(ctx context.Context, t QueryTask) <-chan taskResult {
	done := make(chan taskResult, 1)
	select {
	case w.jobs <- job{ctx: ctx, task: t, done: done}:
	case <-ctx.Done():
		done <- taskResult{err: ctx.Err()}
	case <-w.quit:
		done <- taskResult{err: errWorkerStopped}
	}
	return done
}

// stop lets the worker exit once its current task, if any, returns.
func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
}

func runTask(ctx context.Context, t QueryTask) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{err: &PanicError{Op: "ExecuteQuery", Value: r}}
		}
	}()
	n, err := t.Run(ctx)
	return taskResult{count: n, err: err}
}

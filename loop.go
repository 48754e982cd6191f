package memexpose

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Task is executed by the loop.
type Task func(ctx context.Context)

// Loop executes tasks one by one on a single goroutine. Everything touching the state of the device runs there.
type Loop struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}
}

// NewLoop creates new loop.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post schedules task for execution. It never blocks and might be called from any goroutine.
func (l *Loop) Post(task Task) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do executes fn on the loop and waits for the result.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	doneCh := make(chan error, 1)
	l.Post(func(ctx context.Context) {
		doneCh <- fn(ctx)
	})

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case err := <-doneCh:
		return err
	}
}

// Run runs the loop until context is canceled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for i, task := range tasks {
			if ctx.Err() != nil {
				l.requeue(tasks[i:])
				return errors.WithStack(ctx.Err())
			}
			task(ctx)
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-l.wake:
		}
	}
}

func (l *Loop) requeue(tasks []Task) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tasks = append(tasks, l.tasks...)
}

// NewBH creates bottom half executing fn on the loop.
func (l *Loop) NewBH(fn Task) *BH {
	return &BH{
		loop: l,
		fn:   fn,
	}
}

// BH is a task scheduled to run on a later turn of the loop. Methods must be called from the loop.
type BH struct {
	loop      *Loop
	fn        Task
	scheduled bool
	epoch     uint64
}

// Schedule schedules execution. Multiple calls before execution result in single run.
func (bh *BH) Schedule() {
	if bh.scheduled {
		return
	}
	bh.scheduled = true
	epoch := bh.epoch
	bh.loop.Post(func(ctx context.Context) {
		if !bh.scheduled || bh.epoch != epoch {
			return
		}
		bh.scheduled = false
		bh.fn(ctx)
	})
}

// Cancel cancels scheduled execution.
func (bh *BH) Cancel() {
	if bh.scheduled {
		bh.scheduled = false
		bh.epoch++
	}
}

// Scheduled tells if execution is pending.
func (bh *BH) Scheduled() bool {
	return bh.scheduled
}

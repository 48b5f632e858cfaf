package environ

import (
	"context"
	"runtime"

	"github.com/neelance/parallel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// poolScheduler is the reference Scheduler adapter. A sequential view
// runs fn one handle at a time with neelance/parallel bounded to a
// single slot -- cheap and trivially ordered, good for the common case
// where len(check) is small. A parallel view spreads the same work
// across golang.org/x/sync/errgroup, gated by a semaphore sized to
// GOMAXPROCS, which is the shape stage 5/9 fan-out actually wants once
// there are enough files to make worker handoff worth it.
type poolScheduler struct {
	isParallel bool
	maxWorkers int
}

// NewScheduler returns the default sequential Scheduler. Call
// WithParallel(true) to obtain a parallel view.
func NewScheduler() Scheduler {
	return &poolScheduler{maxWorkers: runtime.GOMAXPROCS(0)}
}

func (s *poolScheduler) WithParallel(isParallel bool) Scheduler {
	return &poolScheduler{isParallel: isParallel, maxWorkers: s.maxWorkers}
}

func (s *poolScheduler) Map(handles []FileHandle, fn func(FileHandle) error) error {
	if !s.isParallel {
		run := parallel.NewRun(1)
		for _, h := range handles {
			h := h
			run.Acquire()
			go func() {
				defer run.Release()
				if err := fn(h); err != nil {
					run.Error(err)
				}
			}()
		}
		return run.Wait()
	}

	sem := semaphore.NewWeighted(int64(s.maxWorkers))
	group, ctx := errgroup.WithContext(context.Background())
	for _, h := range handles {
		h := h
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		group.Go(func() error {
			defer sem.Release(1)
			return fn(h)
		})
	}
	return group.Wait()
}

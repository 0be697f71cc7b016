package concurrent

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// All runs every task in its own goroutine, at most limit at a time, and waits
// for all of them. A limit <= 0 means GOMAXPROCS. It returns the first error
// encountered. A panicking task is recovered and reported as an error so one
// task cannot take the caller down.
func All(limit int, tasks ...func() error) error {
	switch len(tasks) {
	case 0:
		return nil
	case 1:
		return guard(tasks[0])
	}

	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	g := errgroup.Group{}
	g.SetLimit(limit)
	for _, task := range tasks {
		g.Go(func() error {
			return guard(task)
		})
	}
	return g.Wait()
}

// Each runs action for every element of items concurrently, bounded by limit.
func Each[T any](limit int, items []T, action func(T) error) error {
	tasks := make([]func() error, len(items))
	for i, item := range items {
		tasks[i] = func() error {
			return action(item)
		}
	}
	return All(limit, tasks...)
}

func guard(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("concurrent: task panicked: %v", r)
		}
	}()
	return task()
}

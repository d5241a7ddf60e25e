package workers

import (
	"runtime/debug"
	"sync"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

// Run calls task once for every item with at most limit calls in flight and
// returns when all of them have finished. A limit below 1 is treated as 1.
//
// Items are claimed from a shared queue in order; completion order is not
// defined. An error returned by task, or a panic inside it, ends that item
// only: it is logged and the remaining items still run. Outcomes are reported
// through whatever side effects task performs.
func Run[T any](items []T, limit int, task func(T) error) {
	if len(items) == 0 {
		return
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for item := range queue {
				runOne(id, item, task)
			}
		}(i)
	}
	wg.Wait()
}

func runOne[T any](worker int, item T, task func(T) error) {
	metrics.WorkerPoolActive.Inc()
	defer metrics.WorkerPoolActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Worker %d: task panicked: %v\n%s", worker, r, debug.Stack())
		}
	}()

	if err := task(item); err != nil {
		logging.Warn("Worker %d: task failed: %v", worker, err)
	}
}

package util

import (
	"sync"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
)

// ProcessItemsWithThreadPool calls processFunc for every item using at most maxThreadCount goroutines.
// Items not yet started when ctx is done are skipped.
func ProcessItemsWithThreadPool[K any](ctx *mrcontext.Context, maxThreadCount int, itemsToProcess []K, processFunc func(K)) {
	wg := &sync.WaitGroup{}
	processChannel := make(chan K)

	threads := maxThreadCount
	if len(itemsToProcess) < threads {
		threads = len(itemsToProcess)
	}
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go poolWorker(ctx, wg, processChannel, processFunc)
	}

	for _, item := range itemsToProcess {
		processChannel <- item
	}

	close(processChannel)
	wg.Wait()
}

func poolWorker[K any](ctx *mrcontext.Context, wg *sync.WaitGroup, items chan K, processFunc func(K)) {
	defer wg.Done()

	for item := range items {
		if ctx.Err() != nil {
			continue
		}
		processFunc(item)
	}
}

package media

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// forEach calls fn(i) for i in [0, n) on at most workers goroutines and
// waits for all of them. A panicking call is logged and skipped.
func forEach(ctx context.Context, workers, n int, fn func(i int)) {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Ctx(ctx).Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("media worker recovered")
						}
					}()
					fn(i)
				}()
			}
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

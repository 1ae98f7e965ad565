package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var errNotDone = errors.New("future has not completed")

// Future is the handle to the eventual outcome of a submitted task.
type Future struct {
	id   string
	key  string
	done chan struct{}
	once sync.Once

	value interface{}
	err   error
}

func newFuture(id, key string) *Future {
	return &Future{
		id:   id,
		key:  key,
		done: make(chan struct{}),
	}
}

func (f *Future) ID() string {
	return f.id
}

// Key is the caller supplied identity of the task, e.g. the key of a leaf sample.
func (f *Future) Key() string {
	return f.key
}

// Done is closed once the task has completed, successfully or not.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task has completed or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a completed task without blocking.
func (f *Future) Result() (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, errNotDone
	}
}

// complete resolves the future.  Only the first call has any effect; it reports whether it was that call.
func (f *Future) complete(value interface{}, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

// AsCompleted returns a channel yielding the given futures in the order they complete.
// The channel is closed once every future has been yielded or ctx is done.
func AsCompleted(ctx context.Context, futures []*Future) <-chan *Future {
	out := make(chan *Future, len(futures))
	wg := &sync.WaitGroup{}
	wg.Add(len(futures))
	for _, f := range futures {
		go func(f *Future) {
			defer wg.Done()
			select {
			case <-f.done:
				out <- f
			case <-ctx.Done():
			}
		}(f)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

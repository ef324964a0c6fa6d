package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// inFlightFetch is a single upstream fetch that several callers may wait for.
// result and err are written before done is closed and read only after.
type inFlightFetch struct {
	done   chan struct{}
	result models.Bundle
	err    error
	refs   int
	cancel context.CancelFunc
}

// requestCoalescer runs at most one fetch per key at a time. The shared fetch keeps the first
// caller's context values but not its cancellation; it is cancelled once every waiter has left.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// Do returns the result of the in-flight fetch for key, starting fn if none is running.
// shared reports whether the caller joined a fetch started by someone else.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.Bundle, error)) (result models.Bundle, shared bool, err error) {
	rc.mu.Lock()
	f, shared := rc.inFlight[key]
	if !shared {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		f = &inFlightFetch{done: make(chan struct{}), cancel: cancel}
		rc.inFlight[key] = f
		go rc.run(fetchCtx, key, f, fn)
	}
	f.refs++
	rc.mu.Unlock()

	select {
	case <-f.done:
		return f.result, shared, f.err
	case <-ctx.Done():
		rc.leave(key, f)
		return models.Bundle{}, shared, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, f *inFlightFetch, fn func(context.Context) (models.Bundle, error)) {
	defer f.cancel()
	result, err := fn(ctx)

	rc.mu.Lock()
	f.result, f.err = result, err
	if rc.inFlight[key] == f {
		delete(rc.inFlight, key)
	}
	rc.mu.Unlock()
	close(f.done)
}

// leave drops one waiter; the last one out cancels the fetch.
func (rc *requestCoalescer) leave(key string, f *inFlightFetch) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if rc.inFlight[key] == f {
		delete(rc.inFlight, key)
	}
}

func (rc *requestCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}

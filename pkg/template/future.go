package template

import (
	"context"
	"sync"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Future is the pending result of an asynchronous send. It completes once.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *messaging.SendResult
	err    error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// CompletedFuture returns a future that is already resolved.
func CompletedFuture(res *messaging.SendResult, err error) *Future {
	f := NewFuture()
	f.Complete(res, err)
	return f
}

// Complete resolves the future. Later calls are ignored.
func (f *Future) Complete(res *messaging.SendResult, err error) {
	f.once.Do(func() {
		f.result, f.err = res, err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result or for ctx to end.
func (f *Future) Get(ctx context.Context) (*messaging.SendResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

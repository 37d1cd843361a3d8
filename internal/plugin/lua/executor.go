package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultQueueSize is the executor queue capacity when none is given.
const DefaultQueueSize = 100

type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all Lua operations through a single goroutine.
//
// gopher-lua's LState is NOT goroutine-safe. Host events such as CoT
// dispatch and toolbar taps arrive on arbitrary goroutines; the Executor
// marshals them onto the one worker that owns the state.
//
// Usage:
//
//	exec := NewExecutor(state, 0)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    L.Push(handler)
//	    return L.PCall(0, 0, nil)
//	})
type Executor struct {
	state  *State
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}

	// OnAsyncError receives errors from ExecuteAsync calls. Optional.
	OnAsyncError func(error)

	closeOnce sync.Once
}

// NewExecutor creates an Executor for state. Every call runs under the
// state's execution deadline.
func NewExecutor(state *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		state: state,
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued operations until ctx is cancelled or Close is
// called. The goroutine calling Run owns the Lua state.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx.Err())
			return
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.execute(ctx, c)
			close(c.result)
		}
	}
}

func (e *Executor) execute(ctx context.Context, c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	if e.state.IsClosed() {
		return ErrStateClosed
	}
	L := e.state.LuaState()
	return e.state.Run(ctx, func() error {
		return c.fn(L)
	})
}

func (e *Executor) drainQueue(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor goroutine and waits for it.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		// Already queued; it still runs, we just stop waiting.
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues fn without waiting. A full queue drops the call and
// returns ErrQueueFull. Errors from fn go to OnAsyncError.
func (e *Executor) ExecuteAsync(fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		go func() {
			if err := <-c.result; err != nil && e.OnAsyncError != nil && !errors.Is(err, ErrExecutorClosed) {
				e.OnAsyncError(err)
			}
		}()
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued operations.
func (e *Executor) Pending() int {
	return len(e.queue)
}

// Close stops the executor. Queued operations complete with
// ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}

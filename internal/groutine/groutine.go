package groutine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// ErrPanic wraps the error of a Task whose function panicked.
var ErrPanic = errors.New("panic")

// Go starts a goroutine with a name attached as a pprof label and context value.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// Task is a named goroutine whose result can be awaited.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Start runs fn in a named goroutine and returns a handle to its completion.
// A panic inside fn is converted into the task error.
func Start(parentCtx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	Go(parentCtx, name, func(ctx context.Context) {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task %s: %w: %v\n%s", name, ErrPanic, r, debug.Stack())
			}
		}()
		t.err = fn(ctx)
	})
	return t
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Done is closed when the task function returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result. Only valid after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

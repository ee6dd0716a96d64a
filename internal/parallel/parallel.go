// Package parallel runs independent operations on a bounded worker pool.
//
// Run never cancels an operation and never lets one operation's failure
// affect another: every operation gets an Outcome holding either its value
// or the error (or recovered panic) it produced. Callers inspect each entry.
package parallel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxWorkers is the pool width used when Run is given a non-positive width
const DefaultMaxWorkers = 2

// Operation is a named unit of independent work
type Operation[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// Outcome holds what one operation produced
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the operation completed without error
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// PanicError is the error recorded for an operation that panicked
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", e.Name, e.Value)
}

// Run executes ops with at most maxWorkers running at once and blocks until all finish.
// The returned map has one entry per operation. Repeated names get a "#N" suffix
// (the second "lint" becomes "lint#2") so no result is lost.
func Run[T any](ctx context.Context, ops []Operation[T], maxWorkers int) map[string]Outcome[T] {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	results := make(map[string]Outcome[T], len(ops))
	if len(ops) == 0 {
		return results
	}

	names := uniqueNames(ops)
	outcomes := make([]Outcome[T], len(ops))

	// Acquire ignores cancellation: fan-in always waits for every operation.
	sem := semaphore.NewWeighted(int64(maxWorkers))
	acquireCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, op := range ops {
		if err := sem.Acquire(acquireCtx, 1); err != nil {
			outcomes[i] = Outcome[T]{Err: fmt.Errorf("cannot schedule %s: %w", names[i], err)}
			continue
		}
		wg.Add(1)
		go func(i int, op Operation[T]) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = call(ctx, names[i], op.Fn)
		}(i, op)
	}
	wg.Wait()

	for i, name := range names {
		results[name] = outcomes[i]
	}
	return results
}

// call runs fn, converting a panic into a PanicError outcome
func call[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome[T]{Err: &PanicError{Name: name, Value: r, Stack: debug.Stack()}}
		}
	}()
	if fn == nil {
		return Outcome[T]{Err: fmt.Errorf("operation %s has no function", name)}
	}
	v, err := fn(ctx)
	return Outcome[T]{Value: v, Err: err}
}

func uniqueNames[T any](ops []Operation[T]) []string {
	names := make([]string, len(ops))
	seen := make(map[string]int, len(ops))
	for i, op := range ops {
		seen[op.Name]++
		if n := seen[op.Name]; n > 1 {
			names[i] = fmt.Sprintf("%s#%d", op.Name, n)
			continue
		}
		names[i] = op.Name
	}
	return names
}

package statez

import (
	"context"

	"github.com/zoobzio/pipz"
)

// stepPlugin is a plugin whose commit hook is a ready-made pipz processor.
type stepPlugin[T any] struct {
	name string
	step pipz.Chainable[Commit[T]]
}

func (p *stepPlugin[T]) Name() string { return p.name }

func (p *stepPlugin[T]) processor() pipz.Chainable[Commit[T]] { return p.step }

// OnCommit runs the step on its own, outside of a store.
func (p *stepPlugin[T]) OnCommit(ctx context.Context, c Commit[T]) (T, error) {
	out, err := p.step.Process(ctx, c)
	if err != nil {
		return c.Previous, err
	}
	return out.Next, nil
}

// Apply creates a plugin whose commit hook can transform the proposed value
// or veto it by returning an error.
//
// Example:
//
//	clamp := statez.Apply[int]("clamp", func(_ context.Context, c statez.Commit[int]) (int, error) {
//	    return min(c.Next, 100), nil
//	})
func Apply[T any](name string, fn func(context.Context, Commit[T]) (T, error)) Plugin[T] {
	step := pipz.Apply(pipz.NewIdentity(name, "Commit transform"), func(ctx context.Context, c Commit[T]) (Commit[T], error) {
		next, err := fn(ctx, c)
		if err != nil {
			return c, err
		}
		c.Next = next
		return c, nil
	})
	return &stepPlugin[T]{name: name, step: step}
}

// Effect creates a plugin whose commit hook performs a side effect and
// passes the value through unchanged. A returned error vetoes the commit.
func Effect[T any](name string, fn func(context.Context, Commit[T]) error) Plugin[T] {
	return &stepPlugin[T]{name: name, step: pipz.Effect(pipz.NewIdentity(name, "Commit effect"), fn)}
}

type observePlugin[T any] struct {
	name string
	fn   func(context.Context, Commit[T])
}

func (p *observePlugin[T]) Name() string { return p.name }

func (p *observePlugin[T]) OnCommitted(ctx context.Context, c Commit[T]) {
	p.fn(ctx, c)
}

// Observe creates a plugin notified after every applied commit.
func Observe[T any](name string, fn func(context.Context, Commit[T])) Plugin[T] {
	return &observePlugin[T]{name: name, fn: fn}
}

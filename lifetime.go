// Package lifetimes implements hierarchical cancellation scopes that own the
// cleanup of the resources created under them.
//
// A Definition is held by the owner of a scope and is the only handle that
// can terminate it. Collaborators get the narrower Lifetime view: they can
// check whether the scope is still alive, run code only while it is
// (ExecuteIfAlive), register termination actions, and create nested scopes.
//
// Termination proceeds in four one-way steps: the whole subtree is marked
// Canceled so no new guarded code can start, guarded sections already running
// on other goroutines are drained (bounded by a timeout), then resources are
// disposed in reverse order of registration, children included.
//
// The state machine, execution counter and resource lock of a lifetime are
// packed into one atomic word. No mutex is taken on any path.
package lifetimes

import (
	"context"
	"io"
)

// Lifetime is the read-only view of a Definition. It can't terminate the
// scope it describes.
type Lifetime interface {
	Status() Status
	IsAlive() bool
	IsEternal() bool
	ID() string
	TimeoutKind() TimeoutKind

	// ExecuteIfAlive runs action only while the lifetime is alive. It
	// reports whether action ran.
	ExecuteIfAlive(ctx context.Context, action func(ctx context.Context)) bool

	// OnTerminationIfAlive registers action and reports whether it will run.
	// It fails once termination has started disposing resources.
	OnTerminationIfAlive(action func()) bool
	OnTerminationIfAliveCloser(c io.Closer) bool

	// OnTermination registers action. If the lifetime is already terminating
	// action runs immediately and OnTermination panics with ErrNotAlive.
	OnTermination(action func())
	OnTerminationCloser(c io.Closer)

	KeepAlive(obj any)
	CreateNested() *Definition
	Context() context.Context
	WaitTermination()
	String() string

	definition() *Definition
}

// Eternal returns the lifetime that is never terminated. Resources registered
// on it are accepted and never invoked.
func Eternal() Lifetime { return eternal }

// TerminatedLifetime returns a lifetime that is already Terminated.
func TerminatedLifetime() Lifetime { return terminated }

// Using runs block with a fresh lifetime and terminates it when block returns
// or panics.
func Using(block func(lt Lifetime)) {
	def := NewDefinition()
	defer def.Terminate()
	block(def)
}

// UsingNested is Using for a child of parent.
func UsingNested(parent Lifetime, block func(lt Lifetime)) {
	def := CreateNested(parent)
	defer def.Terminate()
	block(def)
}

// Execute runs fn inside lt's guard and returns its result. ok is false, and
// res the zero value, when lt is not alive.
func Execute[T any](lt Lifetime, ctx context.Context, fn func(ctx context.Context) T) (res T, ok bool) {
	ok = lt.ExecuteIfAlive(ctx, func(ctx context.Context) { res = fn(ctx) })
	return res, ok
}

// ExecuteOrErr is Execute reporting a dead lifetime as ErrCanceled.
func ExecuteOrErr[T any](lt Lifetime, ctx context.Context, fn func(ctx context.Context) T) (T, error) {
	res, ok := Execute(lt, ctx, fn)
	if !ok {
		return res, errorf(ErrCanceled, lt)
	}
	return res, nil
}

// Bracket runs open inside lt's guard and, within the same guarded section,
// registers onClose for the opened value. Either both happen or neither does.
// If the lifetime was terminated from inside open, onClose runs right away.
func Bracket[T any](lt Lifetime, ctx context.Context, open func(ctx context.Context) T, onClose func(T)) (T, bool) {
	d := lt.definition()
	return Execute(lt, ctx, func(ctx context.Context) T {
		v := open(ctx)
		if !d.tryAdd(actionResource(func() { onClose(v) })) {
			onClose(v)
		}
		return v
	})
}

// BracketOrErr is Bracket reporting a dead lifetime as ErrCanceled.
func BracketOrErr[T any](lt Lifetime, ctx context.Context, open func(ctx context.Context) T, onClose func(T)) (T, error) {
	res, ok := Bracket(lt, ctx, open, onClose)
	if !ok {
		return res, errorf(ErrCanceled, lt)
	}
	return res, nil
}

package lifetimes

import (
	"context"

	"go.uber.org/atomic"
)

// SequentialLifetimes keeps at most one live child of a parent lifetime.
// Each Next replaces the current child and terminates the previous one,
// which fits "cancel whatever the previous event started" workflows.
//
// Concurrent Next calls are not linearizable: two callers may both terminate
// the same previous child while one of the new children stays current.
type SequentialLifetimes struct {
	parent  Lifetime
	current atomic.Pointer[Definition]
}

func NewSequentialLifetimes(parent Lifetime) *SequentialLifetimes {
	s := &SequentialLifetimes{parent: parent}
	s.current.Store(terminated)
	return s
}

// Next terminates the current child and returns a new one.
func (s *SequentialLifetimes) Next() *Definition {
	next := CreateNested(s.parent)
	s.setCurrent(next)
	return next
}

// DefineNext is Next followed by atomicAction inside the new child's guard.
// If atomicAction panics the child is terminated before the panic continues.
func (s *SequentialLifetimes) DefineNext(atomicAction func(def *Definition, lt Lifetime)) *Definition {
	next := s.Next()
	func() {
		defer func() {
			if p := recover(); p != nil {
				next.Terminate()
				panic(p)
			}
		}()
		next.ExecuteIfAlive(context.Background(), func(context.Context) { atomicAction(next, next) })
	}()
	return next
}

// TerminateCurrent terminates the current child without creating a new one.
func (s *SequentialLifetimes) TerminateCurrent() {
	s.setCurrent(terminated)
}

// IsTerminated reports whether there is no live current child.
func (s *SequentialLifetimes) IsTerminated() bool {
	return !s.current.Load().IsAlive() || !s.parent.IsAlive()
}

func (s *SequentialLifetimes) setCurrent(next *Definition) {
	prev := s.current.Swap(next)
	// Next may be called from a guarded section of the previous child
	prev.TerminateUnderExecution()
}

package lifetimes

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// AnonymousID is printed for definitions without an id.
const AnonymousID = "Anonymous"

// Definition owns a lifetime: it is the only party allowed to terminate it.
// Collaborators should receive the Lifetime view instead.
//
// The zero value is not usable; create definitions with NewDefinition or
// CreateNested.
type Definition struct {
	state atomic.Uint32

	// resources is guarded by the mutating bit of state while status is
	// below Terminating, and owned by the terminating goroutine after that.
	resources []resource
	resCount  atomic.Int32

	id     atomic.String
	cancel atomic.Pointer[contextHolder]
}

var (
	eternal    = newDefinition("Eternal")
	terminated = newDefinition("Terminated")
)

func init() {
	terminated.Terminate()
}

func newDefinition(id string) *Definition {
	d := &Definition{}
	if id != "" {
		d.id.Store(id)
	}
	return d
}

// NewDefinition creates a root lifetime that is terminated only by an
// explicit Terminate.
func NewDefinition() *Definition {
	return newDefinition("")
}

// CreateNested creates a child of parent. The child inherits the parent's
// timeout kind and is terminated no later than the parent. If parent is
// already terminating, the returned child is already terminated.
func CreateNested(parent Lifetime) *Definition {
	child := NewDefinition()
	p := parent.definition()
	child.SetTimeoutKind(p.TimeoutKind())
	p.attach(child)
	return child
}

// DefineNested creates a child of parent and runs atomicAction inside the
// child's guard. If atomicAction panics the child is terminated before the
// panic continues.
func DefineNested(parent Lifetime, atomicAction func(def *Definition)) *Definition {
	nested := CreateNested(parent)
	func() {
		defer func() {
			if p := recover(); p != nil {
				nested.Terminate()
				panic(p)
			}
		}()
		nested.ExecuteIfAlive(context.Background(), func(context.Context) { atomicAction(nested) })
	}()
	return nested
}

// Lifetime returns the read-only view of d.
func (d *Definition) Lifetime() Lifetime { return d }

func (d *Definition) definition() *Definition { return d }

func (d *Definition) Status() Status { return statusOf(d.state.Load()) }

func (d *Definition) IsAlive() bool { return d.Status() == Alive }

func (d *Definition) IsEternal() bool { return d == eternal }

// ExecutingCount is the number of guarded sections currently running.
func (d *Definition) ExecutingCount() int { return int(executingOf(d.state.Load())) }

func (d *Definition) ID() string { return d.id.Load() }

// SetID names the definition in logs and String.
func (d *Definition) SetID(id string) { d.id.Store(id) }

func (d *Definition) TimeoutKind() TimeoutKind {
	return TimeoutKind(timeoutKindSlice.Get(d.state.Load()))
}

// SetTimeoutKind changes how long Terminate waits for guarded sections.
// Children created afterwards inherit the new kind; existing ones don't.
func (d *Definition) SetTimeoutKind(kind TimeoutKind) {
	timeoutKindSlice.AtomicUpdate(&d.state, uint32(kind))
}

func (d *Definition) AllowTerminationUnderExecution() bool {
	return allowTerminationUnderExecutionSlice.Bool(d.state.Load())
}

// SetAllowTerminationUnderExecution makes every Terminate behave as if it
// were called with allowFromInsideGuard.
func (d *Definition) SetAllowTerminationUnderExecution(allow bool) {
	allowTerminationUnderExecutionSlice.AtomicUpdateBool(&d.state, allow)
}

func (d *Definition) String() string {
	id := d.ID()
	if id == "" {
		id = AnonymousID
	}
	s := d.state.Load()
	return fmt.Sprintf("Lifetime `%s` [%s, executing=%d, resources=%d]", id, statusOf(s), executingOf(s), d.resCount.Load())
}

// ExecuteIfAlive runs action only if d is alive, and keeps d from reaching
// Terminating until action returns. ctx is handed to action unchanged.
// Panics raised by action propagate to the caller.
func (d *Definition) ExecuteIfAlive(ctx context.Context, action func(ctx context.Context)) bool {
	if !d.tryIncrementExecuting() {
		return false
	}
	enterSection(d)
	defer func() {
		exitSection(d)
		d.decrementExecuting()
	}()

	action(ctx)
	return true
}

func (d *Definition) OnTerminationIfAlive(action func()) bool {
	return d.tryAdd(actionResource(action))
}

func (d *Definition) OnTerminationIfAliveCloser(c io.Closer) bool {
	return d.tryAdd(closerResource(c))
}

func (d *Definition) OnTermination(action func()) {
	d.onTermination(actionResource(action))
}

func (d *Definition) OnTerminationCloser(c io.Closer) {
	d.onTermination(closerResource(c))
}

// KeepAlive keeps obj reachable until d terminates.
func (d *Definition) KeepAlive(obj any) {
	d.OnTermination(func() { runtime.KeepAlive(obj) })
}

func (d *Definition) CreateNested() *Definition { return CreateNested(d) }

// WaitTermination blocks until d is Terminated.
func (d *Definition) WaitTermination() {
	spinUntil(-1, func() bool { return d.Status() == Terminated })
}

func (d *Definition) onTermination(r resource) {
	if d.tryAdd(r) {
		return
	}

	if err := r.dispose(func(child *Definition) { child.Terminate() }); err != nil {
		logger().Errorw("termination action failed on synchronous execution",
			"lifetime", d.String(), "resource", r.kind.String(), "error", err)
	}
	panic(errors.Wrapf(ErrNotAlive, "%v", d))
}

func (d *Definition) tryAdd(r resource) bool {
	// anything can be added to Eternal, it just never runs
	if d == eternal {
		return true
	}

	added := d.underMutexIf(func(s Status) bool { return s < Terminating }, func() {
		if len(d.resources) > 0 && len(d.resources) == cap(d.resources) {
			d.compactResources()
		}
		d.resources = append(d.resources, r)
		d.resCount.Store(int32(len(d.resources)))
	})

	// a child attached to a canceled parent must not start new sections
	if added && r.kind == kindChild && !d.IsAlive() {
		r.def.markCanceledRecursively()
	}
	return added
}

// compactResources drops children that have fully terminated. It runs only
// when the slice is about to grow, which keeps pruning amortized O(1) for
// churn patterns the tail heuristic can't catch.
func (d *Definition) compactResources() {
	kept := d.resources[:0]
	for _, r := range d.resources {
		if r.kind == kindChild && r.def.Status() == Terminated {
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(d.resources); i++ {
		d.resources[i] = resource{}
	}
	d.resources = kept
}

func (d *Definition) attach(child *Definition) {
	if child == eternal {
		panic(errors.Wrapf(ErrAttachEternal, "%v", d))
	}
	if !child.IsAlive() {
		return
	}

	if d != eternal && !child.tryAdd(clearMarkerResource(d)) {
		return
	}
	if !d.tryAdd(childResource(child)) {
		child.Terminate()
	}
}

// clearObsoleteAttachedLifetimes removes trailing children that are already
// terminating. It stops at the first entry that is anything else.
func (d *Definition) clearObsoleteAttachedLifetimes() {
	// no point in pruning what is about to be disposed
	d.underMutexIf(func(s Status) bool { return s == Alive }, func() {
		i := len(d.resources)
		for i > 0 && d.resources[i-1].isDeadChild() {
			i--
			d.resources[i] = resource{}
		}
		d.resources = d.resources[:i]
		d.resCount.Store(int32(i))
	})
}

// markCanceledRecursively moves d and every attached descendant out of Alive
// so no new guarded section can start anywhere in the subtree.
func (d *Definition) markCanceledRecursively() bool {
	if d == eternal {
		panic(errors.Wrapf(ErrEternalMutation, "%v", d))
	}

	if !d.incrementStatusIfEqualTo(Alive) {
		return false
	}
	d.cancelContext()

	// a parallel goroutine may already be destructuring
	d.underMutexIf(func(s Status) bool { return s < Terminating }, func() {
		for i := len(d.resources) - 1; i >= 0; i-- {
			if r := d.resources[i]; r.kind == kindChild {
				r.def.markCanceledRecursively()
			}
		}
	})
	return true
}

// Terminate cancels d and its subtree, waits for guarded sections running on
// other goroutines, then disposes resources in reverse order of registration.
// It reports whether this call performed the disposal; every other concurrent
// or later call returns false.
//
// Calling Terminate from inside a guarded section of d panics with
// ErrTerminateUnderExecution unless SetAllowTerminationUnderExecution is on.
func (d *Definition) Terminate() bool {
	return d.terminate(false)
}

// TerminateUnderExecution is Terminate that may be called from inside guarded
// sections of d or of its subtree. Sections opened by the calling goroutine
// are not waited for.
func (d *Definition) TerminateUnderExecution() bool {
	return d.terminate(true)
}

func (d *Definition) terminate(allowFromInsideGuard bool) bool {
	if d == eternal {
		return false
	}

	own := executingHere(d)
	if own > 0 && !allowFromInsideGuard && !d.AllowTerminationUnderExecution() {
		panic(errors.Wrapf(ErrTerminateUnderExecution, "%v", d))
	}

	d.markCanceledRecursively()

	timeout := TerminationTimeout(d.TimeoutKind())
	if !spinUntil(timeout, func() bool { return executingOf(d.state.Load()) <= own }) {
		logger().Warnw("can't wait for guarded sections on other goroutines to complete; keep terminating",
			"lifetime", d.String(), "timeout", timeout)
		logErrorAfterExecutionSlice.AtomicUpdateBool(&d.state, true)
	}

	// already terminated by someone else
	if !d.incrementStatusIfEqualTo(Canceled) {
		return false
	}

	// no one can take the mutating bit from now on; wait for the current owner
	spinUntil(-1, func() bool { return !mutexSlice.Bool(d.state.Load()) })

	d.destruct(allowFromInsideGuard)
	return true
}

func (d *Definition) destruct(allowFromInsideGuard bool) {
	s := d.state.Load()
	if statusOf(s) != Terminating || mutexSlice.Bool(s) {
		panic(errors.Wrapf(ErrBadStatus, "%v: bad state for destructuring start", d))
	}

	terminateChild := func(child *Definition) { child.terminate(allowFromInsideGuard) }

	for i := len(d.resources) - 1; i >= 0; i-- {
		r := d.resources[i]
		if err := r.dispose(terminateChild); err != nil {
			logger().Errorw("exception on termination of resource",
				"lifetime", d.String(), "resource", r.kind.String(), "error", err)
		}
		d.resources[i] = resource{}
		d.resources = d.resources[:i]
		d.resCount.Store(int32(i))
	}
	d.resources = nil

	if !d.incrementStatusIfEqualTo(Terminating) {
		panic(errors.Wrapf(ErrBadStatus, "%v: bad state for destructuring finish", d))
	}
}

package lifetimes

import (
	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes/internal/bitslice"
)

// Layout of Definition.state. Every field lives in one uint32 so that all
// decisions are made on a single consistent snapshot and published with a
// single CAS.
var (
	executingSlice                      = bitslice.Int(20)
	statusSlice                         = bitslice.Enum(uint32(statusCount), executingSlice)
	mutexSlice                          = bitslice.Bool(statusSlice)
	logErrorAfterExecutionSlice         = bitslice.Bool(mutexSlice)
	timeoutKindSlice                    = bitslice.Enum(uint32(timeoutKindCount), logErrorAfterExecutionSlice)
	allowTerminationUnderExecutionSlice = bitslice.Bool(timeoutKindSlice)
)

func statusOf(s uint32) Status { return Status(statusSlice.Get(s)) }

func executingOf(s uint32) uint32 { return executingSlice.Get(s) }

// incrementStatusIfEqualTo advances the status by exactly one step if it is
// still expected. It reports false when another goroutine got there first.
func (d *Definition) incrementStatusIfEqualTo(expected Status) bool {
	if d == eternal {
		panic(errors.Wrapf(ErrEternalMutation, "%v", d))
	}

	for {
		s := d.state.Load()
		if statusOf(s) != expected {
			return false
		}
		if d.state.CompareAndSwap(s, statusSlice.Updated(s, uint32(expected)+1)) {
			return true
		}
	}
}

func (d *Definition) tryIncrementExecuting() bool {
	for {
		s := d.state.Load()
		if statusOf(s) != Alive {
			return false
		}
		n := executingOf(s)
		if n == executingSlice.Max() {
			panic(errors.Errorf("%v: too many guarded sections (%d)", d, n))
		}
		if d.state.CompareAndSwap(s, executingSlice.Updated(s, n+1)) {
			return true
		}
	}
}

func (d *Definition) decrementExecuting() {
	// executing occupies the lowest bits and is > 0 here, so no borrow
	// reaches the neighbouring fields
	s := d.state.Dec()

	if logErrorAfterExecutionSlice.Bool(s) {
		logger().Errorw("guarded section finished after the lifetime gave up waiting for it",
			"lifetime", d.String(),
			"timeout", TerminationTimeout(d.TimeoutKind()),
		)
	}
}

// underMutexIf runs action while holding the mutating bit, acquired only if
// allowed holds for the current state. It reports whether action ran.
func (d *Definition) underMutexIf(allowed func(Status) bool, action func()) bool {
	for {
		s := d.state.Load()
		if !allowed(statusOf(s)) {
			return false
		}
		if mutexSlice.Bool(s) {
			spinOnce()
			continue
		}
		if d.state.CompareAndSwap(s, mutexSlice.UpdatedBool(s, true)) {
			break
		}
	}

	defer func() {
		for {
			s := d.state.Load()
			if !mutexSlice.Bool(s) {
				panic(errors.Wrapf(ErrBadStatus, "%v: mutating bit released twice", d))
			}
			if d.state.CompareAndSwap(s, mutexSlice.UpdatedBool(s, false)) {
				return
			}
		}
	}()

	action()
	return true
}

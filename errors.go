package lifetimes

import "github.com/pkg/errors"

var (
	// ErrCanceled is returned by the *OrErr helpers when the lifetime is not
	// alive and the action didn't run.
	ErrCanceled = errors.New("lifetime is not alive")

	// ErrNotAlive is the panic value of OnTermination on a lifetime that is
	// already terminating.
	ErrNotAlive = errors.New("can't add termination action if lifetime is terminating or terminated; consider OnTerminationIfAlive")

	// ErrTerminateUnderExecution is the panic value of a termination requested
	// from inside one of the lifetime's own guarded sections without opt-in.
	ErrTerminateUnderExecution = errors.New("can't terminate lifetime under ExecuteIfAlive; use TerminateUnderExecution")

	ErrAttachEternal   = errors.New("can't attach eternal lifetime")
	ErrEternalMutation = errors.New("trying to change eternal lifetime")
	ErrBadStatus       = errors.New("bad lifetime status")
)

func errorf(sentinel error, lt Lifetime) error {
	return errors.Wrapf(sentinel, "%v", lt)
}

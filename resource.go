package lifetimes

//go:generate mockgen -destination=internal/mocks/mock_closer.go -package=mocks io Closer

import (
	"io"

	"github.com/pkg/errors"
)

type resourceKind uint8

const (
	kindAction resourceKind = iota
	kindCloser
	kindChild
	kindClearMarker
)

func (k resourceKind) String() string {
	switch k {
	case kindAction:
		return "action"
	case kindCloser:
		return "closer"
	case kindChild:
		return "child"
	case kindClearMarker:
		return "clear-marker"
	}
	return "unknown"
}

// resource is one pending termination action. def is the child for
// kindChild and the parent to prune for kindClearMarker.
type resource struct {
	kind   resourceKind
	action func()
	closer io.Closer
	def    *Definition
}

func actionResource(action func()) resource { return resource{kind: kindAction, action: action} }

func closerResource(c io.Closer) resource { return resource{kind: kindCloser, closer: c} }

func childResource(child *Definition) resource { return resource{kind: kindChild, def: child} }

func clearMarkerResource(parent *Definition) resource {
	return resource{kind: kindClearMarker, def: parent}
}

// isDeadChild reports whether r is an attached child that has started
// disposing its own resources.
func (r resource) isDeadChild() bool {
	return r.kind == kindChild && r.def.Status() >= Terminating
}

// dispose runs the termination action of r. Panics are converted to errors so
// one failing resource never stops the rest of the stack from draining.
func (r resource) dispose(terminateChild func(*Definition)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = errors.Wrap(e, "panic")
			} else {
				err = errors.Errorf("panic: %v", p)
			}
		}
	}()

	switch r.kind {
	case kindAction:
		r.action()
	case kindCloser:
		return errors.Wrap(r.closer.Close(), "close")
	case kindChild:
		terminateChild(r.def)
	case kindClearMarker:
		r.def.clearObsoleteAttachedLifetimes()
	default:
		return errors.Errorf("unknown termination resource kind %d", r.kind)
	}
	return nil
}

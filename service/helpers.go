package service

import (
	"context"
	defaultErr "errors"
	"net"

	"github.com/pkg/errors"
)

// Server is anything serving a listener until stopped, e.g. *grpc.Server or
// an adapter around *http.Server.
type Server interface {
	Serve(lis net.Listener) error
	Stop()
}

// ServerAsTask serves lis from a process spawned from parent. Stopping the
// task stops srv, and the listener is closed when the process dies, so Serve
// never blocks on a listener nobody will close.
func ServerAsTask(name string, parent Process, srv Server, lis net.Listener) Task {
	proc := parent.Spawn()
	proc.Lifetime().OnTerminationCloser(listenerCloser{lis})

	return &funcTask{
		name: name,
		proc: proc,
		body: func(Process) error {
			return errors.Wrap(ignoreClosed(srv.Serve(lis)), "error serving")
		},
		stop: func(context.Context) error {
			srv.Stop()
			return nil
		},
	}
}

// listenerCloser reports only errors other than closing an already closed
// listener.
type listenerCloser struct {
	lis net.Listener
}

func (c listenerCloser) Close() error {
	return errors.Wrap(ignoreClosed(c.lis.Close()), "error stopping listener")
}

func ignoreClosed(err error) error {
	if defaultErr.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

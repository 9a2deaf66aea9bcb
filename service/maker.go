package service

import (
	"context"
)

// MakeTask adapts a pair of functions to Task.
func MakeTask(name string, start func() error, stop func(ctx context.Context) error) Task {
	return &funcTask{name: name, start: start, stop: stop}
}

// MakeProcessTask runs body with a Process spawned from parent. The task is
// stopped by killing the process and waiting until it is deceased.
func MakeProcessTask(name string, parent Process, body func(p Process) error) Task {
	return &funcTask{name: name, proc: parent.Spawn(), body: body}
}

// funcTask is a Task made of functions, optionally living in its own Process.
// With a process, Start runs body and kills the process when body returns,
// and Stop runs stop (if any) before killing the process and waiting for it.
type funcTask struct {
	name  string
	proc  Process
	start func() error
	body  func(p Process) error
	stop  func(ctx context.Context) error
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) Start() error {
	if t.proc == nil {
		return t.start()
	}
	defer t.proc.Die()
	return t.body(t.proc)
}

func (t *funcTask) Stop(ctx context.Context) error {
	if t.stop != nil {
		if err := t.stop(ctx); err != nil {
			return err
		}
	}
	if t.proc == nil {
		return nil
	}
	return DefaultStopWithProcess(ctx, t.proc)
}

// DefaultStopWithProcess kills process and waits until its resources are
// disposed or ctx is done.
func DefaultStopWithProcess(ctx context.Context, process Process) error {
	go process.Die()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-process.Deceased():
	}
	return nil
}

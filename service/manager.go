package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrManagerTerminated = errors.New("manager lifetime is already terminated")

// Manager starts tasks under one lifetime. Each task's Stop is registered as
// a termination action of that lifetime, so tasks are stopped in reverse
// order of registration as soon as the lifetime terminates: because a task
// returned, a signal arrived, the parent lifetime died or Shutdown was called.
type Manager struct {
	MaxWaitingStop  time.Duration
	underlyingTasks []*underlyingTask
	logger          *zap.SugaredLogger
	def             *lifetimes.Definition
	process         Process
	mainSignal      chan os.Signal
	stopCtx         atomic.Pointer[context.Context]

	mu       sync.Mutex
	stopErrs error
}

func NewManager(parent lifetimes.Lifetime, logger *zap.SugaredLogger, maxWaitStop time.Duration) *Manager {
	def := lifetimes.CreateNested(parent)
	def.SetID("service-manager")
	return &Manager{
		underlyingTasks: []*underlyingTask{},
		logger:          logger,
		MaxWaitingStop:  maxWaitStop,
		def:             def,
		process:         NewProcess(def),
		mainSignal:      make(chan os.Signal, 1),
	}
}

// Lifetime is terminated when the manager shuts down.
func (m *Manager) Lifetime() lifetimes.Lifetime {
	return m.def
}

// Process is a process nested in the manager lifetime, for MakeProcessTask.
func (m *Manager) Process() Process {
	return m.process
}

func (m *Manager) AddTask(tasks ...Task) {
	for _, t := range tasks {
		m.underlyingTasks = append(m.underlyingTasks, &underlyingTask{task: t})
	}
}

func (m *Manager) Run() error {
	stopAll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.MaxWaitingStop)
		defer cancel()
		// no need to return here since all errors will be logged
		_ = m.Shutdown(ctx)
	}

	for _, under := range m.underlyingTasks {
		underTask := under
		localLogger := m.logger.With("task", underTask.task.Name())
		if !m.def.OnTerminationIfAlive(func() { m.stopTask(underTask, localLogger) }) {
			return ErrManagerTerminated
		}
	}

	var allTasks errgroup.Group
	for _, under := range m.underlyingTasks {
		underTask := under
		localLogger := m.logger.With("task", underTask.task.Name())
		allTasks.Go(func() error {
			defer stopAll()

			localLogger.Info("starting task")
			if err := underTask.task.Start(); err != nil {
				localLogger.With("error", err).Error("interrupted")
				return errors.Wrapf(err, "task %s", underTask.task.Name())
			}
			return nil
		})
	}

	allTasks.Go(func() error {
		defer stopAll()
		signal.Notify(m.mainSignal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer signal.Stop(m.mainSignal)
		select {
		case <-m.mainSignal:
			m.logger.Info("external request to stop")
		case <-m.def.Context().Done():
		}
		return nil
	})

	err := allTasks.Wait()
	m.def.WaitTermination()

	m.mu.Lock()
	defer m.mu.Unlock()
	return multierr.Append(err, m.stopErrs)
}

// Shutdown terminates the manager lifetime, stopping every task. The ctx of
// the first call bounds each task's Stop. Every call blocks until all tasks
// are stopped and returns the errors collected while stopping them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopCtx.CompareAndSwap(nil, &ctx)
	if !m.def.Terminate() {
		// the stored ctx may be ours, so keep it alive until the winner is done
		m.def.WaitTermination()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopErrs
}

// stopContext falls back to MaxWaitingStop when the lifetime was terminated
// by its parent rather than by Shutdown.
func (m *Manager) stopContext() (context.Context, context.CancelFunc) {
	if ctx := m.stopCtx.Load(); ctx != nil {
		return *ctx, func() {}
	}
	return context.WithTimeout(context.Background(), m.MaxWaitingStop)
}

func (m *Manager) stopTask(under *underlyingTask, localLogger *zap.SugaredLogger) {
	ctx, cancel := m.stopContext()
	defer cancel()

	localLogger.Info("stopping task")
	if err := under.Shutdown(ctx); err != nil {
		localLogger.With("error", err).Error("error stopping task")
		m.mu.Lock()
		m.stopErrs = multierr.Append(m.stopErrs, errors.Wrapf(err, "stopping task %s", under.task.Name()))
		m.mu.Unlock()
		return
	}
	localLogger.Info("task stopped")
}

type underlyingTask struct {
	task Task
}

// Shutdown stops the task, giving up when ctx is done.
func (u *underlyingTask) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- u.task.Stop(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

package lifetimes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(nil) })
	return logs
}

func withTerminationTimeout(t *testing.T, d time.Duration) {
	prev := TerminationTimeout(TimeoutDefault)
	SetTerminationTimeout(TimeoutDefault, d)
	t.Cleanup(func() { SetTerminationTimeout(TimeoutDefault, prev) })
}

func requirePanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, target)
	}()
	fn()
}

type recorder struct {
	mu  sync.Mutex
	log []int
}

func (r *recorder) add(v int) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.log = append(r.log, v)
	}
}

func (r *recorder) values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.log...)
}

func TestEmptyLifetime(t *testing.T) {
	def := NewDefinition()
	assert.Equal(t, Alive, def.Status())
	assert.True(t, def.Terminate())
	assert.Equal(t, Terminated, def.Status())

	assert.False(t, def.Terminate())
	assert.False(t, def.Terminate())
}

func TestActionsSequence(t *testing.T) {
	var rec recorder
	def := NewDefinition()
	def.OnTermination(rec.add(1))
	def.OnTermination(rec.add(2))
	def.OnTermination(rec.add(3))

	def.Terminate()

	assert.Equal(t, []int{3, 2, 1}, rec.values())
}

func TestBasicTeardown(t *testing.T) {
	var rec recorder
	l := NewDefinition()
	l.OnTermination(rec.add('A'))
	l.OnTermination(rec.add('B'))

	require.True(t, l.Terminate())

	assert.Equal(t, []int{'B', 'A'}, rec.values())
	assert.Equal(t, Terminated, l.Status())
}

func TestNestedLifetime(t *testing.T) {
	var rec recorder
	def := NewDefinition()
	def.OnTermination(rec.add(1))
	def.CreateNested().OnTermination(rec.add(2))
	def.OnTermination(rec.add(3))

	def.Terminate()

	assert.Equal(t, []int{3, 2, 1}, rec.values())
}

func TestNestedAttach(t *testing.T) {
	p := NewDefinition()
	c := p.CreateNested()
	var calls atomic.Int32
	c.OnTermination(func() { calls.Inc() })

	p.Terminate()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Terminated, c.Status())
}

func TestChildOfTerminatedParentIsTerminated(t *testing.T) {
	p := NewDefinition()
	p.Terminate()

	c := CreateNested(p)
	assert.Equal(t, Terminated, c.Status())
}

func TestChildOfCanceledParentIsCanceled(t *testing.T) {
	withTerminationTimeout(t, 10*time.Second)
	p := NewDefinition()

	started := make(chan struct{})
	release := make(chan struct{})
	go p.ExecuteIfAlive(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	terminated := make(chan bool)
	go func() { terminated <- p.Terminate() }()
	require.True(t, spinUntil(5*time.Second, func() bool { return p.Status() == Canceled }))

	c := CreateNested(p)
	assert.Equal(t, Canceled, c.Status())
	assert.False(t, c.ExecuteIfAlive(context.Background(), func(context.Context) {}))

	close(release)
	assert.True(t, <-terminated)
	assert.Equal(t, Terminated, c.Status())
}

func TestTerminationWithAsyncAction(t *testing.T) {
	withTerminationTimeout(t, 10*time.Second)
	var rec recorder
	def := NewDefinition()
	started := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		first := def.ExecuteIfAlive(context.Background(), func(context.Context) {
			rec.add(0)()
			close(started)
			spinUntil(-1, func() bool { return def.Status() == Canceled })
			rec.add(1)()
		})
		second := def.ExecuteIfAlive(context.Background(), func(context.Context) {
			rec.add(2)()
		})
		if !first || second {
			return errors.Errorf("first=%v second=%v", first, second)
		}
		return nil
	})

	def.OnTermination(rec.add(-1))
	<-started
	require.True(t, def.Terminate())
	require.NoError(t, g.Wait())

	assert.Equal(t, []int{0, 1, -1}, rec.values())
}

func TestGuardRace(t *testing.T) {
	logs := observeLogs(t)
	def := NewDefinition()

	var finished atomic.Bool
	started := make(chan struct{})
	go def.ExecuteIfAlive(context.Background(), func(context.Context) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	require.True(t, def.Terminate())
	assert.True(t, finished.Load(), "termination must wait for the running section")
	assert.Equal(t, Terminated, def.Status())
	assert.Zero(t, def.ExecutingCount())
	assert.Zero(t, logs.Len())
}

func TestDrainTimeoutKeepsTerminating(t *testing.T) {
	logs := observeLogs(t)
	withTerminationTimeout(t, 20*time.Millisecond)
	def := NewDefinition()
	var rec recorder
	def.OnTermination(rec.add(1))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		def.ExecuteIfAlive(context.Background(), func(context.Context) {
			close(started)
			<-release
		})
	}()
	<-started

	require.True(t, def.Terminate())
	assert.Equal(t, Terminated, def.Status())
	assert.Equal(t, []int{1}, rec.values())

	warnings := logs.FilterMessageSnippet("can't wait for guarded sections").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)

	close(release)
	<-done
	assert.Equal(t, 1, logs.FilterMessageSnippet("finished after the lifetime gave up").Len())
}

func TestTerminateUnderExecution(t *testing.T) {
	logs := observeLogs(t)
	def := NewDefinition()
	start := time.Now()

	ran := def.ExecuteIfAlive(context.Background(), func(context.Context) {
		assert.True(t, IsExecuting(def))
		requirePanicsWith(t, ErrTerminateUnderExecution, func() {
			def.Terminate()
		})
	})

	assert.True(t, ran)
	assert.False(t, IsExecuting(def))
	assert.Less(t, time.Since(start), TerminationTimeout(TimeoutDefault)/2)
	assert.Equal(t, Alive, def.Status())
	assert.Zero(t, logs.Len())
}

func TestTerminateUnderExecutionOtherGoroutine(t *testing.T) {
	def := NewDefinition()

	def.ExecuteIfAlive(context.Background(), func(context.Context) {
		var g errgroup.Group
		g.Go(func() error {
			assert.False(t, IsExecuting(def))
			return nil
		})
		require.NoError(t, g.Wait())
	})
}

func TestTerminateUnderExecutionAllowed(t *testing.T) {
	var rec recorder
	def := NewDefinition()
	def.OnTermination(rec.add(1))

	def.ExecuteIfAlive(context.Background(), func(context.Context) {
		assert.True(t, def.TerminateUnderExecution())
		assert.Equal(t, Terminated, def.Status())
		assert.Equal(t, 1, def.ExecutingCount())
	})

	assert.Equal(t, []int{1}, rec.values())
	assert.Zero(t, def.ExecutingCount())
}

func TestTerminateUnderExecutionFlag(t *testing.T) {
	def := NewDefinition()
	def.SetAllowTerminationUnderExecution(true)
	assert.True(t, def.AllowTerminationUnderExecution())

	def.ExecuteIfAlive(context.Background(), func(context.Context) {
		assert.True(t, def.Terminate())
	})
	assert.Equal(t, Terminated, def.Status())
}

func TestGuardPanicPropagates(t *testing.T) {
	def := NewDefinition()

	assert.PanicsWithValue(t, "boom", func() {
		def.ExecuteIfAlive(context.Background(), func(context.Context) { panic("boom") })
	})
	assert.Zero(t, def.ExecutingCount())
	assert.True(t, def.Terminate())
}

func TestNoPostMortemExecution(t *testing.T) {
	def := NewDefinition()
	var ranDuringDisposal atomic.Bool
	def.OnTermination(func() {
		def.ExecuteIfAlive(context.Background(), func(context.Context) { ranDuringDisposal.Store(true) })
	})
	def.Terminate()

	var ran atomic.Int32
	for i := 0; i < 100; i++ {
		assert.False(t, def.ExecuteIfAlive(context.Background(), func(context.Context) { ran.Inc() }))
	}
	assert.Zero(t, ran.Load())
	assert.False(t, ranDuringDisposal.Load())
}

func TestIdempotentConcurrentTerminate(t *testing.T) {
	for round := 0; round < 50; round++ {
		def := NewDefinition()
		var disposed, winners atomic.Int32
		def.OnTermination(func() { disposed.Inc() })

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				if def.Terminate() {
					winners.Inc()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		def.WaitTermination()

		assert.Equal(t, int32(1), winners.Load())
		assert.Equal(t, int32(1), disposed.Load())
	}
}

func TestStatusMonotonicity(t *testing.T) {
	def := NewDefinition()
	for i := 0; i < 100; i++ {
		def.CreateNested().OnTermination(func() { time.Sleep(10 * time.Microsecond) })
	}

	seen := make(chan []Status)
	go func() {
		var observed []Status
		for {
			s := def.Status()
			if len(observed) == 0 || observed[len(observed)-1] != s {
				observed = append(observed, s)
			}
			if s == Terminated {
				seen <- observed
				return
			}
		}
	}()

	def.Terminate()
	observed := <-seen
	for i := 1; i < len(observed); i++ {
		assert.Less(t, observed[i-1], observed[i], "statuses %v", observed)
	}
}

func TestSubtreeCanceledBeforeDisposal(t *testing.T) {
	p := NewDefinition()
	x := p.CreateNested()
	y := p.CreateNested()
	z := y.CreateNested()

	var statuses []Status
	z.OnTermination(func() {
		statuses = []Status{p.Status(), x.Status(), y.Status(), z.Status()}
	})

	p.Terminate()

	require.Len(t, statuses, 4)
	for i, s := range statuses {
		assert.GreaterOrEqual(t, s, Canceled, "lifetime #%d", i)
	}
	assert.Equal(t, Canceled, statuses[1], "x is disposed after y")
}

func TestEternal(t *testing.T) {
	e := Eternal()
	assert.True(t, e.IsEternal())
	assert.Equal(t, Alive, e.Status())

	var ran bool
	assert.True(t, e.OnTerminationIfAlive(func() { ran = true }))
	e.OnTermination(func() { ran = true })
	assert.False(t, e.definition().Terminate())
	assert.Equal(t, Alive, e.Status())
	assert.False(t, ran)
	assert.Zero(t, e.definition().resCount.Load())

	assert.True(t, e.ExecuteIfAlive(context.Background(), func(context.Context) {}))
	assert.NoError(t, e.Context().Err())
}

func TestAttachEternalPanics(t *testing.T) {
	requirePanicsWith(t, ErrAttachEternal, func() {
		NewDefinition().attach(eternal)
	})
}

func TestOnTerminationWhenNotAlive(t *testing.T) {
	def := NewDefinition()
	def.Terminate()

	assert.False(t, def.OnTerminationIfAlive(func() { t.Fatal("must not run") }))

	var ran bool
	requirePanicsWith(t, ErrNotAlive, func() {
		def.OnTermination(func() { ran = true })
	})
	assert.True(t, ran, "action runs synchronously before the panic")
}

func TestResourcesAcceptedWhileCanceled(t *testing.T) {
	withTerminationTimeout(t, 10*time.Second)
	def := NewDefinition()
	var rec recorder
	def.OnTermination(rec.add(1))

	started := make(chan struct{})
	release := make(chan struct{})
	go def.ExecuteIfAlive(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started

	terminated := make(chan bool)
	go func() { terminated <- def.Terminate() }()
	require.True(t, spinUntil(5*time.Second, func() bool { return def.Status() == Canceled }))

	assert.True(t, def.OnTerminationIfAlive(rec.add(2)))
	close(release)
	require.True(t, <-terminated)

	assert.Equal(t, []int{2, 1}, rec.values())
}

func TestCloserResource(t *testing.T) {
	logs := observeLogs(t)
	ctrl := gomock.NewController(t)

	var rec recorder
	def := NewDefinition()
	def.SetID("closer")
	def.OnTermination(rec.add(1))

	failing := mocks.NewMockCloser(ctrl)
	failing.EXPECT().Close().DoAndReturn(func() error {
		rec.add(2)()
		return errors.New("boom")
	})
	def.OnTerminationCloser(failing)

	ok := mocks.NewMockCloser(ctrl)
	ok.EXPECT().Close().DoAndReturn(func() error {
		rec.add(3)()
		return nil
	})
	assert.True(t, def.OnTerminationIfAliveCloser(ok))

	require.True(t, def.Terminate())

	assert.Equal(t, []int{3, 2, 1}, rec.values())
	entries := logs.FilterMessageSnippet("exception on termination of resource").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Contains(t, entries[0].ContextMap()["lifetime"], "closer")
}

func TestDisposalPanicDoesNotStopDrain(t *testing.T) {
	logs := observeLogs(t)
	var rec recorder
	def := NewDefinition()
	def.OnTermination(rec.add(1))
	def.OnTermination(func() { panic("first") })
	def.CreateNested().OnTermination(func() { panic(errors.New("second")) })
	def.OnTermination(rec.add(2))

	require.True(t, def.Terminate())

	assert.Equal(t, []int{2, 1}, rec.values())
	assert.Equal(t, Terminated, def.Status())
	assert.Equal(t, 2, logs.FilterMessageSnippet("exception on termination of resource").Len())
}

func TestTerminateFromInsideGuardReachesChildren(t *testing.T) {
	logs := observeLogs(t)
	p := NewDefinition()
	c := p.CreateNested()

	c.ExecuteIfAlive(context.Background(), func(ctx context.Context) {
		// the child is terminated from inside its own guard
		p.ExecuteIfAlive(ctx, func(context.Context) {
			p.TerminateUnderExecution()
		})
	})

	assert.Equal(t, Terminated, p.Status())
	assert.Equal(t, Terminated, c.Status())
	assert.Zero(t, logs.FilterMessageSnippet("exception").Len())
}

func TestBracketSuccess(t *testing.T) {
	def := NewDefinition()
	x := 0

	v, ok := Bracket(def, context.Background(),
		func(context.Context) int { x++; return x - 1 },
		func(int) { x++ })
	assert.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 1, x)

	def.Terminate()
	assert.Equal(t, 2, x)
}

func TestBracketFailure(t *testing.T) {
	def := NewDefinition()
	x := 0

	assert.Panics(t, func() {
		Bracket(def, context.Background(),
			func(context.Context) int { x++; panic("open failed") },
			func(int) { x++ })
	})
	assert.Equal(t, 1, x)

	def.Terminate()
	assert.Equal(t, 1, x)
}

func TestBracketCanceled(t *testing.T) {
	def := NewDefinition()
	def.Terminate()
	x := 0

	_, ok := Bracket(def, context.Background(),
		func(context.Context) int { x++; return x },
		func(int) { x++ })
	assert.False(t, ok)
	assert.Equal(t, 0, x)

	_, err := BracketOrErr(def, context.Background(),
		func(context.Context) int { x++; return x },
		func(int) { x++ })
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 0, x)
}

func TestBracketTerminatedFromOpen(t *testing.T) {
	def := NewDefinition()
	var closed []string

	v, ok := Bracket(def, context.Background(),
		func(context.Context) string {
			def.TerminateUnderExecution()
			return "conn"
		},
		func(v string) { closed = append(closed, v) })

	assert.True(t, ok)
	assert.Equal(t, "conn", v)
	assert.Equal(t, []string{"conn"}, closed)
}

func TestExecuteOrErr(t *testing.T) {
	def := NewDefinition()

	v, err := ExecuteOrErr(def, context.Background(), func(context.Context) int { return 42 })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	def.Terminate()
	_, err = ExecuteOrErr(def, context.Background(), func(context.Context) int { return 42 })
	assert.ErrorIs(t, err, ErrCanceled)

	v, ok := Execute(def, context.Background(), func(context.Context) int { return 42 })
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestUsing(t *testing.T) {
	var lt Lifetime
	Using(func(l Lifetime) {
		lt = l
		assert.True(t, l.IsAlive())
		assert.False(t, l.IsEternal())
	})
	assert.False(t, lt.IsAlive())
	assert.Equal(t, Terminated, lt.Status())
}

func TestUsingTerminatesOnPanic(t *testing.T) {
	var lt Lifetime
	assert.Panics(t, func() {
		Using(func(l Lifetime) {
			lt = l
			panic("fail")
		})
	})
	assert.Equal(t, Terminated, lt.Status())
}

func TestDefineNestedPanics(t *testing.T) {
	parent := NewDefinition()
	var nested *Definition

	assert.Panics(t, func() {
		DefineNested(parent, func(def *Definition) {
			nested = def
			panic("fail")
		})
	})
	require.NotNil(t, nested)
	assert.Equal(t, Terminated, nested.Status())
	assert.True(t, parent.IsAlive())
}

func TestNestedLifetimesLeakage(t *testing.T) {
	var p1, p2, p3 bool
	Using(func(lt Lifetime) {
		var prev *Definition

		lt.OnTermination(func() { p1 = true })
		for i := 0; i <= 10_000; i++ {
			UsingNested(lt, func(Lifetime) {
				if i == 5000 {
					lt.OnTermination(func() { p2 = true })
				}
				if prev != nil {
					prev.Terminate()
				}
				prev = lt.CreateNested()
				if i == 7000 {
					lt.OnTermination(func() { p3 = true })
				}
			})
		}

		assert.LessOrEqual(t, cap(lt.definition().resources), 16)
	})

	assert.True(t, p1)
	assert.True(t, p2)
	assert.True(t, p3)
}

func TestClearTail(t *testing.T) {
	p := NewDefinition()
	c1 := p.CreateNested()
	c2 := p.CreateNested()
	c3 := p.CreateNested()
	require.Equal(t, int32(3), p.resCount.Load())

	c3.Terminate()
	assert.Equal(t, int32(2), p.resCount.Load())

	// c1 is not trailing, so it stays until c2 is gone
	c1.Terminate()
	assert.Equal(t, int32(2), p.resCount.Load())

	c2.Terminate()
	assert.Equal(t, int32(0), p.resCount.Load())

	assert.True(t, p.Terminate())
}

func TestTimeoutKindInherited(t *testing.T) {
	a := NewDefinition()
	a.SetTimeoutKind(TimeoutLong)
	b := a.CreateNested()
	c := a.CreateNested()
	c.SetTimeoutKind(TimeoutShort)

	assert.Equal(t, TimeoutLong, a.TimeoutKind())
	assert.Equal(t, TimeoutLong, b.TimeoutKind())
	assert.Equal(t, TimeoutShort, c.TimeoutKind())
	assert.Equal(t, Alive, a.Status(), "timeout kind shares the word with the status")
}

func TestSetTerminationTimeout(t *testing.T) {
	for _, kind := range []TimeoutKind{TimeoutDefault, TimeoutShort, TimeoutLong, TimeoutExtraLong} {
		prev := TerminationTimeout(kind)
		SetTerminationTimeout(kind, 3*time.Second)
		assert.Equal(t, 3*time.Second, TerminationTimeout(kind), kind.String())
		SetTerminationTimeout(kind, prev)
	}
	assert.Equal(t, DefaultTerminationTimeout, TerminationTimeout(TimeoutDefault))
}

func TestString(t *testing.T) {
	def := NewDefinition()
	def.OnTermination(func() {})
	assert.Equal(t, "Lifetime `Anonymous` [Alive, executing=0, resources=1]", def.String())

	def.SetID("conn")
	def.ExecuteIfAlive(context.Background(), func(context.Context) {
		assert.Equal(t, "Lifetime `conn` [Alive, executing=1, resources=1]", def.String())
	})

	def.Terminate()
	assert.Equal(t, "Lifetime `conn` [Terminated, executing=0, resources=0]", def.String())
}

func TestWaitTermination(t *testing.T) {
	def := NewDefinition()
	done := make(chan struct{})
	go func() {
		def.WaitTermination()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("returned before termination")
	case <-time.After(20 * time.Millisecond):
	}

	def.Terminate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitTermination did not return")
	}
}

func TestTerminatedSentinel(t *testing.T) {
	assert.Equal(t, Terminated, TerminatedLifetime().Status())
	assert.False(t, TerminatedLifetime().OnTerminationIfAlive(func() {}))
}

func TestKeepAlive(t *testing.T) {
	def := NewDefinition()
	buf := make([]byte, 16)
	def.KeepAlive(buf)
	assert.Equal(t, int32(1), def.resCount.Load())
	assert.True(t, def.Terminate())
}

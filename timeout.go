package lifetimes

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// TimeoutKind selects how long termination waits for guarded sections running
// on other goroutines before it gives up and disposes resources anyway.
type TimeoutKind uint32

const (
	TimeoutDefault TimeoutKind = iota
	TimeoutShort
	TimeoutLong
	TimeoutExtraLong

	timeoutKindCount
)

const DefaultTerminationTimeout = 500 * time.Millisecond

var terminationTimeouts = [timeoutKindCount]*atomic.Duration{
	TimeoutDefault:   atomic.NewDuration(DefaultTerminationTimeout),
	TimeoutShort:     atomic.NewDuration(250 * time.Millisecond),
	TimeoutLong:      atomic.NewDuration(5 * time.Second),
	TimeoutExtraLong: atomic.NewDuration(30 * time.Second),
}

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutDefault:
		return "Default"
	case TimeoutShort:
		return "Short"
	case TimeoutLong:
		return "Long"
	case TimeoutExtraLong:
		return "ExtraLong"
	}
	return fmt.Sprintf("TimeoutKind(%d)", uint32(k))
}

// TerminationTimeout returns the drain timeout configured for kind.
func TerminationTimeout(kind TimeoutKind) time.Duration {
	if kind >= timeoutKindCount {
		kind = TimeoutDefault
	}
	return terminationTimeouts[kind].Load()
}

// SetTerminationTimeout changes the drain timeout for kind process-wide.
func SetTerminationTimeout(kind TimeoutKind, d time.Duration) {
	if kind >= timeoutKindCount {
		panic(fmt.Sprintf("lifetimes: unknown timeout kind %d", kind))
	}
	terminationTimeouts[kind].Store(d)
}

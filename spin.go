package lifetimes

import (
	"runtime"
	"time"
)

const yieldSpins = 64

func spinOnce() { runtime.Gosched() }

// spinUntil polls cond until it holds or timeout elapses. A negative timeout
// waits forever. The first probes only yield the processor; after that the
// goroutine backs off with short sleeps.
func spinUntil(timeout time.Duration, cond func() bool) bool {
	start := time.Now()
	for i := 0; ; i++ {
		if cond() {
			return true
		}
		if timeout >= 0 && time.Since(start) > timeout {
			return false
		}
		if i < yieldSpins {
			runtime.Gosched()
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

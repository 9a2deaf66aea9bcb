package lifetimes

import (
	"sync"

	"github.com/petermattis/goid"
)

// ledger maps a goroutine id to the guarded sections that goroutine has open.
// Each inner map is only read and written by its own goroutine.
var ledger sync.Map

type openSections map[*Definition]uint32

func enterSection(d *Definition) {
	id := goid.Get()
	v, ok := ledger.Load(id)
	if !ok {
		v = openSections{}
		ledger.Store(id, v)
	}
	v.(openSections)[d]++
}

func exitSection(d *Definition) {
	id := goid.Get()
	v, ok := ledger.Load(id)
	if !ok {
		return
	}
	open := v.(openSections)
	if open[d] > 1 {
		open[d]--
		return
	}
	delete(open, d)
	if len(open) == 0 {
		ledger.Delete(id)
	}
}

// executingHere counts the guarded sections on d opened by the calling goroutine.
func executingHere(d *Definition) uint32 {
	v, ok := ledger.Load(goid.Get())
	if !ok {
		return 0
	}
	return v.(openSections)[d]
}

// IsExecuting reports whether the calling goroutine is running inside
// lt.ExecuteIfAlive.
func IsExecuting(lt Lifetime) bool {
	return executingHere(lt.definition()) > 0
}

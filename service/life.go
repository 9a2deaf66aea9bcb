package service

import (
	"github.com/rubens21/go-lifetimes"
)

// Process is a lifetime seen from the goroutine that lives in it.
type Process interface {
	Lifetime() lifetimes.Lifetime
	// Live is closed as soon as the process is asked to die.
	Live() <-chan struct{}
	IsAlive() bool
	Die()
	// Deceased is closed once every resource of the process is disposed.
	Deceased() <-chan struct{}
	Spawn() Process
}

type life struct {
	def      *lifetimes.Definition
	deceased chan struct{}
}

// NewProcess creates a process nested in parent.
func NewProcess(parent lifetimes.Lifetime) Process {
	l := &life{
		def:      lifetimes.CreateNested(parent),
		deceased: make(chan struct{}),
	}
	// registered first so it is disposed last
	if !l.def.OnTerminationIfAlive(func() { close(l.deceased) }) {
		close(l.deceased)
	}
	return l
}

func (l *life) Lifetime() lifetimes.Lifetime {
	return l.def
}

func (l *life) Live() <-chan struct{} {
	return l.def.Context().Done()
}

func (l *life) IsAlive() bool {
	return l.def.IsAlive()
}

func (l *life) Die() {
	l.def.Terminate()
}

func (l *life) Deceased() <-chan struct{} {
	return l.deceased
}

func (l *life) Spawn() Process {
	return NewProcess(l.def)
}

package lifetimes

import "fmt"

// Status is the position of a lifetime in its one-way state machine.
// Values are totally ordered and a lifetime only ever moves forward:
//
//	Alive -> Canceled -> Terminating -> Terminated
type Status uint32

const (
	// Alive lifetimes run guarded sections and accept termination resources.
	Alive Status = iota
	// Canceled lifetimes reject new guarded sections but still accept
	// resources. Guarded sections already running are being drained.
	Canceled
	// Terminating lifetimes are disposing their resources. Registration fails.
	Terminating
	// Terminated lifetimes have disposed every resource.
	Terminated

	statusCount
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "Alive"
	case Canceled:
		return "Canceled"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// Package sched implements the kernel's preemptive priority scheduler:
// a single circular task list, priority-based dispatch, quantum
// accounting, sleep/wake and stack-canary protection, per spec.md §4.E.
//
// The task list is modeled as spec.md's Design Notes prescribe: a flat
// arena of task slots indexed by pid, with `next` an index rather than
// an owning pointer, grounded on the teacher's container/ring.Ring —
// adapted from a generic slice-backed ring with Next/Prev/Do traversal
// to a pid-indexed arena whose links mutate as tasks are created,
// slept, woken and terminated.
package sched

import (
	"fmt"

	"github.com/nexskernel/core/arch"
)

// State is one of a task's lifecycle states (spec.md §3).
type State int

const (
	Ready State = iota
	Running
	Sleeping
	WaitingMsg
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case WaitingMsg:
		return "waiting-msg"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// UID classifies a task's privilege tier, used only to pick the
// baseline permission mask at creation (spec.md §4.E); capability
// enforcement itself lives in internal/capstore.
type UID int

const (
	Kernel UID = iota
	Root
	User
)

// StackCanary is the sentinel word stamped at the base of every
// non-idle task's stack and checked on every dispatch (spec.md §3:
// "every non-idle task owns exactly one stack with a magic canary word
// at its base").
const StackCanary uint64 = 0xC0FFEE1DC0FFEE1D

// StackOverflowError is panicked by Dispatch when a task's stack
// canary no longer matches — spec.md §4.E step 2: "if corrupt, panic
// with 'stack overflow'." It is recovered at the kernel facade /
// internal/diag panic path, never inside this package.
type StackOverflowError struct {
	PID int
}

func (e StackOverflowError) Error() string {
	return fmt.Sprintf("stack overflow: pid %d canary corrupt", e.PID)
}

// Task is one entry in the scheduler's flat, pid-indexed arena.
type Task struct {
	PID      int
	State    State
	SavedSP  uint64
	UID      UID
	Priority uint8

	QuantumRemaining int // ms remaining in current quantum
	BaseQuantum      int // ms granted on dispatch, from the priority bucket

	SleepDeadlineMS int64
	CPUTimeMS       int64
	StartTimeMS     int64

	StackBase      uint64
	PermissionMask uint16
	InitialFrame   arch.Frame

	stack []byte // backing memory for StackBase/canary; nil for pid 0

	next  int // index of the next task in the circular list
	inUse bool
}

// initialFrame builds the interrupt-return frame a real context switch
// would `iret` into: entry RIP, interrupts-enabled flags, kernel
// segment selectors and zeroed general-purpose registers (spec.md
// §4.E "Task creation").
func initialFrame(entry uint64) arch.Frame {
	const (
		kernelCS = 0x08
		kernelSS = 0x10
		rflagsIF = 1 << 9 // interrupt-enable flag
	)
	return arch.Frame{
		RIP:    entry,
		CS:     kernelCS,
		SS:     kernelSS,
		RFlags: rflagsIF,
	}
}

// Package diag implements the kernel's panic/diagnostic path, per
// spec.md §4.I: mask interrupts, print a framed banner, busy-spin,
// attempt soft recovery by re-entering the scheduler with a fresh
// shell-like task, and on repeated failure halt irrecoverably.
//
// Grounded on the teacher's concurrency/gopool.SetPanicHandler: that
// package lets a caller install a func(ctx, r interface{}) that a worker pool
// invokes on a recovered goroutine panic instead of crashing the whole
// pool. This package generalizes the same "install a recovery callback,
// never let the panic escape uncontained" shape to the one panic path a
// kernel has, with the banner/spin/soft-recovery machinery spec.md adds
// on top.
package diag

import (
	"fmt"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/console"
)

// MaxSoftRecoveryAttempts bounds consecutive soft-recovery attempts
// before the kernel gives up and halts irrecoverably.
const MaxSoftRecoveryAttempts = 3

// RespawnFunc re-enters the scheduler with a fresh shell-like task; it
// returns an error if no respawn could be performed (e.g. no task
// slots). Wired by the kernel facade to internal/sched.Scheduler.Create
// plus whatever entry point the UserTask collaborator exposes.
type RespawnFunc func() error

// Diag owns the panic path's configuration and collaborators.
type Diag struct {
	cpu  arch.CPU
	sink console.Sink

	// SoftRecovery selects production-halt vs debug-restart behavior,
	// per spec.md §4.I and §9 ("Soft recovery after panic... make it
	// explicit"): false halts directly, true attempts Respawn.
	SoftRecovery bool
	Respawn      RespawnFunc

	attempts int
}

// New builds a Diag bound to cpu/sink with soft recovery off (the
// production default spec.md §9 recommends; debug builds set
// SoftRecovery true explicitly).
func New(cpu arch.CPU, sink console.Sink) *Diag {
	return &Diag{cpu: cpu, sink: sink}
}

// Enter is the kernel's one panic entry point: every exception
// dispatch and every recovered internal panic routes here. It never
// returns under production (SoftRecovery=false) configuration;
// under SoftRecovery it returns once a shell task has been respawned.
func (d *Diag) Enter(reason string, f *arch.Frame) {
	d.cpu.DisableInterrupts()
	d.banner(reason, f)
	d.busySpin()

	if !d.SoftRecovery {
		d.haltLoop()
		return
	}

	d.attempts++
	if d.attempts > MaxSoftRecoveryAttempts {
		d.sink.PutString("!! soft recovery exhausted, halting irrecoverably\n")
		d.haltLoop()
		return
	}

	if d.Respawn == nil {
		d.haltLoop()
		return
	}
	if err := d.Respawn(); err != nil {
		d.sink.PutString(fmt.Sprintf("!! soft recovery failed: %s\n", err))
		d.haltLoop()
		return
	}
	d.sink.PutString("== soft recovery: shell task respawned ==\n")
}

// banner prints the fixed red-framed header spec.md §4.I requires:
// reason, file, line (the hosted build has no real file/line at the
// trap boundary, so it reports the faulting RIP in their place).
func (d *Diag) banner(reason string, f *arch.Frame) {
	d.sink.SetColor(0xF, 0x4) // white on red, per spec.md's "fixed red-framed header"
	d.sink.PutString("****************************************\n")
	d.sink.PutString(fmt.Sprintf("* KERNEL PANIC: %s\n", reason))
	d.sink.PutString(fmt.Sprintf("* rip=%#016x vector=%d errcode=%#x\n", f.RIP, f.Vector, f.ErrorCode))
	d.sink.PutString("****************************************\n")
	d.sink.SetColor(0x7, 0x0)
}

// busySpin is the fixed-length delay spec.md §4.I calls for between the
// banner and the recovery attempt.
func (d *Diag) busySpin() {
	for i := 0; i < 1_000_000; i++ {
	}
}

func (d *Diag) haltLoop() {
	for {
		d.cpu.Halt()
	}
}

// Package kernel wires every internal/ subsystem into the single boot
// sequence spec.md §2 describes: traps → timer calibration → heap +
// secure carve → idle task → kernel capability seed → empty queues →
// syscall gate → interrupts enabled.
package kernel

import (
	"fmt"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/bootinfo"
	"github.com/nexskernel/core/console"
	"github.com/nexskernel/core/internal/buddy"
	"github.com/nexskernel/core/internal/capstore"
	"github.com/nexskernel/core/internal/diag"
	"github.com/nexskernel/core/internal/msgqueue"
	"github.com/nexskernel/core/internal/sched"
	"github.com/nexskernel/core/internal/secure"
	"github.com/nexskernel/core/internal/syscall"
	"github.com/nexskernel/core/internal/timer"
	"github.com/nexskernel/core/internal/trap"
)

// Config carries the boot-time tunables that would otherwise be
// compiled-in constants, per spec.md §9's "encapsulate each as a single
// module with explicit get-accessors" guidance applied to the one
// thing every subsystem needs from the caller up front.
type Config struct {
	// SoftRecovery selects the panic-path behavior; false (the
	// production default) halts directly, true attempts to respawn a
	// shell task, per spec.md §4.I / §9.
	SoftRecovery bool

	// TSCHz is not read by Boot: the CPU handed to Boot reports its own
	// RDTSC rate (a SimCPU takes its rate as an argument to
	// arch.NewSimCPU).
	TSCHz uint64
}

// DefaultConfig mirrors the teacher's DefaultOption() convention:
// production defaults, explicit about the one ambiguous knob spec.md
// calls out.
func DefaultConfig() Config {
	return Config{SoftRecovery: false, TSCHz: 3_000_000_000}
}

// Kernel is the assembled core: every subsystem plus the syscall gate
// that dispatches into them.
type Kernel struct {
	CPU     arch.CPU
	Console console.Sink

	Trap     *trap.Core
	Timer    *timer.Timer
	Heap     *buddy.Heap
	Secure   *secure.Region
	Sched    *sched.Scheduler
	Caps     *capstore.Store
	Broker   *msgqueue.Broker
	Syscalls *syscall.Table
	Diag     *diag.Diag
	Keyboard trap.KeyboardRing

	cfg Config
}

// Boot assembles and initializes every subsystem against desc and cpu,
// following spec.md §2's control flow exactly: A traps, B timer, C+D
// heap+secure, E idle task, F kernel rights, G empty queues, H syscall
// gate, then interrupts enabled.
func Boot(desc *bootinfo.Descriptor, cpu arch.CPU, sink console.Sink, cfg Config) (*Kernel, error) {
	k := &Kernel{CPU: cpu, Console: sink, cfg: cfg}

	k.Diag = diag.New(cpu, sink)
	k.Diag.SoftRecovery = cfg.SoftRecovery

	// A: traps (PIC remap + IDT), panic path wired in immediately so any
	// exception during the remainder of boot is diagnosable.
	k.Trap = trap.New(cpu, sink, k.Diag.Enter)
	if err := k.Trap.InstallKeyboard(&k.Keyboard); err != nil {
		return nil, fmt.Errorf("kernel: keyboard install: %w", err)
	}

	// B: timer calibration.
	k.Timer = timer.Calibrate(cpu)
	if err := k.Trap.InstallIRQ(trap.TimerLine, func(f *arch.Frame) {
		defer func() {
			if r := recover(); r != nil {
				k.Diag.Enter(fmt.Sprint(r), f)
			}
		}()
		k.Timer.Tick()
		sp := k.Sched.Dispatch(int64(k.Timer.NowMS()), f.RSP)
		f.RSP = sp
	}); err != nil {
		return nil, fmt.Errorf("kernel: timer irq install: %w", err)
	}

	// C+D: buddy heap + secure region, carved from the largest usable
	// region the boot descriptor reports.
	heap, secure, err := carveMemory(desc)
	if err != nil {
		return nil, fmt.Errorf("kernel: memory carve: %w", err)
	}
	k.Heap, k.Secure = heap, secure

	// E: idle task.
	k.Sched = sched.New(k.Heap)

	// F: kernel capability seed (slot 0 holds all bits, per
	// internal/capstore.New).
	k.Caps = capstore.New()

	// G: empty per-receiver queues, backed by the slab allocator over
	// the same buddy heap.
	k.Broker = msgqueue.NewBroker(msgqueue.NewSlab(k.Heap))
	k.Broker.MarkActive(0)

	// H: syscall gate armed.
	k.Syscalls = syscall.New(k.Sched, k.Caps, k.Broker, k.Timer, k.Heap, sink, cpu, &k.Keyboard)
	k.Trap.InstallSyscallGate(func(f *arch.Frame) {
		defer func() {
			if r := recover(); r != nil {
				k.Diag.Enter(fmt.Sprint(r), f)
			}
		}()
		k.Syscalls.Dispatch(f)
	})

	k.Diag.Respawn = k.respawnShell

	// Interrupts enabled: the kernel is now event-driven.
	cpu.EnableInterrupts()
	return k, nil
}

// SpawnTask creates a new task and seeds its capability record
// inheriting from the kernel (parent 0), per spec.md §4.F. It is the
// facade's entry point for launching the shell `UserTask` collaborator.
func (k *Kernel) SpawnTask(entry uint64, priority uint8, uid sched.UID, initialPerms uint16) (int, error) {
	pid, err := k.Sched.Create(entry, priority, uid)
	if err != nil {
		return -1, err
	}
	if err := k.Caps.Create(pid, 0, initialPerms); err != nil {
		k.Sched.Kill(pid)
		return -1, err
	}
	k.Broker.MarkActive(pid)
	return pid, nil
}

// respawnShell is the diag.RespawnFunc wired at boot: spec.md §4.I's
// soft recovery "re-enters the task scheduler with a fresh shell-like
// task." The real shell entry point is supplied by the external
// UserTask collaborator; ShellEntry must be set by the embedder before
// a panic can be soft-recovered.
var ShellEntry uint64

func (k *Kernel) respawnShell() error {
	if ShellEntry == 0 {
		return fmt.Errorf("kernel: no shell entry point registered for soft recovery")
	}
	_, err := k.SpawnTask(ShellEntry, 127, sched.Root, uint16(capstore.ShellAccess)|uint16(capstore.IORead)|uint16(capstore.IOWrite)|uint16(capstore.MsgSend)|uint16(capstore.MsgReceive))
	return err
}

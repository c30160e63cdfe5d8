// Package trap implements the kernel's interrupt-and-exception core:
// the 256-entry IDT, the PIC remap, the syscall gate, and the IRQ
// install/uninstall contract, per spec.md §4.A.
//
// Grounded on the dispatch-table-plus-numbered-line idiom the teacher's
// event-loop layer used for registering per-fd handlers in a fixed-size
// table and invoking them off a single poll/dispatch loop (that
// subsystem covered network readiness events; this package applies the
// identical "fixed slot table, one line number per slot, install/
// uninstall mutators" shape to interrupt lines instead of file
// descriptors).
package trap

import (
	"fmt"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/console"
)

// Exception vectors 0-31 the dispatcher recognizes by name for its
// diagnostic dump (spec.md §4.A).
const (
	VectorDivideError       = 0
	VectorDebug             = 1
	VectorNMI               = 2
	VectorBreakpoint        = 3
	VectorOverflow          = 4
	VectorBoundRange        = 5
	VectorInvalidOpcode     = 6
	VectorDeviceNotAvail    = 7
	VectorDoubleFault       = 8
	VectorInvalidTSS        = 10
	VectorSegmentNotPresent = 11
	VectorStackFault        = 12
	VectorGeneralProtection = 13
	VectorPageFault         = 14
	VectorFPUError          = 16
	VectorAlignmentCheck    = 17
	VectorMachineCheck      = 18
	VectorSIMDError         = 19
)

// withErrorCode lists the vectors where the CPU itself pushes an error
// code onto the frame; all others get the stub's zero placeholder, per
// spec.md §4.A "uniform frame layout."
var withErrorCode = map[uint64]bool{8: true, 10: true, 11: true, 12: true, 13: true, 14: true, 17: true, 21: true, 29: true, 30: true}

func exceptionName(v uint64) string {
	names := map[uint64]string{
		VectorDivideError: "divide-error", VectorDebug: "debug", VectorNMI: "nmi",
		VectorBreakpoint: "breakpoint", VectorOverflow: "overflow", VectorBoundRange: "bound-range",
		VectorInvalidOpcode: "invalid-opcode", VectorDeviceNotAvail: "device-not-available",
		VectorDoubleFault: "double-fault", VectorInvalidTSS: "invalid-tss",
		VectorSegmentNotPresent: "segment-not-present", VectorStackFault: "stack-fault",
		VectorGeneralProtection: "general-protection", VectorPageFault: "page-fault",
		VectorFPUError: "fpu-error", VectorAlignmentCheck: "alignment-check",
		VectorMachineCheck: "machine-check", VectorSIMDError: "simd-error",
	}
	if n, ok := names[v]; ok {
		return n
	}
	return "reserved-exception"
}

// panicReason is the string handed to the panic path as the banner's
// headline reason. It matches exceptionName's technical vector names
// except for divide-by-zero, whose banner spec.md §8 pins to the
// human-readable "Division By Zero" rather than the frame dump's
// "divide-error" label.
func panicReason(v uint64) string {
	if v == VectorDivideError {
		return "Division By Zero"
	}
	return exceptionName(v)
}

// PIC remap targets, per spec.md §4.A: master IRQs land at vector 32,
// slave at 40, clear of the reserved 0-31 exception range.
const (
	MasterBase = 32
	SlaveBase  = 40

	// TimerLine and KeyboardLine are reserved by spec.md §4.A: "Line 0
	// is reserved for the timer tick... line 1 for the keyboard
	// handler."
	TimerLine    = 0
	KeyboardLine = 1

	SyscallVector = 0x80
)

const picCommandMaster, picDataMaster = 0x20, 0x21
const picCommandSlave, picDataSlave = 0xA0, 0xA1

// PanicFunc is invoked by the exception dispatcher after it has dumped
// the offending frame, per spec.md §4.A step (c). internal/diag.Enter,
// the function wired here by the kernel, never returns when soft
// recovery is off, and returns after a successful shell respawn when
// it is on.
type PanicFunc func(reason string, f *arch.Frame)

// Core owns the simulated IDT and the IRQ line table. install_irq /
// uninstall_irq (spec.md §4.A) are InstallIRQ/UninstallIRQ below.
type Core struct {
	cpu   arch.CPU
	sink  console.Sink
	panic PanicFunc

	irqHandlers [16]func(*arch.Frame)
	syscall     func(*arch.Frame)
}

// New builds the Core and remaps the PIC. cpu must not yet have
// interrupts enabled; the caller enables them once every subsystem has
// finished installing its handlers (spec.md §2 boot sequence).
func New(cpu arch.CPU, sink console.Sink, panicFn PanicFunc) *Core {
	c := &Core{cpu: cpu, sink: sink, panic: panicFn}
	c.remapPIC()
	c.loadIDT()
	return c
}

// remapPIC reprograms the legacy 8259 cascade so master IRQs land at
// MasterBase and slave at SlaveBase, per spec.md §4.A.
func (c *Core) remapPIC() {
	const icw1Init = 0x11
	c.cpu.IOWrite8(picCommandMaster, icw1Init)
	c.cpu.IOWrite8(picCommandSlave, icw1Init)
	c.cpu.IOWrite8(picDataMaster, MasterBase)
	c.cpu.IOWrite8(picDataSlave, SlaveBase)
	c.cpu.IOWrite8(picDataMaster, 4) // tell master there's a slave at IRQ2
	c.cpu.IOWrite8(picDataSlave, 2)  // tell slave its cascade identity
	c.cpu.IOWrite8(picDataMaster, 1) // 8086 mode
	c.cpu.IOWrite8(picDataSlave, 1)
	c.cpu.IOWrite8(picDataMaster, 0) // unmask everything; per-line masking is left to the PIC, not modeled here
	c.cpu.IOWrite8(picDataSlave, 0)
}

// loadIDT installs the exception stubs (0-31) and the syscall gate
// (0x80); IRQ lines are installed lazily via InstallIRQ.
func (c *Core) loadIDT() {
	entries := make([]arch.IDTEntry, 0, 33)
	for v := uint8(0); v < 32; v++ {
		vec := v
		entries = append(entries, arch.IDTEntry{Vector: vec, Handler: func(f *arch.Frame) {
			c.dispatchException(vec, f)
		}})
	}
	entries = append(entries, arch.IDTEntry{Vector: SyscallVector, Handler: func(f *arch.Frame) {
		if c.syscall != nil {
			c.syscall(f)
		}
	}})
	c.cpu.LoadIDT(entries)
}

// dispatchException implements spec.md §4.A's on-exception sequence:
// disable interrupts, dump the frame, invoke the panic path.
func (c *Core) dispatchException(v uint8, f *arch.Frame) {
	c.cpu.DisableInterrupts()
	f.Vector = uint64(v)
	c.dumpFrame(v, f)
	if c.panic != nil {
		c.panic(panicReason(uint64(v)), f)
	}
}

func (c *Core) dumpFrame(v uint8, f *arch.Frame) {
	c.sink.PutString(fmt.Sprintf(
		"!! exception %d (%s) errcode=%#x\n  rip=%#016x cs=%#x rflags=%#x rsp=%#016x ss=%#x\n  rax=%#016x rbx=%#016x rcx=%#016x rdx=%#016x\n",
		v, exceptionName(uint64(v)), f.ErrorCode, f.RIP, f.CS, f.RFlags, f.RSP, f.SS, f.RAX, f.RBX, f.RCX, f.RDX))
	if v == VectorPageFault {
		c.sink.PutString(fmt.Sprintf("  cr2=%#016x\n", f.CR2))
	}
}

// InstallIRQ wires handler to hardware line (0-15), translating to the
// remapped vector (MasterBase+line for 0-7, SlaveBase+line-8 for 8-15).
func (c *Core) InstallIRQ(line int, handler func(*arch.Frame)) error {
	if line < 0 || line > 15 {
		return fmt.Errorf("trap: irq line %d out of range", line)
	}
	c.irqHandlers[line] = handler
	vector := irqVector(line)
	entries := []arch.IDTEntry{{Vector: vector, Handler: func(f *arch.Frame) {
		if h := c.irqHandlers[line]; h != nil {
			h(f)
		}
	}}}
	c.cpu.LoadIDT(entries)
	return nil
}

// UninstallIRQ clears whatever handler was installed on line.
func (c *Core) UninstallIRQ(line int) error {
	if line < 0 || line > 15 {
		return fmt.Errorf("trap: irq line %d out of range", line)
	}
	c.irqHandlers[line] = nil
	return nil
}

// InstallSyscallGate wires the vector-0x80 dispatcher.
func (c *Core) InstallSyscallGate(handler func(*arch.Frame)) {
	c.syscall = handler
}

// Raise simulates hardware delivering IRQ line via the remapped vector,
// and exceptions or the syscall gate directly by vector number. Used by
// cmd/kernel's demo driver loop and by tests; a hardware CPU delivers
// these itself.
func (c *Core) Raise(vectorOrLine int, isIRQLine bool, f *arch.Frame) bool {
	sc, ok := c.cpu.(interface {
		Deliver(v uint8, f *arch.Frame) bool
	})
	if !ok {
		return false
	}
	v := uint8(vectorOrLine)
	if isIRQLine {
		v = uint8(irqVector(vectorOrLine))
	}
	return sc.Deliver(v, f)
}

func irqVector(line int) int {
	if line < 8 {
		return MasterBase + line
	}
	return SlaveBase + (line - 8)
}

// Package timer implements the kernel's TSC/PIT timekeeping, per
// spec.md §4.B: calibrate the time-stamp counter against the
// programmable interval timer once at boot, then derive monotonic
// now_ns/us/ms/s and busy-wait delays from TSC deltas alone.
//
// Grounded on the same tick/dispatch idiom the teacher's
// internal/iouring event loop used for its ring-buffer polling cursor
// (that package has since been folded into this one's calibration
// loop): a fixed calibration window is timed against a monotonic
// counter exactly the way the teacher times a poll batch against
// epoch ticks, substituting PIT-channel programming for epoll_wait.
package timer

import (
	"github.com/nexskernel/core/arch"
)

// PIT channel 0 runs the legacy 1.193182 MHz input clock; spec.md §4.B
// calibrates against a ~10ms gate window on it.
const (
	pitInputHz        = 1193182
	pitCommandPort    = 0x43
	pitChannel0Port   = 0x40
	pitChannel2Port   = 0x42
	calibrationWindow = 10_000_000 // 10ms in nanoseconds
	preemptionHz      = 1000       // 1kHz preemption tick, spec.md §4.B
	gatePolls         = 20_000     // enough Halt calls to span the gate window on a hosted CPU
)

// Timer owns the calibrated TSC-to-wallclock conversion and the PIT
// tick counter incremented from the timer IRQ.
type Timer struct {
	cpu       arch.CPU
	bootTSC   uint64
	khz       uint64 // TSC cycles per millisecond; zero if calibration failed
	pitTicks  uint64
}

// Calibrate programs PIT channel 2 for a known gate window, samples TSC
// before and after via cpu.RDTSC, and derives kHz. Per spec.md §4.B: if
// the computed kHz is zero, time functions must return zero and delays
// must return immediately rather than spin indefinitely.
func Calibrate(cpu arch.CPU) *Timer {
	t := &Timer{cpu: cpu}

	// Program channel 2: mode 0 (interrupt on terminal count), binary,
	// low/high byte access, matching real PIT programming sequence.
	cpu.IOWrite8(pitCommandPort, 0xB0)
	count := uint16(pitInputHz / 100) // ~10ms gate at the PIT's native rate
	cpu.IOWrite8(pitChannel2Port, uint8(count))
	cpu.IOWrite8(pitChannel2Port, uint8(count>>8))

	before := cpu.RDTSC()
	awaitGate(cpu)
	after := cpu.RDTSC()

	t.bootTSC = before
	delta := after - before
	t.khz = delta / (calibrationWindow / 1_000_000)
	return t
}

// awaitGate polls the PIT channel 2 gate the way real calibration code
// spins on its status byte; on a hosted CPU, cpu.Halt parks for a slice
// of wall-clock time per call, so enough calls span the gate window.
func awaitGate(cpu arch.CPU) {
	for i := 0; i < gatePolls; i++ {
		cpu.Halt()
	}
}

// NowNS returns nanoseconds since boot, or 0 if calibration failed.
func (t *Timer) NowNS() uint64 {
	if t.khz == 0 {
		return 0
	}
	cycles := t.cpu.RDTSC() - t.bootTSC
	return cycles * 1_000_000 / t.khz
}

func (t *Timer) NowUS() uint64 { return t.NowNS() / 1_000 }
func (t *Timer) NowMS() uint64 { return t.NowNS() / 1_000_000 }
func (t *Timer) NowS() uint64  { return t.NowNS() / 1_000_000_000 }

// KHz reports the calibrated TSC frequency in kHz (0 if calibration
// failed).
func (t *Timer) KHz() uint64 { return t.khz }

// DelayMS busy-waits approximately ms milliseconds using TSC deltas
// alone. Per spec.md §4.B, if calibration failed this returns
// immediately rather than spinning indefinitely.
func (t *Timer) DelayMS(ms uint64) {
	if t.khz == 0 {
		return
	}
	target := t.cpu.RDTSC() + ms*t.khz
	for t.cpu.RDTSC() < target {
	}
}

// Tick is called from the timer IRQ (line 0) on every preemption
// interval; it advances the PIT tick counter spec.md §4.B exposes.
func (t *Timer) Tick() {
	t.pitTicks++
}

// Ticks returns the PIT tick counter.
func (t *Timer) Ticks() uint64 { return t.pitTicks }

// PreemptionHz is the configured preemption interrupt rate.
func PreemptionHz() int { return preemptionHz }

// Command kernel runs the hosted demo boot sequence: a SimCPU stand-in
// for hardware, a fallback boot descriptor, and one shell task, driven
// by a manual timer-tick loop in place of a real PIT IRQ.
//
// A hardware build replaces arch.NewSimCPU with a real CPU
// implementation and this file's driver loop with the boot assembly
// that lands in long mode and calls kernel.Boot directly; nothing in
// package kernel changes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/bootinfo"
	"github.com/nexskernel/core/concurrency/gopool"
	"github.com/nexskernel/core/console"
	"github.com/nexskernel/core/internal/sched"
	"github.com/nexskernel/core/internal/trap"
	"github.com/nexskernel/core/kernel"
)

// keyboardPort is the fake 8042 data port SimCPU exposes; a real build's
// IRQ1 handler reads this same port on real hardware.
const keyboardPort = 0x60

func main() {
	cpu := arch.NewSimCPU(3_000_000_000)

	// Primary sink writes through immediately (stands in for VGA text
	// mode); the serial mirror batches output behind bufiox and is
	// flushed on a slower cadence below, the way a real 16550 UART
	// write would rather not happen once per PutString call.
	serial := console.NewBufferedSink(os.Stdout)
	sink := console.NewMulti(console.NewIOSink(os.Stdout), serial)

	desc := bootinfo.Fallback()
	cfg := kernel.DefaultConfig()
	cfg.SoftRecovery = true

	k, err := kernel.Boot(desc, cpu, sink, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", err)
		os.Exit(1)
	}

	kernel.ShellEntry = 0x1000
	shellPID, err := k.SpawnTask(kernel.ShellEntry, 127, sched.Root, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell spawn failed: %v\n", err)
		os.Exit(1)
	}
	sink.PutString(fmt.Sprintf("nexskernel: booted, shell task pid=%d, tsc=%dkHz\n", shellPID, k.Timer.KHz()))

	// Background drivers (scancode injection, serial flush) run off the
	// kernel's own logical CPU entirely — they're hosted-harness stand-ins
	// for asynchronous hardware, not kernel code, so a panic in one must
	// never take the simulated core down with it.
	driverPool := gopool.NewGoPool("hosted-drivers", nil)
	driverPool.SetPanicHandler(func(_ context.Context, r interface{}) {
		sink.PutString(fmt.Sprintf("driver panic recovered: %v\n", r))
	})

	driverPool.CtxGo(context.Background(), func() {
		keys := []byte("help\n")
		i := 0
		for range time.Tick(2 * time.Second) {
			cpu.IOWrite8(keyboardPort, keys[i%len(keys)])
			k.Trap.Raise(trap.KeyboardLine, true, &arch.Frame{})
			i++
		}
	})

	driverPool.CtxGo(context.Background(), func() {
		for range time.Tick(500 * time.Millisecond) {
			serial.Flush()
		}
	})

	// Stand-in for the PIT's 1kHz preemption IRQ: real hardware fires
	// this without host involvement; the hosted demo drives it here.
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		k.Trap.Raise(trap.TimerLine, true, &arch.Frame{})
	}
}

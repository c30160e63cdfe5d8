package trap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/console"
)

func TestInstallIRQRoutesThroughRemappedVector(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	sink := console.NewIOSink(new(strings.Builder))
	c := New(cpu, sink, nil)

	fired := false
	require.NoError(t, c.InstallIRQ(TimerLine, func(f *arch.Frame) { fired = true }))

	cpu.EnableInterrupts()
	ok := c.Raise(TimerLine, true, &arch.Frame{})
	assert.True(t, ok)
	assert.True(t, fired)
}

func TestUninstallIRQStopsDelivery(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	sink := console.NewIOSink(new(strings.Builder))
	c := New(cpu, sink, nil)

	fired := false
	require.NoError(t, c.InstallIRQ(KeyboardLine, func(f *arch.Frame) { fired = true }))
	require.NoError(t, c.UninstallIRQ(KeyboardLine))

	cpu.EnableInterrupts()
	c.Raise(KeyboardLine, true, &arch.Frame{})
	assert.False(t, fired)
}

func TestExceptionDispatchDisablesInterruptsAndDumpsFrame(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	var out strings.Builder
	sink := console.NewIOSink(&out)

	var panicked string
	var panickedVector uint64
	c := New(cpu, sink, func(reason string, f *arch.Frame) { panicked = reason; panickedVector = f.Vector })

	cpu.EnableInterrupts()
	frame := &arch.Frame{RIP: 0x1000, ErrorCode: 7}
	c.Raise(VectorGeneralProtection, false, frame)

	assert.Equal(t, "general-protection", panicked)
	assert.Equal(t, uint64(VectorGeneralProtection), panickedVector)
	assert.Equal(t, uint64(VectorGeneralProtection), frame.Vector, "dispatch must stamp the frame's own Vector field")
	assert.Contains(t, out.String(), "general-protection")
	assert.False(t, cpu.DisableInterrupts(), "interrupts must already be disabled by the dispatcher")
}

func TestDivideErrorDispatchesWithHumanReadableBannerReason(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	sink := console.NewIOSink(new(strings.Builder))

	var panicked string
	c := New(cpu, sink, func(reason string, f *arch.Frame) { panicked = reason })

	cpu.EnableInterrupts()
	c.Raise(VectorDivideError, false, &arch.Frame{RIP: 0x2000})

	assert.Equal(t, "Division By Zero", panicked)
}

func TestSyscallGateInvokesInstalledHandler(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	sink := console.NewIOSink(new(strings.Builder))
	c := New(cpu, sink, nil)

	called := false
	c.InstallSyscallGate(func(f *arch.Frame) { called = true })

	cpu.EnableInterrupts()
	c.Raise(SyscallVector, false, &arch.Frame{})
	assert.True(t, called)
}

func TestInstallIRQRejectsOutOfRangeLine(t *testing.T) {
	cpu := arch.NewSimCPU(1 << 20)
	sink := console.NewIOSink(new(strings.Builder))
	c := New(cpu, sink, nil)
	assert.Error(t, c.InstallIRQ(16, func(f *arch.Frame) {}))
	assert.Error(t, c.InstallIRQ(-1, func(f *arch.Frame) {}))
}

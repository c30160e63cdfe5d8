package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/bootinfo"
	"github.com/nexskernel/core/console"
	"github.com/nexskernel/core/internal/capstore"
	"github.com/nexskernel/core/internal/sched"
	"github.com/nexskernel/core/internal/trap"
)

func bootTestKernel(t *testing.T) (*Kernel, *strings.Builder) {
	t.Helper()
	desc := bootinfo.Fallback()
	cpu := arch.NewSimCPU(3_000_000_000)
	var out strings.Builder
	sink := console.NewIOSink(&out)

	k, err := Boot(desc, cpu, sink, DefaultConfig())
	require.NoError(t, err)
	return k, &out
}

func TestBootWiresEverySubsystem(t *testing.T) {
	k, _ := bootTestKernel(t)
	assert.NotNil(t, k.Trap)
	assert.NotNil(t, k.Timer)
	assert.NotNil(t, k.Heap)
	assert.NotNil(t, k.Secure)
	assert.NotNil(t, k.Sched)
	assert.NotNil(t, k.Caps)
	assert.NotNil(t, k.Broker)
	assert.NotNil(t, k.Syscalls)
}

func TestBootSeedsKernelCapabilities(t *testing.T) {
	k, _ := bootTestKernel(t)
	assert.True(t, k.Caps.Check(0, uint16(capstore.Admin)))
}

func TestBootInstantiatesIdleTask(t *testing.T) {
	k, _ := bootTestKernel(t)
	idle, ok := k.Sched.Task(0)
	require.True(t, ok)
	assert.NotEqual(t, sched.Terminated, idle.State)
}

func TestSpawnTaskGrantsInheritedCapabilities(t *testing.T) {
	k, _ := bootTestKernel(t)
	pid, err := k.SpawnTask(0x4000, 127, sched.User, uint16(capstore.MsgSend)|uint16(capstore.MsgReceive))
	require.NoError(t, err)
	assert.True(t, k.Caps.Check(pid, uint16(capstore.MsgSend)))
	assert.False(t, k.Caps.Check(pid, uint16(capstore.KernelMode)))
}

func TestMemoryCarveReservesSecureTail(t *testing.T) {
	k, _ := bootTestKernel(t)
	stats := k.Heap.Stats()
	assert.Equal(t, stats.Total, stats.Used+stats.Free)
	assert.Equal(t, secureRegionBytes, k.Secure.Size())
}

func TestTimerIRQDrivesDispatch(t *testing.T) {
	k, _ := bootTestKernel(t)
	pid, err := k.SpawnTask(0x5000, 63, sched.User, 0)
	require.NoError(t, err)

	k.Trap.Raise(trap.TimerLine, true, &arch.Frame{})
	assert.Equal(t, pid, k.Sched.Current(), "a higher-priority task must preempt idle on the next timer tick")
}

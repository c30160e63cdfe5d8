package syscall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/console"
	"github.com/nexskernel/core/internal/buddy"
	"github.com/nexskernel/core/internal/capstore"
	"github.com/nexskernel/core/internal/msgqueue"
	"github.com/nexskernel/core/internal/sched"
	"github.com/nexskernel/core/internal/timer"
	"github.com/nexskernel/core/internal/trap"
)

func newTestTable(t *testing.T) (*Table, int) {
	t.Helper()
	h, err := buddy.New(make([]byte, 4<<20), 12)
	require.NoError(t, err)
	s := sched.New(h)
	caps := capstore.New()
	broker := msgqueue.NewBroker(msgqueue.NewSlab(h))
	cpu := arch.NewSimCPU(3_000_000_000)
	tm := timer.Calibrate(cpu)
	sink := console.NewIOSink(new(strings.Builder))
	keyboard := &trap.KeyboardRing{}

	pid, err := s.Create(0x1000, 127, sched.User)
	require.NoError(t, err)
	require.NoError(t, caps.Create(pid, 0, uint16(capstore.IORead)|uint16(capstore.IOWrite)|uint16(capstore.MsgSend)|uint16(capstore.MsgReceive)))
	broker.MarkActive(pid)

	s.Dispatch(0, 0) // make pid current
	require.Equal(t, pid, s.Current())

	return New(s, caps, broker, tm, h, sink, cpu, keyboard), pid
}

func TestGetpidReturnsCaller(t *testing.T) {
	tab, pid := newTestTable(t)
	f := &arch.Frame{RAX: Getpid}
	tab.Dispatch(f)
	assert.Equal(t, uint64(pid), f.RAX)
}

func TestUnknownNumberReturnsMinusOne(t *testing.T) {
	tab, _ := newTestTable(t)
	f := &arch.Frame{RAX: 255}
	tab.Dispatch(f)
	assert.Equal(t, errDenied, f.RAX)
}

func TestWriteDeniedWithoutCapability(t *testing.T) {
	tab, pid := newTestTable(t)
	require.NoError(t, tab.Caps.Revoke(0, pid, uint16(capstore.IOWrite)))
	f := &arch.Frame{RAX: Write, RDI: uint64('x')}
	tab.Dispatch(f)
	assert.Equal(t, errDenied, f.RAX)
}

func TestWriteSucceedsWithCapability(t *testing.T) {
	tab, _ := newTestTable(t)
	f := &arch.Frame{RAX: Write, RDI: uint64('x')}
	tab.Dispatch(f)
	assert.Equal(t, uint64(1), f.RAX)
}

func TestMsgsndToActiveReceiverReturnsZero(t *testing.T) {
	tab, pid := newTestTable(t)
	other, err := tab.Sched.Create(0x2000, 127, sched.User)
	require.NoError(t, err)
	require.NoError(t, tab.Caps.Create(other, 0, uint16(capstore.MsgSend)|uint16(capstore.MsgReceive)))
	tab.Broker.MarkActive(other)

	f := &arch.Frame{RAX: Msgsnd, RDI: uint64(other), RDX: 4}
	tab.Dispatch(f)
	assert.Equal(t, uint64(0), f.RAX)
	_ = pid
}

func TestReadDrainsKeyboardRingUpToRequestedLength(t *testing.T) {
	tab, _ := newTestTable(t)
	tab.Keyboard.Push('h')
	tab.Keyboard.Push('i')
	tab.Keyboard.Push('!')

	f := &arch.Frame{RAX: Read, RSI: 2}
	tab.Dispatch(f)
	assert.Equal(t, uint64(2), f.RAX)
	assert.True(t, tab.Keyboard.Available(), "third scancode should remain queued")
}

func TestReadReturnsZeroWhenRingEmpty(t *testing.T) {
	tab, _ := newTestTable(t)
	f := &arch.Frame{RAX: Read, RSI: 8}
	tab.Dispatch(f)
	assert.Equal(t, uint64(0), f.RAX)
}

func TestReadDeniedWithoutCapability(t *testing.T) {
	tab, pid := newTestTable(t)
	require.NoError(t, tab.Caps.Revoke(0, pid, uint16(capstore.IORead)))
	tab.Keyboard.Push('x')
	f := &arch.Frame{RAX: Read, RSI: 1}
	tab.Dispatch(f)
	assert.Equal(t, errDenied, f.RAX)
}

func TestMeminfoSyscallReturnsUsedBytes(t *testing.T) {
	tab, _ := newTestTable(t)
	before := tab.Meminfo()
	tab.Heap.Alloc(100)
	f := &arch.Frame{RAX: Meminfo}
	tab.Dispatch(f)
	assert.Greater(t, f.RAX, uint64(before.Used))
}

func TestGetfreqReturnsCalibratedKHz(t *testing.T) {
	tab, _ := newTestTable(t)
	f := &arch.Frame{RAX: Getfreq}
	tab.Dispatch(f)
	assert.NotZero(t, f.RAX)
}

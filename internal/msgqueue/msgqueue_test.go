package msgqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexskernel/core/arch"
	"github.com/nexskernel/core/internal/buddy"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	h, err := buddy.New(make([]byte, 4<<20), 12)
	require.NoError(t, err)
	b := NewBroker(NewSlab(h))
	b.MarkActive(1)
	b.MarkActive(2)
	b.MarkActive(3)
	return b
}

func TestClassForPicksSmallestFit(t *testing.T) {
	assert.Equal(t, 0, classFor(1))
	assert.Equal(t, 0, classFor(16))
	assert.Equal(t, 1, classFor(17))
	assert.Equal(t, 4, classFor(4096))
	assert.Equal(t, -1, classFor(4097))
}

func TestSendReceiveFIFO(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.Send(1, 2, Data, []byte("first")))
	require.NoError(t, b.Send(1, 2, Data, []byte("second")))

	out := make([]byte, 16)
	sender, _, n, err := b.Receive(arch.NewSimCPU(1<<20), 2, out)
	require.NoError(t, err)
	assert.Equal(t, 1, sender)
	assert.Equal(t, "first", string(out[:n]))

	_, _, n, err = b.Receive(arch.NewSimCPU(1<<20), 2, out)
	require.NoError(t, err)
	assert.Equal(t, "second", string(out[:n]))
}

func TestSendRejectsPayloadTooLarge(t *testing.T) {
	b := newTestBroker(t)
	err := b.Send(1, 2, Data, make([]byte, 5000))
	assert.Error(t, err)
}

func TestSendRejectsWhenQueueFull(t *testing.T) {
	b := newTestBroker(t)
	for i := 0; i < QueueDepth; i++ {
		require.NoError(t, b.Send(1, 2, Data, []byte("x")))
	}
	err := b.Send(1, 2, Data, []byte("overflow"))
	assert.Error(t, err)
	assert.Equal(t, QueueDepth, b.Count(2))
}

func TestBroadcastExcludesSenderAndTaskZero(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.Send(1, 0, Data, []byte("hi")))

	assert.False(t, b.Available(1), "sender must not receive its own broadcast")
	assert.False(t, b.Available(0), "task id 0 is excluded from broadcast fan-out")
	assert.True(t, b.Available(2))
	assert.True(t, b.Available(3))
}

func TestBroadcastFailsWhenNoReceiverAccepts(t *testing.T) {
	// only the sender itself is active: nobody else can receive
	solo := NewBroker(NewSlab(mustHeap(t)))
	solo.MarkActive(1)
	err := solo.Send(1, 0, Data, []byte("lonely"))
	assert.Error(t, err)
}

func mustHeap(t *testing.T) *buddy.Heap {
	t.Helper()
	h, err := buddy.New(make([]byte, 1<<20), 10)
	require.NoError(t, err)
	return h
}

func TestSendPointerCarriesValueVerbatim(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.SendPointer(1, 2, 0xDEADBEEFCAFEBABE))

	out := make([]byte, 8)
	_, typ, n, err := b.Receive(arch.NewSimCPU(1<<20), 2, out)
	require.NoError(t, err)
	assert.Equal(t, Pointer, typ)
	require.Equal(t, 8, n)

	var got uint64
	for i := 0; i < 8; i++ {
		got |= uint64(out[i]) << (8 * i)
	}
	assert.Equal(t, uint64(0xDEADBEEFCAFEBABE), got)
}

func TestClearDrainsAndReturnsToSlab(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.Send(1, 2, Data, []byte("a")))
	require.NoError(t, b.Send(1, 2, Data, []byte("b")))
	assert.Equal(t, 2, b.Count(2))

	b.Clear(2)
	assert.Equal(t, 0, b.Count(2))
	assert.False(t, b.Available(2))
}

func TestSlabReuseAfterRelease(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.Send(1, 2, Data, []byte("x")))
	out := make([]byte, 16)
	_, _, _, err := b.Receive(arch.NewSimCPU(1<<20), 2, out)
	require.NoError(t, err)
	assert.Equal(t, 1, len(b.slab.freeList[0]), "released envelope goes back to its class free list")

	require.NoError(t, b.Send(1, 2, Data, []byte("y")))
	assert.Equal(t, 0, len(b.slab.freeList[0]), "the next acquire of the same class reuses the freed envelope")
}

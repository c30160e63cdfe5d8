package trap

import "github.com/nexskernel/core/arch"

// KeyboardBufferDepth is the fixed capacity of the scancode input ring
// fed by the keyboard IRQ (spec.md §4.A/§6: vector 33, line 1).
const KeyboardBufferDepth = 256

const keyboardDataPort = 0x60

// KeyboardRing is a small bounded FIFO of raw scancodes, grounded on
// the same fixed-slice ring shape the teacher's container/ring.Ring
// uses for its item storage — reduced here to a byte ring with a
// read/write cursor and count instead of a generic doubly-navigable
// ring, since the keyboard IRQ only ever needs push-from-one-end,
// pop-from-the-other.
type KeyboardRing struct {
	buf      [KeyboardBufferDepth]byte
	readPos  int
	writePos int
	count    int
}

// Push enqueues a scancode, dropping the oldest entry if the ring is
// full (input overrun, not a kernel failure).
func (k *KeyboardRing) Push(scancode byte) {
	if k.count == KeyboardBufferDepth {
		k.readPos = (k.readPos + 1) % KeyboardBufferDepth
		k.count--
	}
	k.buf[k.writePos] = scancode
	k.writePos = (k.writePos + 1) % KeyboardBufferDepth
	k.count++
}

// Pop dequeues the oldest scancode, or returns false if empty.
func (k *KeyboardRing) Pop() (byte, bool) {
	if k.count == 0 {
		return 0, false
	}
	b := k.buf[k.readPos]
	k.readPos = (k.readPos + 1) % KeyboardBufferDepth
	k.count--
	return b, true
}

// Available reports whether at least one scancode is queued.
func (k *KeyboardRing) Available() bool { return k.count > 0 }

// InstallKeyboard wires line 1's IRQ handler to read the controller's
// data port and push the byte into ring.
func (c *Core) InstallKeyboard(ring *KeyboardRing) error {
	return c.InstallIRQ(KeyboardLine, func(_ *arch.Frame) {
		ring.Push(c.cpu.IORead8(keyboardDataPort))
	})
}

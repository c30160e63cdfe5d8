package msgqueue

import (
	"fmt"

	"github.com/nexskernel/core/arch"
)

// QueueDepth is the fixed per-receiver bound, per spec.md §6.
const QueueDepth = 64

// MaxTasks mirrors internal/sched.MaxTasks and internal/capstore.MaxTasks
// (the shared task-id space); kept local to avoid an import cycle.
const MaxTasks = 64

// queue is a bounded ring buffer of envelope pointers, lazily allocated
// the first time a sender targets a given receiver, per spec.md §4.G.
type queue struct {
	buf      [QueueDepth]*Envelope
	readPos  int
	writePos int
	count    int
}

func (q *queue) push(e *Envelope) bool {
	if q.count == QueueDepth {
		return false
	}
	q.buf[q.writePos] = e
	q.writePos = (q.writePos + 1) % QueueDepth
	q.count++
	return true
}

func (q *queue) pop() (*Envelope, bool) {
	if q.count == 0 {
		return nil, false
	}
	e := q.buf[q.readPos]
	q.buf[q.readPos] = nil
	q.readPos = (q.readPos + 1) % QueueDepth
	q.count--
	return e, true
}

// Broker owns the slab allocator and every receiver's queue, and
// implements send/send_pointer/receive/available/count/clear exactly
// as spec.md §4.G describes them.
type Broker struct {
	slab   *Slab
	queues [MaxTasks]*queue
	clock  uint64
	active [MaxTasks]bool
}

// NewBroker wraps a Slab with the per-receiver queue table.
func NewBroker(slab *Slab) *Broker {
	return &Broker{slab: slab}
}

// MarkActive/MarkInactive track which task ids are eligible broadcast
// receivers — the broker does not own the scheduler's task table, so
// callers (the kernel facade) report task lifecycle transitions here.
func (b *Broker) MarkActive(task int) {
	if inRange(task) {
		b.active[task] = true
	}
}

func (b *Broker) MarkInactive(task int) {
	if inRange(task) {
		b.active[task] = false
	}
}

func (b *Broker) bump() uint64 {
	b.clock++
	return b.clock
}

func (b *Broker) queueFor(receiver int) *queue {
	if b.queues[receiver] == nil {
		b.queues[receiver] = &queue{}
	}
	return b.queues[receiver]
}

// Send implements spec.md §4.G's send(sender, receiver, type, data,
// size). receiver == 0 fans out to every active receiver except the
// sender and task id 0 itself — the broadcast/kernel-id-0 ambiguity
// spec.md's Open Questions calls out is resolved by excluding id 0 from
// fan-out (recorded in DESIGN.md).
func (b *Broker) Send(sender, receiver int, typ MsgType, data []byte) error {
	if !inRange(sender) || !inRange(receiver) {
		return fmt.Errorf("msgqueue: task id out of range (sender=%d receiver=%d)", sender, receiver)
	}

	if receiver == 0 {
		delivered := false
		for r := 1; r < MaxTasks; r++ {
			if r == sender || !b.active[r] {
				continue
			}
			if b.sendOne(sender, r, typ, data) == nil {
				delivered = true
			}
		}
		if !delivered {
			return fmt.Errorf("msgqueue: broadcast from %d reached no receiver", sender)
		}
		return nil
	}

	return b.sendOne(sender, receiver, typ, data)
}

func (b *Broker) sendOne(sender, receiver int, typ MsgType, data []byte) error {
	q := b.queueFor(receiver)
	if q.count == QueueDepth {
		return fmt.Errorf("msgqueue: receiver %d queue is full", receiver)
	}

	e, err := b.slab.Acquire(len(data))
	if err != nil {
		return err
	}
	e.Sender, e.Receiver, e.Type, e.Timestamp = sender, receiver, typ, b.bump()
	e.writePayload(data)

	if !q.push(e) {
		b.slab.Release(e)
		return fmt.Errorf("msgqueue: receiver %d queue is full", receiver)
	}
	return nil
}

// SendPointer implements send_pointer: a fixed POINTER-typed envelope
// carrying an 8-byte buddy-allocated pointer verbatim, transferring
// ownership to the receiver.
func (b *Broker) SendPointer(sender, receiver int, ptr uint64) error {
	var payload [8]byte
	for i := 0; i < 8; i++ {
		payload[i] = byte(ptr >> (8 * i))
	}
	if !inRange(receiver) {
		return fmt.Errorf("msgqueue: task id out of range (receiver=%d)", receiver)
	}
	q := b.queueFor(receiver)
	if q.count == QueueDepth {
		return fmt.Errorf("msgqueue: receiver %d queue is full", receiver)
	}
	e, err := b.slab.Acquire(len(payload))
	if err != nil {
		return err
	}
	e.Sender, e.Receiver, e.Type, e.Timestamp = sender, receiver, Pointer, b.bump()
	e.writePayload(payload[:])
	if !q.push(e) {
		b.slab.Release(e)
		return fmt.Errorf("msgqueue: receiver %d queue is full", receiver)
	}
	return nil
}

// Receive implements spec.md §4.G's receive(receiver, out): it blocks
// by halting cpu while the queue is empty, then copies the envelope
// into out, frees it back to its slab, and returns the header fields.
func (b *Broker) Receive(cpu arch.CPU, receiver int, out []byte) (sender int, typ MsgType, n int, err error) {
	if !inRange(receiver) {
		return 0, 0, 0, fmt.Errorf("msgqueue: task id out of range (%d)", receiver)
	}
	q := b.queueFor(receiver)
	for q.count == 0 {
		cpu.Halt()
	}
	e, _ := q.pop()
	n = copy(out, e.Payload())
	sender, typ = e.Sender, e.Type
	b.slab.Release(e)
	return sender, typ, n, nil
}

// Available reports whether receiver has at least one queued message.
func (b *Broker) Available(receiver int) bool {
	if !inRange(receiver) {
		return false
	}
	return b.queueFor(receiver).count > 0
}

// Count returns the number of queued messages for receiver.
func (b *Broker) Count(receiver int) int {
	if !inRange(receiver) {
		return 0
	}
	return b.queueFor(receiver).count
}

// Clear drains receiver's queue, returning every envelope to its slab.
func (b *Broker) Clear(receiver int) {
	if !inRange(receiver) {
		return
	}
	q := b.queueFor(receiver)
	for {
		e, ok := q.pop()
		if !ok {
			break
		}
		b.slab.Release(e)
	}
}

func inRange(task int) bool { return task >= 0 && task < MaxTasks }

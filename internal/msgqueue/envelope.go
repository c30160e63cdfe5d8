package msgqueue

import "github.com/nexskernel/core/internal/hack"

// MsgType identifies the kind of payload an envelope carries.
type MsgType uint32

const (
	Data MsgType = iota
	Pointer
)

// Envelope is a single in-flight message: {sender, receiver, type,
// payload-size, slab-class, timestamp, payload[...]}, per spec.md §4.G.
type Envelope struct {
	Sender      int
	Receiver    int
	Type        MsgType
	PayloadSize int
	Timestamp   uint64

	class   int
	payload []byte
}

// Payload returns the envelope's payload, truncated to its declared
// size.
func (e *Envelope) Payload() []byte {
	return e.payload[:e.PayloadSize]
}

// PayloadString views the payload as a string with no copy, for
// diagnostic paths (the panic banner, console logging) that want to
// render a text-typed message without allocating.
func (e *Envelope) PayloadString() string {
	return hack.ByteSliceToString(e.Payload())
}

// writePayload copies data into the envelope's backing slab slot and
// records its length. Callers must have already checked data fits the
// envelope's class capacity.
func (e *Envelope) writePayload(data []byte) {
	n := copy(e.payload, data)
	e.PayloadSize = n
}

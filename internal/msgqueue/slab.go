// Package msgqueue implements the kernel's capability-and-IPC message
// system: size-classed envelope allocation over the buddy heap and a
// per-receiver bounded queue of envelope pointers, per spec.md §4.G.
//
// The slab allocator is grounded on the teacher's cache/mempool.Malloc:
// that package buckets allocations into power-of-two size classes
// backed by per-class sync.Pool free lists, using math/bits.Len to pick
// a class and a footer tag to identify which pool a []byte came from.
// This package keeps the same "classes + free list + tag" shape but
// targets the buddy heap instead of the Go heap, and the five fixed
// classes spec.md names instead of a power-of-two ladder, with a
// slice-backed free list of envelopes per class instead of a sync.Pool.
package msgqueue

import "fmt"

// sizeClasses are the five fixed slab buckets, per spec.md §4.G.
var sizeClasses = [5]int{16, 64, 256, 1024, 4096}

const envelopeHeaderSize = 40 // sender,receiver,type,payloadSize,class,timestamp + link

// classFor returns the index of the smallest class able to hold
// payloadSize bytes, or -1 if payloadSize exceeds the largest class.
func classFor(payloadSize int) int {
	for i, c := range sizeClasses {
		if payloadSize <= c {
			return i
		}
	}
	return -1
}

// Allocator is the subset of internal/buddy.Heap the slab needs.
type Allocator interface {
	Alloc(size int) []byte
	Free(block []byte)
}

// Slab manages the five free lists described by spec.md §4.G: each
// class pops from its free list when nonempty, else calls through to
// the buddy heap for header+class_size bytes.
type Slab struct {
	alloc    Allocator
	freeList [5][]*Envelope // intrusive would require unsafe re-walking; a slice is the Go-idiomatic equivalent of the teacher's pool
}

// NewSlab wraps alloc with the five fixed size classes.
func NewSlab(alloc Allocator) *Slab {
	return &Slab{alloc: alloc}
}

// Acquire returns an envelope sized for at least payloadSize bytes of
// payload, reused from the class free list when possible.
func (s *Slab) Acquire(payloadSize int) (*Envelope, error) {
	class := classFor(payloadSize)
	if class == -1 {
		return nil, fmt.Errorf("msgqueue: payload of %d bytes exceeds largest slab class (%d)", payloadSize, sizeClasses[len(sizeClasses)-1])
	}

	if n := len(s.freeList[class]); n > 0 {
		e := s.freeList[class][n-1]
		s.freeList[class] = s.freeList[class][:n-1]
		e.PayloadSize = 0
		return e, nil
	}

	backing := s.alloc.Alloc(envelopeHeaderSize + sizeClasses[class])
	if backing == nil {
		return nil, fmt.Errorf("msgqueue: buddy allocator exhausted for slab class %d", class)
	}
	return &Envelope{class: class, payload: backing[envelopeHeaderSize:]}, nil
}

// Release returns e to its class free list. Per spec.md §4.G this never
// releases memory back to the buddy heap — slab reuse amortizes
// coalescing cost.
func (s *Slab) Release(e *Envelope) {
	e.Sender, e.Receiver, e.Type, e.PayloadSize, e.Timestamp = 0, 0, 0, 0, 0
	s.freeList[e.class] = append(s.freeList[e.class], e)
}

// ClassCapacity returns the payload capacity of the class that backs e.
func (e *Envelope) ClassCapacity() int { return sizeClasses[e.class] }

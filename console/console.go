// Package console hosts the kernel's one text-output seam: the
// ConsoleSink interface from spec.md's "Out of scope" list. The actual
// VGA-text and serial-UART drivers are external collaborators; this
// package only defines the interface every internal/ subsystem logs
// through, plus a couple of hosted sinks used by tests and cmd/kernel.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/nexskernel/core/bufiox"
)

// Sink is the console interface every kernel subsystem writes through.
// A hardware build backs it with a VGA text-mode driver and a 16550
// serial mirror; this package only needs the contract.
type Sink interface {
	PutString(s string)
	PutChar(c byte)
	SetColor(fg, bg uint8)
	Clear()
}

// Writer is an io.Writer adapter for a Sink, letting fmt.Fprintf and
// similar helpers target a Sink the way they would any other writer.
type Writer struct {
	Sink Sink
}

func (w Writer) Write(p []byte) (int, error) {
	w.Sink.PutString(string(p))
	return len(p), nil
}

// Multi fans a single stream of output out to several sinks at once —
// the "text console plus serial mirror" pairing spec.md's external
// interfaces section describes.
type Multi struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewMulti fans out to the given sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) PutString(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s2 := range m.sinks {
		s2.PutString(s)
	}
}

func (m *Multi) PutChar(c byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		s.PutChar(c)
	}
}

func (m *Multi) SetColor(fg, bg uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		s.SetColor(fg, bg)
	}
}

func (m *Multi) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		s.Clear()
	}
}

// IOSink wraps an io.Writer (e.g. os.Stdout, a bytes.Buffer in tests) as
// a Sink. SetColor/Clear are no-ops for a plain text stream.
type IOSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewIOSink wraps w as a Sink.
func NewIOSink(w io.Writer) *IOSink {
	return &IOSink{w: w}
}

func (s *IOSink) PutString(str string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, str)
}

func (s *IOSink) PutChar(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write([]byte{c})
}

func (s *IOSink) SetColor(uint8, uint8) {}
func (s *IOSink) Clear()                {}

// BufferedSink wraps an io.Writer behind bufiox's zero-copy Writer
// instead of writing straight through on every PutString/PutChar call —
// useful for a serial-mirror sink where each syscall write is cheap to
// batch and flush once per scheduler quantum rather than once per byte.
// SetColor/Clear are no-ops for a plain text stream.
type BufferedSink struct {
	mu sync.Mutex
	w  bufiox.Writer
}

// NewBufferedSink wraps w as a BufferedSink. Flush must be called
// (directly, or via Clear) to push buffered output to the underlying
// writer.
func NewBufferedSink(w io.Writer) *BufferedSink {
	return &BufferedSink{w: bufiox.NewDefaultWriter(w)}
}

func (s *BufferedSink) PutString(str string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.WriteBinary([]byte(str))
}

func (s *BufferedSink) PutChar(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.w.Malloc(1)
	if err != nil {
		return
	}
	buf[0] = c
}

func (s *BufferedSink) SetColor(uint8, uint8) {}

// Clear flushes the buffered output; the sink has no screen to clear.
func (s *BufferedSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
}

// Flush pushes any buffered output to the underlying writer without
// waiting for Clear.
func (s *BufferedSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

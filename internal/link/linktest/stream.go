// Package linktest provides an in-memory link.Stream for tests.
package linktest

import (
	"bytes"
	"io"
	"time"
)

// Stream is a scripted link.Stream. Input queued with Feed is visible at
// once; input queued with Arrive becomes visible one chunk per call to
// Sleep, modelling bytes that come in while the board is pausing.
type Stream struct {
	rx      []byte
	pending [][]byte
	tx      bytes.Buffer

	// Sleeps records every pause requested through Sleep.
	Sleeps []time.Duration
	// FailWritesAfter makes Write fail once that many writes succeeded (0 = never).
	FailWritesAfter int
	writes          int
}

// Feed appends bytes that are already buffered.
func (s *Stream) Feed(data ...byte) {
	s.rx = append(s.rx, data...)
}

// Arrive queues a chunk for delivery on a later Sleep.
func (s *Stream) Arrive(data ...byte) {
	s.pending = append(s.pending, data)
}

// Sleep records d and delivers the next pending chunk.
func (s *Stream) Sleep(d time.Duration) {
	s.Sleeps = append(s.Sleeps, d)
	if len(s.pending) > 0 {
		s.rx = append(s.rx, s.pending[0]...)
		s.pending = s.pending[1:]
	}
}

// Buffered returns the number of visible unread bytes.
func (s *Stream) Buffered() int {
	return len(s.rx)
}

// ReadByte returns the next visible byte. When nothing is visible it pulls the
// next pending chunk; with nothing left at all it returns io.EOF, the way a
// closed port ends a blocking read.
func (s *Stream) ReadByte() (byte, error) {
	if len(s.rx) == 0 && len(s.pending) > 0 {
		s.rx = append(s.rx, s.pending[0]...)
		s.pending = s.pending[1:]
	}
	if len(s.rx) == 0 {
		return 0, io.EOF
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, nil
}

// Write records data as sent.
func (s *Stream) Write(data []byte) (int, error) {
	if s.FailWritesAfter > 0 && s.writes >= s.FailWritesAfter {
		return 0, io.ErrClosedPipe
	}
	s.writes++
	return s.tx.Write(data)
}

// Sent returns everything written so far.
func (s *Stream) Sent() []byte {
	return s.tx.Bytes()
}

// Reset forgets the recorded output.
func (s *Stream) Reset() {
	s.tx.Reset()
}

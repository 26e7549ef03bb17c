// Package link implements the board side of the serial link: ACK/NAK
// framing, bounded diagnostic messages and the session handshake.
package link

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bigbag/sst39sf-programmer/internal/protocol"
)

// HandshakeInterval is the pause between two WAITING broadcasts.
const HandshakeInterval = time.Second

// Stream is a byte stream whose receive side can report how many bytes are
// already buffered. serial.RxBuffer implements it.
type Stream interface {
	io.Writer
	ReadByte() (byte, error)
	Buffered() int
}

// Channel frames control bytes and messages over a Stream.
type Channel struct {
	s     Stream
	log   logrus.FieldLogger
	sleep func(time.Duration)
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for link events.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Channel) {
		c.log = logger
	}
}

// WithSleep replaces the function used to pause between broadcasts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Channel) {
		c.sleep = sleep
	}
}

// New creates a Channel on s.
func New(s Stream, opts ...Option) *Channel {
	c := &Channel{
		s:     s,
		log:   logrus.StandardLogger(),
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sleep pauses for d using the channel's clock.
func (c *Channel) Sleep(d time.Duration) {
	c.sleep(d)
}

// SendAck writes a single ACK byte.
func (c *Channel) SendAck() error {
	return c.Write([]byte{protocol.Ack})
}

// SendNak writes a NAK frame carrying message, truncated to fit.
func (c *Channel) SendNak(message string) error {
	c.log.WithField("message", message).Debug("sending NAK")
	return c.Write(protocol.NakFrame(message))
}

// Write sends data verbatim.
func (c *Channel) Write(data []byte) error {
	if _, err := c.s.Write(data); err != nil {
		return errors.Wrap(err, "link write failed")
	}
	return nil
}

// BlockingRead waits, without a timeout, until one byte is available and
// returns it.
func (c *Channel) BlockingRead() (byte, error) {
	b, err := c.s.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "link read failed")
	}
	return b, nil
}

// ReadFull fills buf with blocking reads.
func (c *Channel) ReadFull(buf []byte) error {
	for i := range buf {
		b, err := c.BlockingRead()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// Discard drops every byte currently buffered and returns how many there were.
func (c *Channel) Discard() (int, error) {
	n := 0
	for c.s.Buffered() > 0 {
		if _, err := c.s.ReadByte(); err != nil {
			return n, errors.Wrap(err, "link read failed")
		}
		n++
	}
	return n, nil
}

package link

import (
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/status"
)

// Handshake blocks until the host answers the WAITING broadcast with an ACK.
//
// Every pass first consumes what arrived while sleeping: an ACK completes the
// handshake, any other byte is reported with a NAK and the rest of the buffer
// is thrown away as noise. Then WAITING is broadcast again. There is no retry
// limit; only a failing link ends the loop early.
func (c *Channel) Handshake(ind status.Indicator) error {
	ind.SetStatus(status.Waiting)
	c.log.Info("waiting for host")

	for {
		for c.s.Buffered() > 0 {
			b, err := c.BlockingRead()
			if err != nil {
				return err
			}
			if b == protocol.Ack {
				c.log.Info("host connected")
				return nil
			}

			msg := "While waiting for connection, got byte 0x" + protocol.Hex(b) + " instead of 0x06 (ACK)."
			if err := c.SendNak(msg); err != nil {
				return err
			}
			n, err := c.Discard()
			if err != nil {
				return err
			}
			c.log.WithField("byte", protocol.Hex(b)).WithField("discarded", n).Warn("unexpected byte during handshake")
		}

		if err := c.Write(protocol.WaitingFrame()); err != nil {
			return err
		}
		c.sleep(HandshakeInterval)
	}
}

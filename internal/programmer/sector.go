package programmer

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bigbag/sst39sf-programmer/internal/protocol"
)

// ProgramSector runs the sector programming machine until the state leaves
// its four states, then hands control back to the dispatcher. It returns nil
// after a committed sector or a recoverable abort, the link error if the link
// fails, and a *FatalError if the controller halted.
func (c *Controller) ProgramSector() error {
	if !c.state.IsSectorState() {
		return c.halt(errors.Errorf("sector programming entered in state %v", c.state))
	}

	c.sector = make([]byte, c.flash.Chip().SectorSize)
	defer func() {
		c.sector = nil
		c.index = 0
	}()

	for c.state.IsSectorState() {
		var err error
		switch c.state {
		case protocol.BeginProgramSector:
			err = c.receiveIndex()
		case protocol.ProgramSectorGotIndex:
			err = c.confirmIndex()
		case protocol.ProgramSectorIndexConfirmed:
			err = c.receiveData()
		case protocol.ProgramSectorGotData:
			err = c.confirmData()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// abort reports a recoverable failure and drops the transaction.
func (c *Controller) abort(message string) error {
	c.log.WithField("state", c.state.String()).Warn(message)
	c.setState(protocol.WaitingForCommand)
	return c.link.SendNak(message)
}

func (c *Controller) receiveIndex() error {
	var raw [protocol.SectorIndexLength]byte
	if err := c.link.ReadFull(raw[:]); err != nil {
		return err
	}

	index := int(binary.LittleEndian.Uint16(raw[:]))
	if !c.flash.Chip().ValidSector(index) {
		return c.abort(fmt.Sprintf("While programming sector, got sector index %d, which is too large.", index))
	}

	if err := c.link.SendAck(); err != nil {
		return err
	}
	// echoed verbatim so the host can check its own bytes
	if err := c.link.Write(raw[:]); err != nil {
		return err
	}

	c.index = index
	c.setState(protocol.ProgramSectorGotIndex)
	return nil
}

func (c *Controller) confirmIndex() error {
	b, err := c.link.BlockingRead()
	if err != nil {
		return err
	}

	next, outcome := protocol.Confirm(c.state, b)
	if outcome == protocol.Abort {
		return c.abort("While programming sector and waiting for ACK/NAK on echoed sector index, got byte 0x" +
			protocol.Hex(b) + " instead.")
	}
	c.setState(next)
	return nil
}

func (c *Controller) receiveData() error {
	if err := c.link.ReadFull(c.sector); err != nil {
		return err
	}
	if err := c.link.Write(c.sector); err != nil {
		return err
	}
	c.setState(protocol.ProgramSectorGotData)
	return nil
}

func (c *Controller) confirmData() error {
	b, err := c.link.BlockingRead()
	if err != nil {
		return err
	}

	next, outcome := protocol.Confirm(c.state, b)
	switch outcome {
	case protocol.Proceed:
		return c.commit()
	case protocol.Abort:
		return c.abort("While programming sector and waiting for ACK/NAK on echoed sector data, got byte 0x" +
			protocol.Hex(b) + " instead.")
	}
	c.setState(next)
	return nil
}

// commit erases the sector, programs every byte and reads every byte back.
func (c *Controller) commit() error {
	chip := c.flash.Chip()
	start := chip.SectorAddress(c.index)
	logger := c.log.WithField("sector", c.index)

	if err := c.flash.SetDataBusOutput(); err != nil {
		return c.halt(err)
	}
	if err := c.flash.EraseSector(c.index); err != nil {
		return c.halt(err)
	}
	for i, b := range c.sector {
		if err := c.flash.Program(start+uint32(i), b); err != nil {
			return c.halt(err)
		}
	}

	if err := c.flash.SetDataBusInput(); err != nil {
		return c.halt(err)
	}
	for i, want := range c.sector {
		addr := start + uint32(i)
		got, err := c.flash.Read(addr)
		if err != nil {
			return c.halt(err)
		}
		if got != want {
			return c.halt(&VerifyError{Address: addr, Wrote: want, Read: got})
		}
	}

	logger.Info("sector programmed")
	if err := c.link.SendAck(); err != nil {
		return err
	}
	c.setState(protocol.WaitingForCommand)
	return nil
}

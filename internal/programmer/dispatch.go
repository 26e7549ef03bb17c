package programmer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/status"
)

// errCommandTooLong marks a token that did not fit in MaxCommandLength.
var errCommandTooLong = errors.New("command too long")

// EraseChip handles BeginEraseChip: the whole chip is erased and ACKed.
func (c *Controller) EraseChip() error {
	if c.state != protocol.BeginEraseChip {
		return c.halt(errors.Errorf("chip erase entered in state %v", c.state))
	}

	if err := c.flash.SetDataBusOutput(); err != nil {
		return c.halt(err)
	}
	if err := c.flash.EraseChip(); err != nil {
		return c.halt(err)
	}

	c.log.Info("chip erased")
	if err := c.link.SendAck(); err != nil {
		return err
	}
	c.setState(protocol.WaitingForCommand)
	return nil
}

// readCommand reads one null-terminated command token.
func (c *Controller) readCommand() (string, error) {
	token := make([]byte, 0, protocol.MaxCommandLength)
	for {
		b, err := c.link.BlockingRead()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(token), nil
		}
		if len(token) == protocol.MaxCommandLength-1 {
			return string(token), errCommandTooLong
		}
		token = append(token, b)
	}
}

// Dispatch runs the handler for one command token. It returns true once the
// host has sent DONE.
func (c *Controller) Dispatch(token string) (bool, error) {
	state, ok := protocol.ParseCommand(token)
	if !ok {
		return false, c.link.SendNak(fmt.Sprintf("Got unknown command %q.", token))
	}

	c.log.WithField("command", token).Debug("command received")
	c.setState(state)

	switch state {
	case protocol.BeginProgramSector:
		return false, c.ProgramSector()
	case protocol.BeginEraseChip:
		return false, c.EraseChip()
	default:
		c.status.SetStatus(status.Finished)
		return true, c.link.SendAck()
	}
}

// Serve prepares the bus, waits for the host and then handles commands until
// the host sends DONE. It returns the link error if the link fails and a
// *FatalError if the controller halted.
func (c *Controller) Serve() error {
	if err := c.flash.Setup(); err != nil {
		return errors.Wrap(err, "bus setup failed")
	}

	if err := c.link.Handshake(c.status); err != nil {
		return err
	}
	c.status.SetStatus(status.Working)

	for {
		token, err := c.readCommand()
		if errors.Is(err, errCommandTooLong) {
			if _, err := c.link.Discard(); err != nil {
				return err
			}
			if err := c.link.SendNak(fmt.Sprintf("Command %q... is too long.", token)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		done, err := c.Dispatch(token)
		if err != nil {
			return err
		}
		if done {
			c.log.Info("host finished")
			return nil
		}
	}
}

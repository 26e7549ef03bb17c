// Package programmer runs the board side of the programming protocol: it owns
// the protocol state register, receives and verifies sector payloads over the
// link and commits them to flash.
package programmer

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/link"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/status"
)

// DefaultHaltInterval is the pause between NAKs while halted.
const DefaultHaltInterval = 5 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithIndicator sets where status changes are shown.
func WithIndicator(ind status.Indicator) Option {
	return func(c *Controller) {
		c.status = ind
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.log = logger
	}
}

// WithHaltInterval sets the pause between NAKs while halted.
func WithHaltInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.haltInterval = d
		}
	}
}

// Controller is the single owner of the protocol state. It is driven by one
// goroutine and is not safe for concurrent use.
type Controller struct {
	link  *link.Channel
	flash *flash.Driver

	status       status.Indicator
	log          logrus.FieldLogger
	haltInterval time.Duration

	state protocol.State

	// valid only inside one program-sector transaction
	index  int
	sector []byte
}

// New creates a Controller in WaitingForCommand.
func New(ch *link.Channel, drv *flash.Driver, opts ...Option) *Controller {
	c := &Controller{
		link:         ch,
		flash:        drv,
		status:       status.Log{},
		log:          logrus.StandardLogger(),
		haltInterval: DefaultHaltInterval,
		state:        protocol.WaitingForCommand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current protocol state.
func (c *Controller) State() protocol.State {
	return c.state
}

// SetState moves the state register, as the command dispatcher does when a
// command token arrives.
func (c *Controller) SetState(s protocol.State) {
	c.setState(s)
}

func (c *Controller) setState(s protocol.State) {
	if s != c.state {
		c.log.WithField("from", c.state.String()).WithField("to", s.String()).Debug("state change")
	}
	c.state = s
}

// halt is the only way out of an integrity or hardware failure: the status
// shows an error and the failure is repeated as a NAK every haltInterval
// until the link itself dies. It always returns a *FatalError.
func (c *Controller) halt(cause error) error {
	c.status.SetStatus(status.Error)
	c.log.WithError(cause).Error("halted")

	for {
		if err := c.link.SendNak(cause.Error()); err != nil {
			return &FatalError{Cause: cause, Link: err}
		}
		c.link.Sleep(c.haltInterval)
	}
}

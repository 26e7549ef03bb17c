// Package board binds the programmer to the GPIO lines of the host it runs
// on, through periph.io.
package board

import (
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
)

var hostInitialized atomic.Bool

// Init loads the periph.io host drivers once.
func Init() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return errors.Wrap(err, "host initialization failed")
		}
	}
	return nil
}

// Lookup resolves a line number to a registered GPIO pin.
func Lookup(line int) (gpio.PinIO, error) {
	p := gpioreg.ByName(strconv.Itoa(line))
	if p == nil {
		p = gpioreg.ByName("GPIO" + strconv.Itoa(line))
	}
	if p == nil {
		return nil, errors.Errorf("no GPIO line %d on this host", line)
	}
	return p, nil
}

// GPIO implements flash.GPIO on periph.io pins.
type GPIO struct {
	pins   map[int]gpio.PinIO
	levels map[int]gpio.Level
}

// OpenGPIO resolves every line of the pinout.
func OpenGPIO(pinout flash.Pinout) (*GPIO, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return newGPIO(pinout)
}

func newGPIO(pinout flash.Pinout) (*GPIO, error) {
	g := &GPIO{
		pins:   make(map[int]gpio.PinIO),
		levels: make(map[int]gpio.Level),
	}
	for _, line := range pinout.Lines() {
		p, err := Lookup(line)
		if err != nil {
			return nil, err
		}
		g.pins[line] = p
		g.levels[line] = gpio.Low
	}
	return g, nil
}

func (g *GPIO) pin(line int) (gpio.PinIO, error) {
	p, ok := g.pins[line]
	if !ok {
		return nil, errors.Errorf("line %d is not part of the pinout", line)
	}
	return p, nil
}

// SetDirection implements flash.GPIO. An output starts at the level last
// written to the line.
func (g *GPIO) SetDirection(line int, dir flash.Direction) error {
	p, err := g.pin(line)
	if err != nil {
		return err
	}
	switch dir {
	case flash.Input:
		return p.In(gpio.Float, gpio.NoEdge)
	case flash.Output:
		return p.Out(g.levels[line])
	default:
		return errors.Errorf("invalid direction %v for line %d", dir, line)
	}
}

// WritePin implements flash.GPIO.
func (g *GPIO) WritePin(line int, level gpio.Level) error {
	p, err := g.pin(line)
	if err != nil {
		return err
	}
	g.levels[line] = level
	return p.Out(level)
}

// ReadPin implements flash.GPIO.
func (g *GPIO) ReadPin(line int) (gpio.Level, error) {
	p, err := g.pin(line)
	if err != nil {
		return gpio.Low, err
	}
	return p.Read(), nil
}

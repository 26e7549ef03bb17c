package flash

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Direction of a GPIO line as seen from the programmer.
type Direction int

const (
	Unset Direction = iota
	Input
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unset"
	}
}

// GPIO is the pin-level capability the bus driver runs on. Pins are the
// logical line numbers listed in a Pinout.
type GPIO interface {
	SetDirection(pin int, dir Direction) error
	WritePin(pin int, level gpio.Level) error
	ReadPin(pin int) (gpio.Level, error)
}

// Pinout maps chip signals to GPIO lines.
type Pinout struct {
	WriteEnable  int // active low
	OutputEnable int // active low
	Address      []int
	Data         [DataBits]int
}

// DefaultPinout numbers the lines like the reference wiring: WE on 2, OE on 3,
// the address bus counting up from 22 and the data bus from 44.
func DefaultPinout(chip Chip) Pinout {
	return NewPinout(2, 3, 22, 44, chip.AddressBits)
}

// NewPinout builds a pinout whose address and data lines are consecutive.
func NewPinout(we, oe, addr0, dq0, addressBits int) Pinout {
	p := Pinout{
		WriteEnable:  we,
		OutputEnable: oe,
		Address:      make([]int, addressBits),
	}
	for i := range p.Address {
		p.Address[i] = addr0 + i
	}
	for i := range p.Data {
		p.Data[i] = dq0 + i
	}
	return p
}

// Lines returns every line of the pinout.
func (p Pinout) Lines() []int {
	lines := []int{p.WriteEnable, p.OutputEnable}
	lines = append(lines, p.Address...)
	return append(lines, p.Data[:]...)
}

// Delayer waits for at least the requested duration.
type Delayer interface {
	Delay(d time.Duration)
}

// SpinDelay busy-waits for sub-millisecond delays and sleeps for longer ones.
// Both only ever overshoot.
type SpinDelay struct{}

// Delay blocks for at least d.
func (SpinDelay) Delay(d time.Duration) {
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

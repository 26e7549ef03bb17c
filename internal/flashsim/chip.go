// Package flashsim simulates an SST39SF chip on the far side of a set of GPIO
// lines. It implements flash.GPIO and flash.Delayer on a virtual clock, so a
// flash.Driver can run against it unchanged, and it records every bus timing
// or contention violation it sees.
package flashsim

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
)

// Worst-case internal operation times of the real part.
const (
	ByteProgramTime = 20 * time.Microsecond
	SectorEraseTime = 25 * time.Millisecond
	ChipEraseTime   = 100 * time.Millisecond
)

// commandAddrMask selects the address bits the chip decodes in command cycles.
const commandAddrMask = 0x7FFF

// Chip is a simulated flash chip. It is not safe for concurrent use.
type Chip struct {
	chip flash.Chip
	pins flash.Pinout

	mem   []byte
	stuck map[uint32]byte

	dirs   map[int]flash.Direction
	levels map[int]gpio.Level

	now       time.Duration
	busyUntil time.Duration
	weFallAt  time.Duration
	weRiseAt  time.Duration
	oeFallAt  time.Duration
	latched   uint32

	step   int
	cycles int

	violations []string
}

// New returns an erased chip wired as pins describes.
func New(chip flash.Chip, pins flash.Pinout) *Chip {
	c := &Chip{
		chip:   chip,
		pins:   pins,
		mem:    make([]byte, chip.Size),
		stuck:  make(map[uint32]byte),
		dirs:   make(map[int]flash.Direction),
		levels: make(map[int]gpio.Level),
	}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	c.levels[pins.WriteEnable] = gpio.High
	c.levels[pins.OutputEnable] = gpio.High
	return c
}

// Delay advances the virtual clock.
func (c *Chip) Delay(d time.Duration) {
	c.now += d
}

// Now returns the virtual time elapsed since New.
func (c *Chip) Now() time.Duration {
	return c.now
}

// Cycles returns the number of completed write cycles (WE pulses).
func (c *Chip) Cycles() int {
	return c.cycles
}

// ResetCounters clears the cycle count and violation log.
func (c *Chip) ResetCounters() {
	c.cycles = 0
	c.violations = nil
}

// Violations returns every protocol or timing violation observed.
func (c *Chip) Violations() []string {
	return append([]string(nil), c.violations...)
}

// Err summarizes the violations, or returns nil.
func (c *Chip) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return errors.Errorf("%d bus violation(s): %s", len(c.violations), strings.Join(c.violations, "; "))
}

// Memory returns a copy of the chip contents.
func (c *Chip) Memory() []byte {
	return append([]byte(nil), c.mem...)
}

// Sector returns a copy of one sector.
func (c *Chip) Sector(index int) []byte {
	start := c.chip.SectorAddress(index)
	return append([]byte(nil), c.mem[start:start+c.chip.SectorSize]...)
}

// Load overwrites memory starting at addr, bypassing the bus.
func (c *Chip) Load(addr uint32, data []byte) {
	copy(c.mem[addr:], data)
}

// Stick makes reads of addr return value regardless of what is stored,
// modelling a damaged cell.
func (c *Chip) Stick(addr uint32, value byte) {
	c.stuck[addr] = value
}

func (c *Chip) violate(format string, args ...interface{}) {
	c.violations = append(c.violations, fmt.Sprintf("t=%v: ", c.now)+fmt.Sprintf(format, args...))
}

func (c *Chip) isData(pin int) (int, bool) {
	for i, p := range c.pins.Data {
		if p == pin {
			return i, true
		}
	}
	return 0, false
}

func (c *Chip) dataDriven() bool {
	for _, p := range c.pins.Data {
		if c.dirs[p] == flash.Output {
			return true
		}
	}
	return false
}

func (c *Chip) address() uint32 {
	var addr uint32
	for i, p := range c.pins.Address {
		if c.levels[p] == gpio.High {
			addr |= 1 << uint(i)
		}
	}
	return addr
}

func (c *Chip) dataValue() byte {
	var b byte
	for i, p := range c.pins.Data {
		if c.levels[p] == gpio.High {
			b |= 1 << uint(i)
		}
	}
	return b
}

func (c *Chip) busy() bool {
	return c.now < c.busyUntil
}

// SetDirection implements flash.GPIO.
func (c *Chip) SetDirection(pin int, dir flash.Direction) error {
	if _, ok := c.isData(pin); ok && dir == flash.Output && c.levels[c.pins.OutputEnable] == gpio.Low {
		c.violate("data line %d driven while the chip outputs (OE low)", pin)
	}
	c.dirs[pin] = dir
	return nil
}

// WritePin implements flash.GPIO.
func (c *Chip) WritePin(pin int, level gpio.Level) error {
	if c.dirs[pin] != flash.Output {
		c.violate("write to line %d which is not an output", pin)
	}
	prev := c.levels[pin]
	c.levels[pin] = level

	switch pin {
	case c.pins.WriteEnable:
		if prev == gpio.High && level == gpio.Low {
			c.weFall()
		} else if prev == gpio.Low && level == gpio.High {
			c.weRise()
		}
	case c.pins.OutputEnable:
		if prev == gpio.High && level == gpio.Low {
			c.oeFallAt = c.now
			if c.dataDriven() {
				c.violate("OE asserted while the data bus is an output")
			}
		}
	}
	return nil
}

func (c *Chip) weFall() {
	if c.levels[c.pins.OutputEnable] == gpio.Low {
		c.violate("WE asserted while OE is low")
	}
	if c.now-c.weRiseAt < flash.ControlHold && c.cycles > 0 {
		c.violate("WE high time %v shorter than %v", c.now-c.weRiseAt, flash.ControlHold)
	}
	c.weFallAt = c.now
	c.latched = c.address()
}

func (c *Chip) weRise() {
	c.weRiseAt = c.now
	if width := c.now - c.weFallAt; width < flash.WritePulse {
		c.violate("WE pulse %v shorter than %v", width, flash.WritePulse)
	}
	if !c.dataDriven() {
		c.violate("write cycle with the data bus not driven")
	}
	if c.busy() {
		c.violate("write cycle while the chip is busy until %v", c.busyUntil)
	}
	c.cycles++
	c.command(c.latched%c.chip.Size, c.dataValue())
}

// command advances the software command decoder by one bus cycle.
func (c *Chip) command(addr uint32, data byte) {
	cmd := addr & commandAddrMask
	switch c.step {
	case 0, 3:
		if cmd == 0x5555 && data == 0xAA {
			c.step++
			return
		}
	case 1, 4:
		if cmd == 0x2AAA && data == 0x55 {
			c.step++
			return
		}
	case 2:
		switch {
		case cmd == 0x5555 && data == 0xA0:
			c.step = 10
			return
		case cmd == 0x5555 && data == 0x80:
			c.step = 3
			return
		}
	case 5:
		switch {
		case data == 0x30:
			start := addr - addr%c.chip.SectorSize
			for i := start; i < start+c.chip.SectorSize; i++ {
				c.mem[i] = 0xFF
			}
			c.busyUntil = c.now + SectorEraseTime
		case cmd == 0x5555 && data == 0x10:
			for i := range c.mem {
				c.mem[i] = 0xFF
			}
			c.busyUntil = c.now + ChipEraseTime
		}
	case 10:
		c.mem[addr] &= data
		c.busyUntil = c.now + ByteProgramTime
	}
	c.step = 0
}

// ReadPin implements flash.GPIO.
func (c *Chip) ReadPin(pin int) (gpio.Level, error) {
	bit, ok := c.isData(pin)
	if !ok {
		return c.levels[pin], nil
	}

	if c.dirs[pin] != flash.Input {
		c.violate("read of data line %d which is not an input", pin)
	}
	if c.levels[c.pins.OutputEnable] != gpio.Low {
		c.violate("data read with OE high")
		return gpio.Low, nil
	}
	if settle := c.now - c.oeFallAt; settle < flash.ReadSettle {
		c.violate("data read %v after OE, need %v", settle, flash.ReadSettle)
	}
	if c.busy() {
		c.violate("data read while the chip is busy until %v", c.busyUntil)
	}

	addr := c.address() % c.chip.Size
	value := c.mem[addr]
	if v, ok := c.stuck[addr]; ok {
		value = v
	}
	return gpio.Level(value>>uint(bit)&1 == 1), nil
}

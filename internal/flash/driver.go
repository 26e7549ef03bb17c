// Package flash drives an SST39SF parallel NOR flash through GPIO lines.
//
// Every program and erase operation is the exact command sequence the chip
// expects, followed by the chip's worst-case completion time. The data bus is
// shared with the chip: it must be switched to output before writing and to
// input before reading.
package flash

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// Bus timing minimums from the chip's electrical characteristics.
const (
	ControlHold     = time.Microsecond       // OE/WE high before a new cycle
	ReadSettle      = time.Microsecond       // OE low to valid data
	WritePulse      = time.Microsecond       // WE low pulse width
	ProgramTime     = 25 * time.Microsecond  // byte program
	SectorEraseTime = 30 * time.Millisecond  // sector erase
	ChipEraseTime   = 105 * time.Millisecond // chip erase
)

// Command cycle addresses and data.
const (
	unlockAddr1 = 0x5555
	unlockAddr2 = 0x2AAA

	unlockData1 = 0xAA
	unlockData2 = 0x55

	cmdProgram     = 0xA0
	cmdEraseSetup  = 0x80
	cmdSectorErase = 0x30
	cmdChipErase   = 0x10
)

type config struct {
	strict bool
	delay  Delayer
	log    logrus.FieldLogger
}

// Option configures a Driver.
type Option func(*config)

// WithStrictChecks enables precondition checks (bus direction, erase address)
// before every operation.
func WithStrictChecks(strict bool) Option {
	return func(c *config) {
		c.strict = strict
	}
}

// WithDelayer sets the clock used for bus timing.
func WithDelayer(d Delayer) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		c.log = logger
	}
}

// Driver issues read, program and erase operations on one chip.
type Driver struct {
	io   GPIO
	chip Chip
	pins Pinout
	cfg  config

	dataDir Direction
}

// New creates a Driver for chip wired to io as described by pins.
func New(io GPIO, chip Chip, pins Pinout, opts ...Option) (*Driver, error) {
	if len(pins.Address) != chip.AddressBits {
		return nil, errors.Errorf("pinout has %d address lines, %s needs %d",
			len(pins.Address), chip.Name, chip.AddressBits)
	}

	cfg := config{
		delay: SpinDelay{},
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Driver{io: io, chip: chip, pins: pins, cfg: cfg}, nil
}

// Chip returns the geometry of the driven chip.
func (d *Driver) Chip() Chip {
	return d.chip
}

// Strict reports whether precondition checks are enabled.
func (d *Driver) Strict() bool {
	return d.cfg.strict
}

// DataBusDirection returns the direction last set on the data bus.
func (d *Driver) DataBusDirection() Direction {
	return d.dataDir
}

// Setup disables both control lines, clears the address bus and leaves the
// data bus as input.
func (d *Driver) Setup() error {
	for _, pin := range []int{d.pins.WriteEnable, d.pins.OutputEnable} {
		if err := d.io.SetDirection(pin, Output); err != nil {
			return errors.Wrapf(err, "setting control line %d", pin)
		}
		if err := d.io.WritePin(pin, gpio.High); err != nil {
			return errors.Wrapf(err, "setting control line %d", pin)
		}
	}
	for _, pin := range d.pins.Address {
		if err := d.io.SetDirection(pin, Output); err != nil {
			return errors.Wrapf(err, "setting address line %d", pin)
		}
		if err := d.io.WritePin(pin, gpio.Low); err != nil {
			return errors.Wrapf(err, "setting address line %d", pin)
		}
	}
	return d.SetDataBusInput()
}

// SetDataBusInput releases the data bus so the chip can drive it.
func (d *Driver) SetDataBusInput() error {
	return d.setDataBus(Input)
}

// SetDataBusOutput takes the data bus for writing.
func (d *Driver) SetDataBusOutput() error {
	return d.setDataBus(Output)
}

func (d *Driver) setDataBus(dir Direction) error {
	for _, pin := range d.pins.Data {
		if err := d.io.SetDirection(pin, dir); err != nil {
			return errors.Wrapf(err, "setting data line %d to %s", pin, dir)
		}
	}
	d.dataDir = dir
	return nil
}

func (d *Driver) checkDataBus(op string, want Direction) error {
	if !d.cfg.strict || d.dataDir == want {
		return nil
	}
	return &CheckError{Op: op, Reason: "data pins are not in " + want.String() + " mode"}
}

func (d *Driver) write(pin int, level gpio.Level) error {
	if err := d.io.WritePin(pin, level); err != nil {
		return errors.Wrapf(err, "writing line %d", pin)
	}
	return nil
}

func (d *Driver) setAddressBus(addr uint32) error {
	for i, pin := range d.pins.Address {
		if err := d.write(pin, gpio.Level(addr>>uint(i)&1 == 1)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) setDataBusValue(data byte) error {
	for i, pin := range d.pins.Data {
		if err := d.write(pin, gpio.Level(data>>uint(i)&1 == 1)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) readDataBus() (byte, error) {
	var b byte
	for i, pin := range d.pins.Data {
		level, err := d.io.ReadPin(pin)
		if err != nil {
			return 0, errors.Wrapf(err, "reading data line %d", pin)
		}
		if level == gpio.High {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}

// Read reads the byte stored at addr. The data bus must be input.
func (d *Driver) Read(addr uint32) (byte, error) {
	if err := d.checkDataBus("Read", Input); err != nil {
		return 0, err
	}

	if err := d.write(d.pins.WriteEnable, gpio.High); err != nil {
		return 0, err
	}
	if err := d.write(d.pins.OutputEnable, gpio.High); err != nil {
		return 0, err
	}
	d.cfg.delay.Delay(ControlHold)

	if err := d.setAddressBus(addr); err != nil {
		return 0, err
	}

	if err := d.write(d.pins.OutputEnable, gpio.Low); err != nil {
		return 0, err
	}
	d.cfg.delay.Delay(ReadSettle)

	b, err := d.readDataBus()
	if err != nil {
		return 0, err
	}

	if err := d.write(d.pins.OutputEnable, gpio.High); err != nil {
		return 0, err
	}
	return b, nil
}

// busCycle latches one address/data pair into the chip with a WE pulse.
func (d *Driver) busCycle(addr uint32, data byte) error {
	if err := d.write(d.pins.OutputEnable, gpio.High); err != nil {
		return err
	}
	if err := d.write(d.pins.WriteEnable, gpio.High); err != nil {
		return err
	}
	d.cfg.delay.Delay(ControlHold)

	if err := d.setAddressBus(addr); err != nil {
		return err
	}
	if err := d.setDataBusValue(data); err != nil {
		return err
	}

	if err := d.write(d.pins.WriteEnable, gpio.Low); err != nil {
		return err
	}
	d.cfg.delay.Delay(WritePulse)
	return d.write(d.pins.WriteEnable, gpio.High)
}

type cycle struct {
	addr uint32
	data byte
}

func (d *Driver) sequence(cycles ...cycle) error {
	for _, c := range cycles {
		if err := d.busCycle(c.addr, c.data); err != nil {
			return err
		}
	}
	return nil
}

// Program writes data to addr with the byte-program sequence. The data bus
// must be output. Programming can only clear bits; erase the sector first.
func (d *Driver) Program(addr uint32, data byte) error {
	if err := d.checkDataBus("Program", Output); err != nil {
		return err
	}

	err := d.sequence(
		cycle{unlockAddr1, unlockData1},
		cycle{unlockAddr2, unlockData2},
		cycle{unlockAddr1, cmdProgram},
		cycle{addr, data},
	)
	if err != nil {
		return err
	}

	d.cfg.delay.Delay(ProgramTime)
	return nil
}

func (d *Driver) eraseSequence(last cycle) error {
	return d.sequence(
		cycle{unlockAddr1, unlockData1},
		cycle{unlockAddr2, unlockData2},
		cycle{unlockAddr1, cmdEraseSetup},
		cycle{unlockAddr1, unlockData1},
		cycle{unlockAddr2, unlockData2},
		last,
	)
}

// EraseSectorAt erases the sector starting at addr, leaving it all 0xFF. The
// data bus must be output. In strict mode addr must be the first address of a
// sector on the chip.
func (d *Driver) EraseSectorAt(addr uint32) error {
	if err := d.checkDataBus("EraseSectorAt", Output); err != nil {
		return err
	}
	if d.cfg.strict {
		if addr >= d.chip.Size {
			return &CheckError{Op: "EraseSectorAt", Reason: "address is out of bounds (too large)"}
		}
		if addr%d.chip.SectorSize != 0 {
			return &CheckError{Op: "EraseSectorAt", Reason: "address is not the starting address of a sector"}
		}
	}

	d.cfg.log.WithField("address", addr).Debug("erasing sector")
	if err := d.eraseSequence(cycle{addr, cmdSectorErase}); err != nil {
		return err
	}

	d.cfg.delay.Delay(SectorEraseTime)
	return nil
}

// EraseSector erases the sector with the given index.
func (d *Driver) EraseSector(index int) error {
	if err := d.checkDataBus("EraseSector", Output); err != nil {
		return err
	}
	if d.cfg.strict && !d.chip.ValidSector(index) {
		return &CheckError{Op: "EraseSector", Reason: "index is out of bounds (too large)"}
	}
	return d.EraseSectorAt(d.chip.SectorAddress(index))
}

// EraseChip erases the whole chip. The data bus must be output.
func (d *Driver) EraseChip() error {
	if err := d.checkDataBus("EraseChip", Output); err != nil {
		return err
	}

	d.cfg.log.Info("erasing chip")
	if err := d.eraseSequence(cycle{unlockAddr1, cmdChipErase}); err != nil {
		return err
	}

	d.cfg.delay.Delay(ChipEraseTime)
	return nil
}

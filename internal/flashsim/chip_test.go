package flashsim

import (
	"strings"
	"testing"
	"time"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
)

// noDelay skips every wait, so the driver runs faster than the chip allows.
type noDelay struct{}

func (noDelay) Delay(time.Duration) {}

func newDriver(t *testing.T, c *Chip, d flash.Delayer) *flash.Driver {
	t.Helper()
	drv, err := flash.New(c, flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010),
		flash.WithDelayer(d), flash.WithStrictChecks(true))
	if err != nil {
		t.Fatalf("flash.New() error = %v", err)
	}
	if err := drv.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return drv
}

func hasViolation(c *Chip, substr string) bool {
	for _, v := range c.Violations() {
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}

func TestNew_Erased(t *testing.T) {
	c := New(flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010))
	mem := c.Memory()
	if len(mem) != int(flash.SST39SF010.Size) {
		t.Fatalf("len(Memory()) = %d, want %d", len(mem), flash.SST39SF010.Size)
	}
	for i, b := range mem {
		if b != 0xFF {
			t.Fatalf("Memory()[0x%X] = 0x%02X, want 0xFF", i, b)
		}
	}
}

func TestProgram_TimedCorrectly(t *testing.T) {
	c := New(flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010))
	drv := newDriver(t, c, c)

	if err := drv.SetDataBusOutput(); err != nil {
		t.Fatal(err)
	}
	if err := drv.Program(0x1234, 0x5A); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if err := drv.SetDataBusInput(); err != nil {
		t.Fatal(err)
	}
	b, err := drv.Read(0x1234)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if b != 0x5A {
		t.Errorf("Read() = 0x%02X, want 0x5A", b)
	}
	if c.Cycles() != 4 {
		t.Errorf("Cycles() = %d, want 4", c.Cycles())
	}
	if err := c.Err(); err != nil {
		t.Error(err)
	}
}

func TestViolations_NoDelays(t *testing.T) {
	c := New(flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010))
	drv := newDriver(t, c, noDelay{})

	drv.SetDataBusOutput()
	drv.Program(0x10, 0x00)
	drv.SetDataBusInput()
	drv.Read(0x10)

	for _, want := range []string{"WE pulse", "busy", "after OE"} {
		if !hasViolation(c, want) {
			t.Errorf("Violations() = %v, want one mentioning %q", c.Violations(), want)
		}
	}
	if c.Err() == nil {
		t.Error("Err() = nil, want error")
	}

	c.ResetCounters()
	if c.Err() != nil || c.Cycles() != 0 {
		t.Errorf("after ResetCounters: Err() = %v, Cycles() = %d", c.Err(), c.Cycles())
	}
}

func TestViolations_Contention(t *testing.T) {
	pins := flash.DefaultPinout(flash.SST39SF010)
	c := New(flash.SST39SF010, pins)
	drv := newDriver(t, c, c)

	drv.SetDataBusOutput()
	// non-strict read with the bus still driven
	lax, _ := flash.New(c, flash.SST39SF010, pins, flash.WithDelayer(c))
	lax.Read(0)

	if !hasViolation(c, "OE asserted while the data bus is an output") {
		t.Errorf("Violations() = %v, want bus contention", c.Violations())
	}
}

func TestSectorErase_OnlyThatSector(t *testing.T) {
	c := New(flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010))
	c.Load(0, make([]byte, 3*flash.SectorSize))
	drv := newDriver(t, c, c)

	drv.SetDataBusOutput()
	if err := drv.EraseSector(1); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}

	for i, want := range []byte{0x00, 0xFF, 0x00} {
		for _, b := range c.Sector(i) {
			if b != want {
				t.Fatalf("sector %d holds 0x%02X, want 0x%02X", i, b, want)
			}
		}
	}
	if c.Now() < SectorEraseTime {
		t.Errorf("Now() = %v, want at least %v", c.Now(), SectorEraseTime)
	}
}

func TestStick(t *testing.T) {
	c := New(flash.SST39SF010, flash.DefaultPinout(flash.SST39SF010))
	c.Stick(0x42, 0x24)
	drv := newDriver(t, c, c)

	b, err := drv.Read(0x42)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if b != 0x24 {
		t.Errorf("Read() = 0x%02X, want 0x24", b)
	}
	if c.Memory()[0x42] != 0xFF {
		t.Error("Stick changed the stored value")
	}
}

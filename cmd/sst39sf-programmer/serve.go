package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/bigbag/sst39sf-programmer/internal/board"
	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/flashsim"
	"github.com/bigbag/sst39sf-programmer/internal/image"
	"github.com/bigbag/sst39sf-programmer/internal/link"
	"github.com/bigbag/sst39sf-programmer/internal/programmer"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
	"github.com/bigbag/sst39sf-programmer/internal/status"
)

var (
	strictFlag   bool
	simulateFlag bool
	dumpFlag     string

	weFlag       int
	oeFlag       int
	addrBaseFlag int
	dataBaseFlag int

	ledFlags board.LEDLines
)

func newServeCmd(chipHelp string) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the programmer on the board",
		Long: `Wait for a host on the serial port, then program the flash chip as the
host directs until it sends DONE.

With --simulate the chip is simulated in memory instead of driven over GPIO.`,
		RunE: runServe,
	}
	flags := serveCmd.Flags()
	flags.StringVarP(&portFlag, "port", "p", "", "Serial port connected to the host")
	flags.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	flags.StringVarP(&chipFlag, "chip", "c", flash.DefaultChip.Name, chipHelp)
	flags.BoolVar(&strictFlag, "strict", false, "Check bus direction and erase alignment before every operation")
	flags.BoolVar(&simulateFlag, "simulate", false, "Use a simulated chip instead of GPIO")
	flags.StringVar(&dumpFlag, "dump", "", "Write the simulated chip contents to this file when done (- for a hex dump)")
	flags.IntVar(&weFlag, "we", 2, "GPIO line of WE#")
	flags.IntVar(&oeFlag, "oe", 3, "GPIO line of OE#")
	flags.IntVar(&addrBaseFlag, "addr-base", 22, "GPIO line of A0, higher address lines follow")
	flags.IntVar(&dataBaseFlag, "data-base", 44, "GPIO line of DQ0, higher data lines follow")
	flags.IntVar(&ledFlags.Waiting, "led-waiting", -1, "GPIO line of the waiting LED (-1 to disable)")
	flags.IntVar(&ledFlags.Working, "led-working", -1, "GPIO line of the working LED (-1 to disable)")
	flags.IntVar(&ledFlags.Finished, "led-finished", -1, "GPIO line of the finished LED (-1 to disable)")
	flags.IntVar(&ledFlags.Error, "led-error", -1, "GPIO line of the error LED (-1 to disable)")
	serveCmd.MarkFlagRequired("port")
	return serveCmd
}

func ledsEnabled() bool {
	return ledFlags.Waiting >= 0 || ledFlags.Working >= 0 || ledFlags.Finished >= 0 || ledFlags.Error >= 0
}

func runServe(cmd *cobra.Command, args []string) error {
	chip, err := flash.LookupChip(chipFlag)
	if err != nil {
		return err
	}
	pins := flash.NewPinout(weFlag, oeFlag, addrBaseFlag, dataBaseFlag, chip.AddressBits)

	var (
		bus     flash.GPIO
		delayer flash.Delayer = flash.SpinDelay{}
		sim     *flashsim.Chip
	)
	if simulateFlag {
		sim = flashsim.New(chip, pins)
		bus, delayer = sim, sim
	} else {
		g, err := board.OpenGPIO(pins)
		if err != nil {
			return fmt.Errorf("failed to open GPIO: %w", err)
		}
		bus = g
	}

	indicator := status.Multi{status.Log{Logger: logger}}
	if ledsEnabled() && !simulateFlag {
		leds, err := board.OpenLEDs(ledFlags, logger)
		if err != nil {
			return fmt.Errorf("failed to open status LEDs: %w", err)
		}
		indicator = append(indicator, leds)
	}

	drv, err := flash.New(bus, chip, pins,
		flash.WithStrictChecks(strictFlag),
		flash.WithDelayer(delayer),
		flash.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Serving %s on %s @ %d baud\n", chip.Name, portFlag, baudFlag)
	logger.WithField("strict", drv.Strict()).WithField("simulate", simulateFlag).Info("bus driver ready")

	ch := link.New(serial.NewRxBuffer(port), link.WithLogger(logger))
	c := programmer.New(ch, drv,
		programmer.WithIndicator(indicator),
		programmer.WithLogger(logger),
	)

	if err := c.Serve(); err != nil {
		var fatal *programmer.FatalError
		if errors.As(err, &fatal) {
			return fmt.Errorf("programmer halted: %w", fatal.Cause)
		}
		return fmt.Errorf("link failed: %w", err)
	}

	if sim != nil {
		if err := sim.Err(); err != nil {
			logger.WithError(err).Warn("simulated bus saw violations")
		}
		mem := sim.Memory()
		logger.WithField("crc32", fmt.Sprintf("0x%08X", image.Checksum(mem))).Info("simulated chip contents")
		switch dumpFlag {
		case "":
		case "-":
			xxd.Print(0, mem)
		default:
			if err := os.WriteFile(dumpFlag, mem, 0o644); err != nil {
				return fmt.Errorf("failed to write dump: %w", err)
			}
			fmt.Printf("Chip contents written to %s\n", dumpFlag)
		}
	}

	fmt.Println("Done!")
	return nil
}

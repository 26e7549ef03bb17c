package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/flasher"
	"github.com/bigbag/sst39sf-programmer/internal/image"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
)

var (
	sectorFlag  int
	eraseFlag   bool
	retriesFlag int
)

func newProgramCmd(chipHelp string) *cobra.Command {
	programCmd := &cobra.Command{
		Use:   "program <image.bin|image.hex>",
		Short: "Write an image to the flash chip",
		Long: `Write a raw binary or Intel HEX image to the flash chip, one 4 KiB
sector at a time.

Every sector is echoed back by the board and checked before it is committed,
and read back from the chip after programming. The last sector is padded
with 0xFF.`,
		Args: cobra.ExactArgs(1),
		RunE: runProgram,
	}
	programCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	programCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	programCmd.Flags().StringVarP(&chipFlag, "chip", "c", flash.DefaultChip.Name, chipHelp)
	programCmd.Flags().IntVarP(&sectorFlag, "sector", "s", 0, "First sector to program")
	programCmd.Flags().BoolVar(&eraseFlag, "erase", false, "Erase the whole chip first")
	programCmd.Flags().IntVar(&retriesFlag, "retries", 3, "Retransmissions of a corrupted echo")
	return programCmd
}

func newEraseCmd(chipHelp string) *cobra.Command {
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole flash chip",
		Args:  cobra.NoArgs,
		RunE:  runErase,
	}
	eraseCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	eraseCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	eraseCmd.Flags().StringVarP(&chipFlag, "chip", "c", flash.DefaultChip.Name, chipHelp)
	return eraseCmd
}

// connect opens the board's port and completes the handshake.
func connect(chip flash.Chip) (*serial.Port, *flasher.Flasher, error) {
	portName, err := findPort()
	if err != nil {
		return nil, nil, err
	}

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}

	fmt.Printf("Port: %s @ %d baud\n", port.PortName(), port.BaudRate())

	if err := port.Flush(); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("failed to flush port: %w", err)
	}

	f := flasher.New(port, chip,
		flasher.WithRetries(retriesFlag),
		flasher.WithLogger(logger),
	)

	fmt.Println("Connecting to board...")
	if err := f.Connect(); err != nil {
		port.Close()
		return nil, nil, err
	}
	fmt.Println("Connected!")
	return port, f, nil
}

func runProgram(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	chip, err := flash.LookupChip(chipFlag)
	if err != nil {
		return err
	}

	data, err := image.Load(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}

	fmt.Printf("Image: %s (%d bytes, CRC-32 0x%08X)\n", imagePath, len(data), image.Checksum(data))

	port, f, err := connect(chip)
	if err != nil {
		return err
	}
	defer port.Close()

	if eraseFlag {
		fmt.Println("Erasing chip...")
		if err := f.EraseChip(); err != nil {
			return err
		}
	}

	sectorSize := int(chip.SectorSize)
	totalSectors := (len(data) + sectorSize - 1) / sectorSize
	bar := progressbar.NewOptions(totalSectors,
		progressbar.OptionSetDescription("Programming"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	f.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	fmt.Printf("\nProgramming %s from sector %d (%d sectors)...\n", chip.Name, sectorFlag, totalSectors)
	if err := f.ProgramImage(data, sectorFlag); err != nil {
		return err
	}

	bar.Finish()
	fmt.Println("\nProgramming complete!")

	if err := f.Done(); err != nil {
		fmt.Printf("Warning: board did not acknowledge DONE: %v\n", err)
	}

	fmt.Println("Done!")
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	chip, err := flash.LookupChip(chipFlag)
	if err != nil {
		return err
	}

	port, f, err := connect(chip)
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Println("Erasing chip...")
	if err := f.EraseChip(); err != nil {
		return err
	}

	if err := f.Done(); err != nil {
		fmt.Printf("Warning: board did not acknowledge DONE: %v\n", err)
	}

	fmt.Println("Done!")
	return nil
}

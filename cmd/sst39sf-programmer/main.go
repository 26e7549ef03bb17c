package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/sst39sf-programmer/internal/detect"
	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag    string
	baudFlag    int
	chipFlag    string
	verboseFlag bool
)

var logger = logrus.New()

func main() {
	rootCmd := &cobra.Command{
		Use:   "sst39sf-programmer",
		Short: "Program SST39SF parallel NOR flash chips over a serial link",
		Long: `sst39sf-programmer drives an SST39SF010/020/040 flash chip wired to the
GPIO lines of a single-board computer, and talks to it from a host.

Run "serve" on the board, then "program" or "erase" on the host.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verboseFlag {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose logging")

	chipHelp := fmt.Sprintf("Flash chip (%s)", strings.Join(flash.ChipNames(), ", "))

	rootCmd.AddCommand(newServeCmd(chipHelp), newProgramCmd(chipHelp), newEraseCmd(chipHelp))

	// Detect command
	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Find boards waiting for a host",
		Long:  "Listen on serial ports for a board broadcasting WAITING. Nothing is sent to the board.",
		RunE:  runDetect,
	}
	detectCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (scan all if not specified)")
	detectCmd.Flags().IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sst39sf-programmer %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(detectCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// findPort returns portFlag, or the first port with a waiting board.
func findPort() (string, error) {
	if portFlag != "" {
		return portFlag, nil
	}

	fmt.Println("Detecting board...")
	result, err := detect.DetectDevice(baudFlag)
	if err != nil {
		return "", fmt.Errorf("board detection failed: %w", err)
	}
	fmt.Printf("Found board on %s\n", result.Port)
	return result.Port, nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, baudFlag)
		if err != nil {
			return fmt.Errorf("no board on %s: %w", portFlag, err)
		}
		printBoardInfo(result)
		return nil
	}

	fmt.Println("Scanning for boards...")
	boards, err := detect.ListDevices(baudFlag)
	if err != nil {
		return err
	}

	if len(boards) == 0 {
		fmt.Println("No boards found")
		return nil
	}

	fmt.Printf("Found %d board(s):\n\n", len(boards))
	for i, b := range boards {
		fmt.Printf("Board %d:\n", i+1)
		printBoardInfo(&b)
		fmt.Println()
	}

	return nil
}

func printBoardInfo(b *detect.Result) {
	fmt.Printf("  Port:     %s\n", b.Port)
	if b.Product != "" {
		fmt.Printf("  Product:  %s\n", b.Product)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if !p.IsUSB {
			fmt.Printf("  %s\n", p.Name)
			continue
		}
		fmt.Printf("  %s  [%s:%s]", p.Name, p.VID, p.PID)
		if p.Product != "" {
			fmt.Printf(" %s", p.Product)
		}
		if p.SerialNumber != "" {
			fmt.Printf(" (serial %s)", p.SerialNumber)
		}
		fmt.Println()
	}

	return nil
}

// Package detect finds boards that are waiting for a host.
package detect

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/bigbag/sst39sf-programmer/internal/link"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
)

// ListenWindow is how long a port is watched for the WAITING broadcast. It
// covers one full broadcast period with margin.
const ListenWindow = link.HandshakeInterval + 500*time.Millisecond

// Result represents a detected board.
type Result struct {
	Port    string
	Product string
	IsUSB   bool
}

// DetectDevice returns the first port with a board waiting for a host.
func DetectDevice(baudRate int) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, info := range ports {
		result, err := tryPort(info, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no programmer found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no programmer found")
}

// DetectOnPort checks a specific port for a waiting board.
func DetectOnPort(portName string, baudRate int) (*Result, error) {
	return tryPort(serial.PortInfo{Name: portName}, baudRate)
}

// ListDevices scans all ports and returns every waiting board.
func ListDevices(baudRate int) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, info := range ports {
		result, err := tryPort(info, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(info serial.PortInfo, baudRate int) (*Result, error) {
	port, err := serial.Open(info.Name, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if err := Listen(port, ListenWindow); err != nil {
		return nil, errors.Wrap(err, info.Name)
	}

	return &Result{
		Port:    info.Name,
		Product: info.Product,
		IsUSB:   info.IsUSB,
	}, nil
}

// Listen reads r until the WAITING broadcast is seen or window passes. Reads
// that time out must fail with serial.ErrTimeout. Nothing is written, so a
// board found this way is still waiting afterwards.
func Listen(r io.Reader, window time.Duration) error {
	token := protocol.WaitingFrame()
	deadline := time.Now().Add(window)
	buf := make([]byte, 256)
	var seen []byte

	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		if n > 0 {
			seen = append(seen, buf[:n]...)
			if bytes.Contains(seen, token) {
				return nil
			}
			if keep := len(token) - 1; len(seen) > keep {
				seen = append(seen[:0], seen[len(seen)-keep:]...)
			}
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return err
		}
	}
	return errors.New("no WAITING broadcast")
}

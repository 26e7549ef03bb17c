// Package flasher is the host side of the programming protocol. It talks to
// a board running the programmer over a serial link.
package flasher

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
)

// abortByte makes the board drop the transaction at a confirm step.
const abortByte = 0x18

// Default timeouts.
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 10 * time.Second
)

// ProgressCallback is called to report programming progress.
type ProgressCallback func(current, total int)

// Option configures a Flasher.
type Option func(*Flasher)

// WithRetries sets how many times a mismatching echo is retransmitted.
func WithRetries(n int) Option {
	return func(f *Flasher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(f *Flasher) {
		f.log = logger
	}
}

// WithTimeouts sets the connect and per-response timeouts.
func WithTimeouts(connect, response time.Duration) Option {
	return func(f *Flasher) {
		f.connectTimeout = connect
		f.responseTimeout = response
	}
}

// Flasher drives a board through handshake, sector programming, chip erase
// and session end.
type Flasher struct {
	w    io.Writer
	r    *bufio.Reader
	chip flash.Chip

	retries         int
	connectTimeout  time.Duration
	responseTimeout time.Duration
	progress        ProgressCallback
	log             logrus.FieldLogger
}

// New creates a Flasher for a board programming chip over port. Reads that
// time out must fail with serial.ErrTimeout.
func New(port io.ReadWriter, chip flash.Chip, opts ...Option) *Flasher {
	f := &Flasher{
		w:               port,
		r:               bufio.NewReader(port),
		chip:            chip,
		retries:         3,
		connectTimeout:  DefaultConnectTimeout,
		responseTimeout: DefaultResponseTimeout,
		log:             logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

func (f *Flasher) write(data []byte) error {
	if _, err := f.w.Write(data); err != nil {
		return errors.Wrap(err, "write failed")
	}
	return nil
}

// readByte reads one byte, retrying read timeouts until timeout passes.
func (f *Flasher) readByte(timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b, err := f.r.ReadByte()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, serial.ErrTimeout) {
			return 0, errors.Wrap(err, "read failed")
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
	}
}

func (f *Flasher) readFull(buf []byte) error {
	for i := range buf {
		b, err := f.readByte(f.responseTimeout)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// readMessage reads the null-terminated text following a NAK.
func (f *Flasher) readMessage() (string, error) {
	var msg []byte
	for len(msg) < protocol.MaxNakMessageLength {
		b, err := f.readByte(f.responseTimeout)
		if err != nil {
			return string(msg), err
		}
		if b == 0 {
			break
		}
		msg = append(msg, b)
	}
	return string(msg), nil
}

// expectAck reads a control byte. A NAK is returned as *NakError.
func (f *Flasher) expectAck(timeout time.Duration) error {
	b, err := f.readByte(timeout)
	if err != nil {
		return err
	}
	switch b {
	case protocol.Ack:
		return nil
	case protocol.Nak:
		msg, err := f.readMessage()
		if err != nil {
			return err
		}
		return &NakError{Message: msg}
	default:
		return errors.Errorf("expected ACK, got %s", protocol.ControlName(b))
	}
}

// Connect waits for the board's WAITING broadcast and acknowledges it.
func (f *Flasher) Connect() error {
	token := protocol.WaitingFrame()
	deadline := time.Now().Add(f.connectTimeout)
	matched := 0

	for matched < len(token) {
		b, err := f.readByte(time.Until(deadline))
		if err != nil {
			return errors.Wrap(err, "waiting for board")
		}
		switch {
		case b == token[matched]:
			matched++
		case b == token[0]:
			matched = 1
		default:
			matched = 0
		}
	}

	if err := f.write([]byte{protocol.Ack}); err != nil {
		return err
	}
	f.log.Debug("connected to board")
	return nil
}

func (f *Flasher) sendCommand(cmd string) error {
	return f.write(protocol.CommandFrame(cmd))
}

// abort ends a transaction at a confirm step and collects the board's NAK.
func (f *Flasher) abort(cause error) error {
	if err := f.write([]byte{abortByte}); err != nil {
		return err
	}
	b, err := f.readByte(f.responseTimeout)
	if err != nil {
		return err
	}
	if b == protocol.Nak {
		if _, err := f.readMessage(); err != nil {
			return err
		}
	}
	return cause
}

// sendIndex transmits the sector index until the board echoes it intact.
func (f *Flasher) sendIndex(index int) error {
	raw := make([]byte, protocol.SectorIndexLength)
	binary.LittleEndian.PutUint16(raw, uint16(index))
	echo := make([]byte, len(raw))

	for attempt := 0; ; attempt++ {
		if err := f.write(raw); err != nil {
			return err
		}
		if err := f.expectAck(f.responseTimeout); err != nil {
			return err
		}
		if err := f.readFull(echo); err != nil {
			return err
		}
		if bytes.Equal(echo, raw) {
			return f.write([]byte{protocol.Ack})
		}

		f.log.WithField("sector", index).Warnf("index echo mismatch: sent % X, got % X", raw, echo)
		if attempt >= f.retries {
			return f.abort(&EchoError{What: "sector index", Attempts: attempt + 1})
		}
		if err := f.write([]byte{protocol.Nak}); err != nil {
			return err
		}
	}
}

// sendData transmits the payload until the board echoes it intact.
func (f *Flasher) sendData(index int, data []byte) error {
	echo := make([]byte, len(data))

	for attempt := 0; ; attempt++ {
		if err := f.write(data); err != nil {
			return err
		}
		if err := f.readFull(echo); err != nil {
			return err
		}
		if bytes.Equal(echo, data) {
			return f.write([]byte{protocol.Ack})
		}

		f.log.WithField("sector", index).Warn("data echo mismatch")
		if attempt >= f.retries {
			return f.abort(&EchoError{What: "sector data", Attempts: attempt + 1})
		}
		if err := f.write([]byte{protocol.Nak}); err != nil {
			return err
		}
	}
}

// ProgramSector programs one full sector. The board erases, programs and
// reads the sector back before it acknowledges.
func (f *Flasher) ProgramSector(index int, data []byte) error {
	if len(data) != int(f.chip.SectorSize) {
		return errors.Errorf("sector data is %d bytes, want %d", len(data), f.chip.SectorSize)
	}

	if err := f.sendCommand(protocol.CmdProgramSector); err != nil {
		return err
	}
	if err := f.sendIndex(index); err != nil {
		return errors.Wrapf(err, "sector %d", index)
	}
	if err := f.sendData(index, data); err != nil {
		return errors.Wrapf(err, "sector %d", index)
	}
	if err := f.expectAck(f.responseTimeout); err != nil {
		return errors.Wrapf(err, "sector %d", index)
	}

	f.log.WithField("sector", index).Debug("sector programmed")
	return nil
}

// ProgramImage programs image starting at sector first. The last sector is
// padded with 0xFF.
func (f *Flasher) ProgramImage(image []byte, first int) error {
	sectorSize := int(f.chip.SectorSize)
	total := (len(image) + sectorSize - 1) / sectorSize
	if first < 0 || first+total > f.chip.Sectors() {
		return errors.Errorf("image of %d bytes at sector %d does not fit in %s (%d sectors)",
			len(image), first, f.chip.Name, f.chip.Sectors())
	}

	for i := 0; i < total; i++ {
		sector := bytes.Repeat([]byte{0xFF}, sectorSize)
		copy(sector, image[i*sectorSize:])

		if err := f.ProgramSector(first+i, sector); err != nil {
			return err
		}
		f.reportProgress(i+1, total)
	}
	return nil
}

// EraseChip erases the whole chip.
func (f *Flasher) EraseChip() error {
	if err := f.sendCommand(protocol.CmdEraseChip); err != nil {
		return err
	}
	if err := f.expectAck(f.responseTimeout); err != nil {
		return errors.Wrap(err, "chip erase failed")
	}
	return nil
}

// Done ends the session.
func (f *Flasher) Done() error {
	if err := f.sendCommand(protocol.CmdDone); err != nil {
		return err
	}
	return f.expectAck(f.responseTimeout)
}

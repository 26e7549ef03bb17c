package flasher

import (
	"bytes"
	"math/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/bigbag/sst39sf-programmer/internal/flash"
	"github.com/bigbag/sst39sf-programmer/internal/flashsim"
	"github.com/bigbag/sst39sf-programmer/internal/link"
	"github.com/bigbag/sst39sf-programmer/internal/programmer"
	"github.com/bigbag/sst39sf-programmer/internal/protocol"
	"github.com/bigbag/sst39sf-programmer/internal/serial"
)

// corruptingConn flips a bit in the first byte of writes of a given size.
type corruptingConn struct {
	net.Conn
	size  int
	times int
}

func (c *corruptingConn) Write(data []byte) (int, error) {
	if c.times > 0 && len(data) == c.size {
		c.times--
		bad := append([]byte(nil), data...)
		bad[0] ^= 0x01
		return c.Conn.Write(bad)
	}
	return c.Conn.Write(data)
}

type board struct {
	sim  *flashsim.Chip
	done chan error
}

// startBoard runs a programmer on a simulated chip behind a pipe and returns
// the host end of the pipe.
func startBoard(t *testing.T) (*board, net.Conn) {
	t.Helper()
	chip := flash.SST39SF020
	pins := flash.DefaultPinout(chip)
	sim := flashsim.New(chip, pins)
	logger, _ := logtest.NewNullLogger()

	drv, err := flash.New(sim, chip, pins,
		flash.WithStrictChecks(true),
		flash.WithDelayer(sim),
		flash.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("flash.New() error = %v", err)
	}

	hostEnd, boardEnd := net.Pipe()
	rx := serial.NewRxBuffer(boardEnd)

	// Stand-in for the one second pause: return as soon as the host answers.
	sleep := func(time.Duration) {
		deadline := time.Now().Add(time.Second)
		for rx.Buffered() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	ch := link.New(rx, link.WithLogger(logger), link.WithSleep(sleep))
	c := programmer.New(ch, drv,
		programmer.WithLogger(logger),
		programmer.WithHaltInterval(time.Millisecond),
	)

	b := &board{sim: sim, done: make(chan error, 1)}
	go func() {
		b.done <- c.Serve()
		boardEnd.Close()
	}()
	t.Cleanup(func() { hostEnd.Close() })
	return b, hostEnd
}

func (b *board) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-b.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("board did not stop")
		return nil
	}
}

func newTestFlasher(port net.Conn, opts ...Option) *Flasher {
	logger, _ := logtest.NewNullLogger()
	opts = append([]Option{WithLogger(logger), WithTimeouts(5*time.Second, 5*time.Second)}, opts...)
	return New(port, flash.SST39SF020, opts...)
}

func randomSector(seed int64) []byte {
	data := make([]byte, flash.SectorSize)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func TestSession(t *testing.T) {
	b, port := startBoard(t)
	f := newTestFlasher(port)
	data := randomSector(1)

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.EraseChip(); err != nil {
		t.Fatalf("EraseChip() error = %v", err)
	}
	if err := f.ProgramSector(5, data); err != nil {
		t.Fatalf("ProgramSector() error = %v", err)
	}
	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if !bytes.Equal(b.sim.Sector(5), data) {
		t.Error("sector 5 does not hold the programmed data")
	}
	if err := b.sim.Err(); err != nil {
		t.Error(err)
	}
}

func TestProgramImage(t *testing.T) {
	b, port := startBoard(t)
	f := newTestFlasher(port)

	image := make([]byte, flash.SectorSize+904)
	rand.New(rand.NewSource(2)).Read(image)

	var calls [][2]int
	f.SetProgressCallback(func(current, total int) {
		calls = append(calls, [2]int{current, total})
	})

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.ProgramImage(image, 3); err != nil {
		t.Fatalf("ProgramImage() error = %v", err)
	}
	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}

	if !bytes.Equal(b.sim.Sector(3), image[:flash.SectorSize]) {
		t.Error("sector 3 does not hold the first image sector")
	}
	last := b.sim.Sector(4)
	if !bytes.Equal(last[:904], image[flash.SectorSize:]) {
		t.Error("sector 4 does not hold the image tail")
	}
	if !bytes.Equal(last[904:], bytes.Repeat([]byte{0xFF}, flash.SectorSize-904)) {
		t.Error("sector 4 padding is not 0xFF")
	}

	want := [][2]int{{1, 2}, {2, 2}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestProgramImage_TooLarge(t *testing.T) {
	f := New(&bytes.Buffer{}, flash.SST39SF010)
	image := make([]byte, flash.SST39SF010.Size+1)

	if err := f.ProgramImage(image, 0); err == nil {
		t.Error("ProgramImage() error = nil, want error")
	}
	if err := f.ProgramImage(make([]byte, 10), flash.SST39SF010.Sectors()); err == nil {
		t.Error("ProgramImage() past last sector error = nil, want error")
	}
}

func TestProgramSector_WrongSize(t *testing.T) {
	f := New(&bytes.Buffer{}, flash.SST39SF020)
	if err := f.ProgramSector(0, make([]byte, 100)); err == nil {
		t.Error("ProgramSector() error = nil, want error")
	}
}

func TestProgramSector_IndexTooLarge(t *testing.T) {
	b, port := startBoard(t)
	f := newTestFlasher(port)

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := f.ProgramSector(9999, randomSector(3))
	var nak *NakError
	if !errors.As(err, &nak) {
		t.Fatalf("ProgramSector() error = %v, want *NakError", err)
	}
	want := "While programming sector, got sector index 9999, which is too large."
	if nak.Message != want {
		t.Errorf("Message = %q, want %q", nak.Message, want)
	}

	// the board is back at the command prompt
	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if got := b.sim.Cycles(); got != 0 {
		t.Errorf("Cycles() = %d, want 0", got)
	}
}

func TestProgramSector_RetriesCorruptedData(t *testing.T) {
	b, port := startBoard(t)
	conn := &corruptingConn{Conn: port, size: flash.SectorSize, times: 2}
	f := newTestFlasher(conn, WithRetries(2))
	data := randomSector(4)

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.ProgramSector(7, data); err != nil {
		t.Fatalf("ProgramSector() error = %v", err)
	}
	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if !bytes.Equal(b.sim.Sector(7), data) {
		t.Error("sector 7 does not hold the programmed data")
	}
}

func TestProgramSector_RetriesCorruptedIndex(t *testing.T) {
	b, port := startBoard(t)
	conn := &corruptingConn{Conn: port, size: 2, times: 1}
	f := newTestFlasher(conn)
	data := randomSector(5)

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.ProgramSector(2, data); err != nil {
		t.Fatalf("ProgramSector() error = %v", err)
	}
	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if !bytes.Equal(b.sim.Sector(2), data) {
		t.Error("sector 2 does not hold the programmed data")
	}
	if sector3 := b.sim.Sector(3); !bytes.Equal(sector3, bytes.Repeat([]byte{0xFF}, flash.SectorSize)) {
		t.Error("sector 3 was written")
	}
}

func TestProgramSector_RetriesExhausted(t *testing.T) {
	b, port := startBoard(t)
	conn := &corruptingConn{Conn: port, size: 2, times: 10}
	f := newTestFlasher(conn, WithRetries(1))

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := f.ProgramSector(1, randomSector(6))
	var echo *EchoError
	if !errors.As(err, &echo) {
		t.Fatalf("ProgramSector() error = %v, want *EchoError", err)
	}
	if echo.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", echo.Attempts)
	}

	if err := f.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if err := b.wait(t); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if got := b.sim.Cycles(); got != 0 {
		t.Errorf("Cycles() = %d, want 0", got)
	}
}

func TestProgramSector_VerifyFailure(t *testing.T) {
	b, port := startBoard(t)
	f := newTestFlasher(port)
	b.sim.Stick(0x3010, 0x00)

	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	data := bytes.Repeat([]byte{0xA5}, flash.SectorSize)
	err := f.ProgramSector(3, data)
	var nak *NakError
	if !errors.As(err, &nak) {
		t.Fatalf("ProgramSector() error = %v, want *NakError", err)
	}
	if !strings.Contains(nak.Message, "address 0x03010") {
		t.Errorf("Message = %q, want the failing address", nak.Message)
	}

	// the board keeps repeating the error until the link goes away
	port.Close()
	var fatal *programmer.FatalError
	if err := b.wait(t); !errors.As(err, &fatal) {
		t.Errorf("Serve() error = %v, want *FatalError", err)
	}
}

func TestConnect_SkipsNoise(t *testing.T) {
	hostEnd, boardEnd := net.Pipe()
	defer hostEnd.Close()

	go func() {
		boardEnd.Write([]byte("WAIWAITING"))
		boardEnd.Write([]byte{0})
		ack := make([]byte, 1)
		boardEnd.Read(ack)
		boardEnd.Write(ack)
		boardEnd.Close()
	}()

	f := newTestFlasher(hostEnd)
	if err := f.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.expectAck(time.Second); err != nil {
		t.Errorf("board did not receive ACK: %v", err)
	}
}

func TestConnect_LinkClosed(t *testing.T) {
	hostEnd, boardEnd := net.Pipe()
	boardEnd.Close()

	f := newTestFlasher(hostEnd)
	if err := f.Connect(); err == nil {
		t.Error("Connect() error = nil, want error")
	}
}

// timeoutPort always times out like an idle serial port.
type timeoutPort struct{}

func (timeoutPort) Read([]byte) (int, error)       { return 0, serial.ErrTimeout }
func (timeoutPort) Write(data []byte) (int, error) { return len(data), nil }

func TestConnect_Timeout(t *testing.T) {
	f := New(timeoutPort{}, flash.SST39SF020, WithTimeouts(20*time.Millisecond, 20*time.Millisecond))
	if err := f.Connect(); errors.Cause(err) != ErrTimeout {
		t.Errorf("Connect() error = %v, want %v", err, ErrTimeout)
	}
}

// scriptedPort answers every read from a fixed reply and records writes.
type scriptedPort struct {
	reply *bytes.Reader
	sent  bytes.Buffer
}

func (p *scriptedPort) Read(buf []byte) (int, error)   { return p.reply.Read(buf) }
func (p *scriptedPort) Write(data []byte) (int, error) { return p.sent.Write(data) }

func TestEraseChip_Nak(t *testing.T) {
	port := &scriptedPort{reply: bytes.NewReader(append([]byte{protocol.Nak}, "flash busy\x00"...))}
	f := New(port, flash.SST39SF020)

	err := f.EraseChip()
	var nak *NakError
	if !errors.As(err, &nak) {
		t.Fatalf("EraseChip() error = %v, want *NakError", err)
	}
	if nak.Message != "flash busy" {
		t.Errorf("Message = %q, want %q", nak.Message, "flash busy")
	}
	if errors.Cause(err) != nak {
		t.Errorf("Cause() = %v, want the NAK", errors.Cause(err))
	}
	if !strings.HasPrefix(err.Error(), "chip erase failed: ") {
		t.Errorf("Error() = %q, want chip erase context", err.Error())
	}
	if !bytes.Equal(port.sent.Bytes(), protocol.CommandFrame(protocol.CmdEraseChip)) {
		t.Errorf("sent %q, want %q", port.sent.Bytes(), protocol.CommandFrame(protocol.CmdEraseChip))
	}
}

func TestExpectAck_UnexpectedByte(t *testing.T) {
	tests := []struct {
		reply    byte
		expected string
	}{
		{0x41, "expected ACK, got 0x41"},
		{0x00, "expected ACK, got 0x00"},
	}

	for _, tc := range tests {
		port := &scriptedPort{reply: bytes.NewReader([]byte{tc.reply})}
		err := New(port, flash.SST39SF020).expectAck(time.Second)
		if err == nil || err.Error() != tc.expected {
			t.Errorf("expectAck() after 0x%02X = %v, want %q", tc.reply, err, tc.expected)
		}
	}
}

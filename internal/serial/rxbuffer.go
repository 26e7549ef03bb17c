package serial

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// RxBuffer pumps bytes from a reader into memory so the protocol side can ask
// how many bytes are waiting, the way a UART receive buffer is filled behind
// the firmware's back. ReadByte blocks until a byte is available and has no
// timeout.
type RxBuffer struct {
	src io.ReadWriter

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	err  error
}

// NewRxBuffer starts pumping src. Timeouts reported by src (ErrTimeout) are
// retried; any other error ends the pump and is returned by ReadByte once the
// buffered bytes are consumed.
func NewRxBuffer(src io.ReadWriter) *RxBuffer {
	r := &RxBuffer{src: src}
	r.cond = sync.NewCond(&r.mu)
	go r.pump()
	return r
}

func (r *RxBuffer) pump() {
	chunk := make([]byte, 256)
	for {
		n, err := r.src.Read(chunk)

		r.mu.Lock()
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
		}
		if err != nil && !errors.Is(err, ErrTimeout) {
			r.err = err
			r.cond.Broadcast()
			r.mu.Unlock()
			return
		}
		if n > 0 {
			r.cond.Broadcast()
		}
		r.mu.Unlock()
	}
}

// Buffered returns the number of bytes that can be read without blocking.
func (r *RxBuffer) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// ReadByte returns the next received byte, blocking until one arrives.
func (r *RxBuffer) ReadByte() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.cond.Wait()
	}

	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

// Write sends data on the underlying link.
func (r *RxBuffer) Write(data []byte) (int, error) {
	return r.src.Write(data)
}

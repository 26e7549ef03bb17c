package flasher

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTimeout is returned when the board does not answer in time.
var ErrTimeout = errors.New("timeout waiting for board")

// NakError carries the text of a NAK received from the board.
type NakError struct {
	Message string
}

func (e *NakError) Error() string {
	return fmt.Sprintf("board replied NAK: %s", e.Message)
}

// EchoError reports an echo that still differed after every retry.
type EchoError struct {
	What     string
	Attempts int
}

func (e *EchoError) Error() string {
	return fmt.Sprintf("%s echo mismatch after %d attempts", e.What, e.Attempts)
}

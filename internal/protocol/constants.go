package protocol

// Link control bytes
const (
	Ack = 0x06
	Nak = 0x15
)

// Serial defaults
const (
	DefaultBaudRate = 115200
)

// Frame limits
const (
	MaxNakMessageLength = 256 // NAK text including the terminating zero
	MaxCommandLength    = 32  // command token including the terminating zero
	SectorIndexLength   = 2   // sector index bytes, little endian
)

// TruncatedPrefix starts the body of a NAK whose text did not fit.
const TruncatedPrefix = "Error too long. Truncated:\n"

// WaitingToken is broadcast by the board until the host acknowledges it.
const WaitingToken = "WAITING"

// Command tokens sent by the host after the handshake.
const (
	CmdProgramSector = "PROGRAMSECTOR"
	CmdEraseChip     = "ERASECHIP"
	CmdDone          = "DONE"
)

// WaitingFrame returns the handshake broadcast including its terminator.
func WaitingFrame() []byte {
	return append([]byte(WaitingToken), 0)
}

// CommandFrame returns a null terminated command token.
func CommandFrame(cmd string) []byte {
	return append([]byte(cmd), 0)
}

// ControlName returns a human-readable name for a control byte.
func ControlName(b byte) string {
	switch b {
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	default:
		return "0x" + Hex(b)
	}
}

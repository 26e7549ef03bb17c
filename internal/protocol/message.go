package protocol

const hexDigits = "0123456789ABCDEF"

// Hex returns the two uppercase hex digits of b, high nibble first.
func Hex(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}

// NakFrame builds a complete NAK frame: the NAK byte, the message text and a
// terminating zero. The body never exceeds MaxNakMessageLength bytes; a
// message that does not fit is sent behind TruncatedPrefix with as much of
// the message as the remaining space allows.
func NakFrame(message string) []byte {
	if len(message)+1 <= MaxNakMessageLength {
		frame := make([]byte, 0, len(message)+2)
		frame = append(frame, Nak)
		frame = append(frame, message...)
		return append(frame, 0)
	}

	keep := MaxNakMessageLength - len(TruncatedPrefix) - 1
	frame := make([]byte, 0, MaxNakMessageLength+1)
	frame = append(frame, Nak)
	frame = append(frame, TruncatedPrefix...)
	frame = append(frame, message[:keep]...)
	return append(frame, 0)
}

// ParseCommand maps a received token to the state the dispatcher enters.
func ParseCommand(token string) (State, bool) {
	switch token {
	case CmdProgramSector:
		return BeginProgramSector, true
	case CmdEraseChip:
		return BeginEraseChip, true
	case CmdDone:
		return Done, true
	default:
		return WaitingForCommand, false
	}
}

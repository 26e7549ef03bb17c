package programmer

import "fmt"

// VerifyError reports a byte that did not read back as programmed.
type VerifyError struct {
	Address uint32
	Wrote   byte
	Read    byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("Programming sector failed: byte read back is not the same as what should have been programmed (address 0x%05X: wrote 0x%02X, read 0x%02X).",
		e.Address, e.Wrote, e.Read)
}

// FatalError is returned once a halted controller loses its link. Cause is
// the failure that halted it, Link the error that ended the NAK broadcast.
type FatalError struct {
	Cause error
	Link  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("halted: %v (link: %v)", e.Cause, e.Link)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

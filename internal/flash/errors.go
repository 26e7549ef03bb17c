package flash

import "fmt"

// CheckError is returned when a strict precondition check fails. Driving a
// shared bus in the wrong direction risks contention, so callers treat it as
// fatal.
type CheckError struct {
	Op     string
	Reason string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("strict check failed during %s: %s", e.Op, e.Reason)
}

// Package status reports the programmer's state to the outside world.
package status

import "github.com/sirupsen/logrus"

// Status is one of four mutually exclusive indicator states.
type Status int

const (
	Off Status = iota
	Waiting
	Working
	Finished
	Error
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Working:
		return "working"
	case Finished:
		return "finished"
	case Error:
		return "error"
	default:
		return "off"
	}
}

// Indicator shows the current status.
type Indicator interface {
	SetStatus(s Status)
}

// Log is an Indicator that records status changes in the log.
type Log struct {
	Logger logrus.FieldLogger
}

// SetStatus logs the new status.
func (l Log) SetStatus(s Status) {
	if l.Logger == nil {
		return
	}
	l.Logger.WithField("status", s.String()).Info("status changed")
}

// Multi fans a status out to several indicators.
type Multi []Indicator

// SetStatus sets s on every indicator.
func (m Multi) SetStatus(s Status) {
	for _, ind := range m {
		ind.SetStatus(s)
	}
}

// Recorder keeps every status it is given. Useful in tests.
type Recorder struct {
	History []Status
}

// SetStatus appends s to the history.
func (r *Recorder) SetStatus(s Status) {
	r.History = append(r.History, s)
}

// Last returns the most recent status, or Off.
func (r *Recorder) Last() Status {
	if len(r.History) == 0 {
		return Off
	}
	return r.History[len(r.History)-1]
}

package board

import (
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/bigbag/sst39sf-programmer/internal/status"
)

// LEDLines names the four status LED lines. A negative line disables it.
type LEDLines struct {
	Waiting  int
	Working  int
	Finished int
	Error    int
}

// LEDs shows the status on four lines, exactly one lit at a time.
type LEDs struct {
	lines map[status.Status]gpio.PinOut
	log   logrus.FieldLogger
}

// OpenLEDs resolves the LED lines and switches them all off.
func OpenLEDs(lines LEDLines, logger logrus.FieldLogger) (*LEDs, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return newLEDs(lines, logger)
}

func newLEDs(lines LEDLines, logger logrus.FieldLogger) (*LEDs, error) {
	l := &LEDs{lines: make(map[status.Status]gpio.PinOut), log: logger}
	for s, line := range map[status.Status]int{
		status.Waiting:  lines.Waiting,
		status.Working:  lines.Working,
		status.Finished: lines.Finished,
		status.Error:    lines.Error,
	} {
		if line < 0 {
			continue
		}
		p, err := Lookup(line)
		if err != nil {
			return nil, err
		}
		l.lines[s] = p
	}
	l.SetStatus(status.Off)
	return l, nil
}

// SetStatus implements status.Indicator.
func (l *LEDs) SetStatus(s status.Status) {
	for _, p := range l.lines {
		if err := p.Out(gpio.Low); err != nil {
			l.log.WithError(err).Warn("failed to switch status LED off")
		}
	}
	if p, ok := l.lines[s]; ok {
		if err := p.Out(gpio.High); err != nil {
			l.log.WithError(err).WithField("status", s.String()).Warn("failed to switch status LED on")
		}
	}
}

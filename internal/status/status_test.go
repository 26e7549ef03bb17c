package status

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		s        Status
		expected string
	}{
		{Off, "off"},
		{Waiting, "waiting"},
		{Working, "working"},
		{Finished, "finished"},
		{Error, "error"},
	}
	for _, tc := range tests {
		if result := tc.s.String(); result != tc.expected {
			t.Errorf("%d.String() = %q, want %q", tc.s, result, tc.expected)
		}
	}
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b}.SetStatus(Working)

	if a.Last() != Working || b.Last() != Working {
		t.Errorf("Multi did not reach all indicators: %v, %v", a.History, b.History)
	}
}

func TestLog(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	Log{Logger: logger}.SetStatus(Error)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("no log entry written")
	}
	if entry.Data["status"] != "error" {
		t.Errorf("status field = %v, want %q", entry.Data["status"], "error")
	}
	if entry.Level != logrus.InfoLevel {
		t.Errorf("level = %v, want %v", entry.Level, logrus.InfoLevel)
	}
}

package pty

import (
	"regexp"
	"strings"
	"time"
)

// ansiPattern matches CSI and OSC escape sequences plus stray control
// introducers. The child draws a full-screen UI; everything but the text
// must go before prompt detection runs.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[()][0-9A-B]|\x1b[=>]|\r`)

// StripANSI removes terminal escape sequences and carriage returns.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// promptDetector declares the child idle-at-prompt after output has been
// quiet for idleThreshold twice in a row. Single quiet windows happen
// mid-generation; two consecutive ones do not.
type promptDetector struct {
	idleThreshold time.Duration
	lastData      time.Time
	idleConfirms  int
}

func newPromptDetector(idleThreshold time.Duration) *promptDetector {
	return &promptDetector{
		idleThreshold: idleThreshold,
		lastData:      time.Now(),
	}
}

// Reset clears detector state for a new turn.
func (d *promptDetector) Reset() {
	d.lastData = time.Now()
	d.idleConfirms = 0
}

// ObserveData records that output arrived, invalidating any idle streak.
func (d *promptDetector) ObserveData() {
	d.lastData = time.Now()
	d.idleConfirms = 0
}

// ObserveIdle records a quiet read window and reports whether the prompt is
// now considered present.
func (d *promptDetector) ObserveIdle(now time.Time) bool {
	if now.Sub(d.lastData) < d.idleThreshold {
		return false
	}
	d.idleConfirms++
	return d.idleConfirms >= 2
}

// cleanTurnOutput strips escapes and trims the echoed input line when the
// terminal echoes what we wrote.
func cleanTurnOutput(raw, sent string) string {
	out := StripANSI(raw)
	sent = strings.TrimSpace(sent)
	if sent != "" {
		if idx := strings.Index(out, sent); idx >= 0 {
			out = out[idx+len(sent):]
		}
	}
	return strings.TrimSpace(out)
}

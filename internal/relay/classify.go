package relay

import "regexp"

// Output classification is a degenerate state machine driven by pattern
// triggers on the relay's combined stdout/stderr. The relay has no IPC
// and no health endpoint; its text output is the only status channel.
//
// Patterns are checked in group order, connected before waiting, first
// match wins. Word boundaries keep "disconnected" from matching the
// connected group.
var (
	connectedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)client #\d+ connected`),
		regexp.MustCompile(`(?i)tunnel established`),
		regexp.MustCompile(`(?i)\bconnected\b`),
	}
	waitingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)relay server started`),
		regexp.MustCompile(`(?i)\bserver started\b`),
		regexp.MustCompile(`(?i)\blistening\b`),
	}
)

// Classify maps an output line onto a relay state. It returns the state
// after the line and whether that differs from current. Lines matching
// no pattern leave the state unchanged; a repeated match of the current
// state reports no change, so callers emit no duplicate status events.
func Classify(current State, line string) (State, bool) {
	if line == "" {
		return current, false
	}

	for _, pattern := range connectedPatterns {
		if pattern.MatchString(line) {
			return StateConnected, current != StateConnected
		}
	}
	for _, pattern := range waitingPatterns {
		if pattern.MatchString(line) {
			return StateWaiting, current != StateWaiting
		}
	}
	return current, false
}

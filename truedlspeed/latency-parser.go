package truedlspeed

import (
	"regexp"
	"strconv"
)

var latencyPattern = regexp.MustCompile(`time=([0-9.]+) ms`)

// ParseLatencyLine extracts the round-trip time in milliseconds from one
// line of ping output. Lines without a `time=<number> ms` field, such as
// banners and summaries, report false.
func ParseLatencyLine(line string) (float64, bool) {
	_, millis, ok := parseLatencyReading(line)
	return millis, ok
}

// parseLatencyReading also returns the number as the probe printed it.
func parseLatencyReading(line string) (string, float64, bool) {
	match := latencyPattern.FindStringSubmatch(line)
	if match == nil {
		return "", 0, false
	}
	millis, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return "", 0, false
	}
	return match[1], millis, true
}

package truedlspeed

import (
	"strconv"
	"strings"
	"sync"
)

// LatencyLog is the append-only record of one latency session. Appends
// come from the session's worker; reads may come from anywhere.
type LatencyLog struct {
	mu      sync.Mutex
	entries []LatencyLogEntry
}

func (l *LatencyLog) append(entry LatencyLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *LatencyLog) Entries() []LatencyLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LatencyLogEntry(nil), l.entries...)
}

func (l *LatencyLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// String renders one line per entry, "Ping: 23.40ms" for replies with the
// time as the probe printed it, and the raw text for lines kept without a
// value. An empty log renders as "".
func (l *LatencyLog) String() string {
	var b strings.Builder
	for _, entry := range l.Entries() {
		if entry.Matched {
			b.WriteString("Ping: ")
			b.WriteString(entry.reading())
			b.WriteString("ms\n")
		} else {
			b.WriteString(entry.Line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (e LatencyLogEntry) reading() string {
	if e.Reading != "" {
		return e.Reading
	}
	return strconv.FormatFloat(e.Millis, 'f', -1, 64)
}

package truedlspeed

import (
	"time"
)

// windowCounter partitions a byte stream into trailing, non-overlapping
// windows. A window closes on the first read observed at least width after
// it opened; whatever is left when the stream ends is never reported.
type windowCounter struct {
	width              time.Duration
	total              int64
	windowStart        time.Time
	bytesAtWindowStart int64
}

func newWindowCounter(width time.Duration, start time.Time) *windowCounter {
	return &windowCounter{
		width:       width,
		windowStart: start,
	}
}

// add accounts size bytes read at now. When that read closes the current
// window it returns the window's byte count and opens the next one at now.
func (w *windowCounter) add(size int, now time.Time) (int64, bool) {
	w.total += int64(size)
	if now.Sub(w.windowStart) < w.width {
		return 0, false
	}

	windowBytes := w.total - w.bytesAtWindowStart
	w.windowStart = now
	w.bytesAtWindowStart = w.total
	return windowBytes, true
}

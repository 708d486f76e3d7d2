package truedlspeed

import (
	"time"
)

type Unit int

const (
	UnitMbps Unit = iota
	UnitMBps
	UnitMillis
)

func (u Unit) String() string {
	switch u {
	case UnitMbps:
		return "Mbps"
	case UnitMBps:
		return "MB/s"
	case UnitMillis:
		return "ms"
	}
	return "unknown"
}

// Sample is a single measurement emitted by a sampler. Throughput samples
// carry one window's worth of traffic, latency samples one probe reply.
type Sample struct {
	Value     float64
	Unit      Unit
	Timestamp time.Time
}

type SessionKind int

const (
	KindThroughput SessionKind = iota
	KindLatency
)

func (k SessionKind) String() string {
	if k == KindLatency {
		return "latency"
	}
	return "throughput"
}

type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Outcome is how a session reached StateStopped.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "pending"
}

// Handlers receive the events of one session. All of them are invoked from
// the session's worker goroutine, in order. Exactly one of OnError and
// OnDone is called, once, when the session stops. Nil handlers are skipped.
type Handlers struct {
	OnSample func(Sample)
	OnError  func(error)
	OnDone   func(Outcome)
}

type LatencyLogEntry struct {
	Line string
	// Reading is the round-trip time as printed, e.g. "23.40".
	Reading string
	Millis  float64
	Matched bool
}

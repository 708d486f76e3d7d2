package truedlspeed

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultSmoothingAlpha   = 0.2
	DefaultSmoothingEpsilon = 0.1
	DefaultFramePeriod      = 16 * time.Millisecond
)

// SmoothingOptions configures a SmoothingEngine. Zero Alpha, Epsilon and
// Period take the package defaults.
type SmoothingOptions struct {
	// Alpha is the fraction of the remaining gap closed per frame, in (0, 1].
	Alpha float64
	// Epsilon is the gap at or below which the value snaps to the target.
	Epsilon float64
	Period  time.Duration
	// OnFrame receives every frame produced by the tick loop, on the loop's
	// goroutine.
	OnFrame func(float64)
	// Manual disables the internal tick loop; the caller drives Tick from
	// its own frame scheduler instead.
	Manual bool
}

// SmoothingEngine eases a displayed value toward the latest target with a
// first-order exponential approach, so a needle glides instead of jumping.
type SmoothingEngine struct {
	alpha   float64
	epsilon float64
	period  time.Duration
	onFrame func(float64)
	manual  bool

	// frameMu serialises frame delivery; mu guards the state below.
	frameMu sync.Mutex
	mu      sync.Mutex
	current float64
	target  float64
	gen     uint64
	running bool
	quit    chan struct{}
}

func NewSmoothingEngine(opts SmoothingOptions) (*SmoothingEngine, error) {
	if opts.Alpha == 0 {
		opts.Alpha = DefaultSmoothingAlpha
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = DefaultSmoothingEpsilon
	}
	if opts.Period == 0 {
		opts.Period = DefaultFramePeriod
	}
	if !(opts.Alpha > 0 && opts.Alpha <= 1) {
		return nil, errors.Errorf("smoothing alpha %v is outside (0, 1]", opts.Alpha)
	}
	if !(opts.Epsilon > 0) {
		return nil, errors.Errorf("smoothing epsilon %v is not positive", opts.Epsilon)
	}
	if opts.Period <= 0 {
		return nil, errors.Errorf("frame period %v is not positive", opts.Period)
	}

	return &SmoothingEngine{
		alpha:   opts.Alpha,
		epsilon: opts.Epsilon,
		period:  opts.Period,
		onFrame: opts.OnFrame,
		manual:  opts.Manual,
	}, nil
}

// SetTarget retargets the approach from wherever the value is now. Unless
// the engine is manual, it replaces any running tick loop with a fresh one.
// Non-finite targets are ignored.
func (e *SmoothingEngine) SetTarget(target float64) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return
	}

	e.mu.Lock()
	e.target = target
	if e.manual {
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	if e.quit != nil {
		close(e.quit)
	}
	quit := make(chan struct{})
	e.quit = quit
	e.running = true
	e.mu.Unlock()

	go e.loop(gen, quit)
}

// Stop halts the tick loop, leaving the value where it is.
func (e *SmoothingEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.quit != nil {
		close(e.quit)
		e.quit = nil
	}
	e.running = false
}

// Tick advances one frame and reports whether the value has settled on
// the target.
func (e *SmoothingEngine) Tick() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickLocked()
}

// tickLocked snaps as soon as the gap is within epsilon, or once a step
// no longer moves the value at float precision.
func (e *SmoothingEngine) tickLocked() (float64, bool) {
	if math.Abs(e.target-e.current) <= e.epsilon {
		e.current = e.target
		return e.current, true
	}
	next := e.current + (e.target-e.current)*e.alpha
	if next == e.current || math.Abs(e.target-next) <= e.epsilon {
		e.current = e.target
		return e.current, true
	}
	e.current = next
	return e.current, false
}

func (e *SmoothingEngine) loop(gen uint64, quit chan struct{}) {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		settled, live := e.frame(gen)
		if settled || !live {
			return
		}
		select {
		case <-ticker.C:
		case <-quit:
			return
		}
	}
}

// frame ticks once on behalf of loop gen. A superseded loop gets live ==
// false and must exit without touching the state.
func (e *SmoothingEngine) frame(gen uint64) (settled bool, live bool) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return false, false
	}
	value, settled := e.tickLocked()
	if settled {
		e.running = false
		e.quit = nil
	}
	e.mu.Unlock()

	if e.onFrame != nil {
		e.onFrame(value)
	}
	return settled, true
}

func (e *SmoothingEngine) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *SmoothingEngine) Target() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// Running reports whether a tick loop is still converging.
func (e *SmoothingEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

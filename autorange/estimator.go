package autorange

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

var WallClock = ClockFunc(time.Now)

// Estimator keeps the smoothing state and the auto flags between estimations and limits the update rate.
// It is safe for concurrent use.
type Estimator struct {
	clock  Clock
	period time.Duration
	alpha  float64

	mu            sync.Mutex
	scaleActive   bool
	triggerFollow bool
	lastUpdate    time.Time
	smoothed      Smoothed
}

func NewEstimator(clock Clock) *Estimator {
	if clock == nil {
		clock = WallClock
	}
	return &Estimator{
		clock:  clock,
		period: DefaultUpdatePeriod,
		alpha:  DefaultAlpha,
	}
}

func (e *Estimator) SetUpdatePeriod(period time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.period = period
}

func (e *Estimator) SetAlpha(alpha float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alpha = alpha
}

// Activate continuous auto scaling, optionally with the trigger level following the signal.
func (e *Estimator) Activate(followTrigger bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scaleActive = true
	e.triggerFollow = followTrigger
}

// Deactivate all auto flags.
func (e *Estimator) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scaleActive = false
	e.triggerFollow = false
}

// Active indicates if auto scaling is active and if the trigger follows the signal.
func (e *Estimator) Active() (scale bool, followTrigger bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scaleActive, e.triggerFollow
}

// ManualScaleChange must be called when the time window, the voltage range or the voltage offset was changed
// manually. It stops auto scaling and reports if it was active.
func (e *Estimator) ManualScaleChange() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasActive := e.scaleActive
	e.scaleActive = false
	return wasActive
}

// ManualTriggerChange must be called when the trigger level was changed manually. It stops the trigger following
// and reports if it was active.
func (e *Estimator) ManualTriggerChange() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasActive := e.triggerFollow
	e.triggerFollow = false
	return wasActive
}

// Reset the smoothing state.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothed = Smoothed{}
}

// Update computes a stable suggestion if auto scaling is active and the last update is at least one update
// period ago. force skips the rate limit.
func (e *Estimator) Update(input Input, force bool) (Suggestion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.scaleActive {
		return Suggestion{}, false
	}
	return e.estimate(input, true, force)
}

// Autoset computes an immediate suggestion and activates auto scaling with trigger following.
func (e *Estimator) Autoset(input Input, stable bool) (Suggestion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scaleActive = true
	e.triggerFollow = true
	return e.estimate(input, stable, true)
}

func (e *Estimator) estimate(input Input, stable bool, force bool) (Suggestion, bool) {
	now := e.clock.Now()
	if !force && !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) < e.period {
		return Suggestion{}, false
	}

	params := Params{Stable: stable, Alpha: e.alpha, FollowTrigger: e.triggerFollow}
	result, next, ok := Estimate(input, params, e.smoothed)
	if !ok {
		return Suggestion{}, false
	}
	e.smoothed = next
	e.lastUpdate = now
	return result, true
}

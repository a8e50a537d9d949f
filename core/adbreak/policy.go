package adbreak

import (
	"context"
	"sync"
	"time"

	"EchoFM/logger"
	"EchoFM/model"
)

// Reason 触发广告检查的原因
type Reason string

const (
	// ReasonInterval fires when enough wall-clock time has passed since
	// the last successful break.
	ReasonInterval Reason = "interval"
	// ReasonSkip fires when the user skips too many tracks in a short
	// window.
	ReasonSkip Reason = "skip"
	// ReasonForce always fires; used for the preemptive check before the
	// first play after the grace period expires. It bypasses the grace
	// period but not the circuit breaker.
	ReasonForce Reason = "force"
)

// Store persists policy state across reloads, keyed by user. Anonymous
// sessions use the in-memory implementation.
type Store interface {
	GetState(userID int64) (*model.AdPolicyState, error)
	PutState(state *model.AdPolicyState) error
}

// Runner executes one ad break end to end.
type Runner interface {
	Run(ctx context.Context) error
}

// Options 策略参数。零值字段取产品默认
type Options struct {
	Interval      time.Duration // minimum gap between breaks
	GracePeriod   time.Duration // quiet period after a successful break
	SkipWindow    time.Duration // rolling window for the skip counter
	SkipThreshold int
	MaxFailures   int // circuit breaker ceiling
	Clock         func() time.Time
}

func (o *Options) fillDefaults() {
	if o.Interval == 0 {
		o.Interval = 30 * time.Minute
	}
	if o.GracePeriod == 0 {
		o.GracePeriod = 30 * time.Minute
	}
	if o.SkipWindow == 0 {
		o.SkipWindow = 60 * time.Second
	}
	if o.SkipThreshold == 0 {
		o.SkipThreshold = 5
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 3
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Policy decides when an ad break must interrupt playback and owns its
// execution. One instance per playback engine.
type Policy struct {
	userID int64
	store  Store
	runner Runner
	opts   Options

	mu         sync.Mutex
	inProgress bool
	skips      int
	// failures 只存内存：熔断只管到进程重启为止，不跟着落库的状态走
	failures  int
	skipTimer *time.Timer
	onBreak   func(active bool)
}

// NewPolicy 创建策略引擎
func NewPolicy(userID int64, store Store, runner Runner, opts Options) *Policy {
	opts.fillDefaults()
	return &Policy{
		userID: userID,
		store:  store,
		runner: runner,
		opts:   opts,
	}
}

// SetOnBreakChange registers a callback invoked when a break starts and
// ends. Used by the engine to expose "ad break in progress" to the UI.
func (p *Policy) SetOnBreakChange(fn func(active bool)) {
	p.mu.Lock()
	p.onBreak = fn
	p.mu.Unlock()
}

// InProgress reports whether a break is currently running.
func (p *Policy) InProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inProgress
}

// RecordSkip counts a track skip. The counter clears itself after the
// rolling window elapses with no further skips.
func (p *Policy) RecordSkip() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.skips++
	if p.skipTimer != nil {
		p.skipTimer.Stop()
	}
	p.skipTimer = time.AfterFunc(p.opts.SkipWindow, func() {
		p.mu.Lock()
		p.skips = 0
		p.mu.Unlock()
	})
}

// BeforeTrackDue reports whether the preemptive pre-play check should run
// a break: only once the grace period has fully expired.
func (p *Policy) BeforeTrackDue() bool {
	state, err := p.store.GetState(p.userID)
	if err != nil {
		logger.Warn("failed to load ad policy state", logger.ErrorField(err), logger.Int64("user", p.userID))
		return false
	}
	return !p.opts.Clock().Before(state.GracePeriodEnd)
}

// CheckForAds evaluates the trigger for the given reason and, when due,
// runs an ad break to completion. Returns true when a break ran (whether
// or not it succeeded) so the caller knows to defer the pending track.
// Concurrent calls while a break is in progress return false immediately.
func (p *Policy) CheckForAds(ctx context.Context, reason Reason) bool {
	p.mu.Lock()
	if p.inProgress {
		p.mu.Unlock()
		return false
	}
	skips := p.skips
	failures := p.failures
	p.mu.Unlock()

	// Circuit breaker: too many consecutive failures disables ads
	// entirely, for every reason, until the process restarts.
	if failures >= p.opts.MaxFailures {
		return false
	}

	state, err := p.store.GetState(p.userID)
	if err != nil {
		logger.Warn("failed to load ad policy state", logger.ErrorField(err), logger.Int64("user", p.userID))
		return false
	}

	now := p.opts.Clock()

	// Grace period blocks everything except force.
	if reason != ReasonForce && now.Before(state.GracePeriodEnd) {
		return false
	}

	triggered := false
	switch reason {
	case ReasonForce:
		triggered = true
	case ReasonInterval:
		triggered = state.LastAdTime.IsZero() || now.Sub(state.LastAdTime) >= p.opts.Interval
	case ReasonSkip:
		triggered = skips >= p.opts.SkipThreshold
	}
	if !triggered {
		return false
	}

	p.mu.Lock()
	if p.inProgress {
		p.mu.Unlock()
		return false
	}
	p.inProgress = true
	onBreak := p.onBreak
	p.mu.Unlock()

	if onBreak != nil {
		onBreak(true)
	}

	runErr := p.runner.Run(ctx)

	now = p.opts.Clock()
	if runErr != nil {
		logger.Warn("ad break failed",
			logger.ErrorField(runErr),
			logger.String("reason", string(reason)),
			logger.Int64("user", p.userID))
	} else {
		// A successful break of any trigger type resets both the interval
		// clock and the skip counter.
		state.LastAdTime = now
		state.GracePeriodEnd = now.Add(p.opts.GracePeriod)
		if err := p.store.PutState(state); err != nil {
			logger.Error("failed to persist ad policy state", logger.ErrorField(err), logger.Int64("user", p.userID))
		}
	}

	p.mu.Lock()
	p.inProgress = false
	if runErr != nil {
		p.failures++
	} else {
		p.failures = 0
		p.skips = 0
		if p.skipTimer != nil {
			p.skipTimer.Stop()
			p.skipTimer = nil
		}
	}
	p.mu.Unlock()

	if onBreak != nil {
		onBreak(false)
	}

	return true
}

// Package supervisor drives the reconnect state machine: it decides, after
// each feed failure, whether to resume from the saved token, restart from
// "now", or give up, and how long to back off first.
package supervisor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedwatch/internal/watcher/feed"
)

// State of the supervisor.
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateBackingOff
	StateGivingUp
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateBackingOff:
		return "backing_off"
	case StateGivingUp:
		return "giving_up"
	default:
		return "unknown"
	}
}

// Action to take after a failure.
type Action int

const (
	// ActionResume reopens the feed from the last saved resume token.
	ActionResume Action = iota

	// ActionRestart reopens without a resume point: the token expired, the
	// caller must surface a gap warning to the consumer.
	ActionRestart

	// ActionGiveUp stops reconnecting. Terminal.
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionRestart:
		return "restart"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Decision is the supervisor's verdict on one failure.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Config holds backoff parameters.
type Config struct {
	// BaseDelay is the first backoff delay; doubles each attempt.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxAttempts is the number of consecutive failures tolerated before
	// giving up. Resets on every successful connection.
	MaxAttempts int `yaml:"max_attempts"`

	// RandomizationFactor spreads delays by +/- the given fraction.
	// Zero disables jitter.
	RandomizationFactor float64 `yaml:"randomization_factor"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            30 * time.Second,
		MaxAttempts:         10,
		RandomizationFactor: 0.5,
	}
}

// ExhaustedError is the fatal failure reported when reconnection attempts
// run out or the failure cannot heal on its own.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("reconnect supervisor gave up after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Supervisor is the reconnect state machine. Not safe for concurrent use;
// reconnect attempts are strictly sequential by design, so a single loop
// owns it.
type Supervisor struct {
	cfg     Config
	bo      *backoff.ExponentialBackOff
	state   State
	attempt int
	logger  *slog.Logger
}

// New creates a Supervisor. Zero config fields fall back to defaults, except
// RandomizationFactor where zero means no jitter.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.MaxElapsedTime = 0 // attempts are bounded by count, not time
	bo.Reset()

	return &Supervisor{
		cfg:    cfg,
		bo:     bo,
		state:  StateConnected,
		logger: logger.With("component", "supervisor"),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

// Attempts returns the consecutive failure count since the last success.
func (s *Supervisor) Attempts() int {
	return s.attempt
}

// OnConnected records a successful (re)connection: the attempt counter and
// the backoff schedule start over.
func (s *Supervisor) OnConnected() {
	s.state = StateConnected
	s.attempt = 0
	s.bo.Reset()
}

// OnFailure records a feed failure and decides the next move.
func (s *Supervisor) OnFailure(err error) Decision {
	if s.state == StateGivingUp {
		return Decision{Action: ActionGiveUp}
	}

	s.state = StateDisconnected
	s.attempt++

	if !feed.IsRetryable(err) {
		// Auth and filter rejections do not heal with retries.
		s.state = StateGivingUp
		s.logger.Error("unrecoverable feed error, giving up",
			"error", err, "attempt", s.attempt)
		return Decision{Action: ActionGiveUp}
	}

	if s.attempt > s.cfg.MaxAttempts {
		s.state = StateGivingUp
		s.logger.Error("max reconnect attempts exceeded, giving up",
			"error", err, "attempts", s.attempt-1)
		return Decision{Action: ActionGiveUp}
	}

	delay := s.bo.NextBackOff()
	s.state = StateBackingOff

	action := ActionResume
	if feed.IsTokenExpired(err) {
		action = ActionRestart
		s.logger.Warn("resume token expired, will restart from now",
			"attempt", s.attempt, "delay", delay)
	} else {
		s.logger.Warn("feed failed, will resume from checkpoint",
			"error", err, "attempt", s.attempt, "delay", delay)
	}

	return Decision{Action: action, Delay: delay}
}

package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // per-send deadline
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // open period before a trial send
	HalfOpenMaxCalls int           // concurrent trial sends while half-open
}

// Observer receives the outcome of every send, including fail-fast rejections.
type Observer func(template string, err error)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ProtectedNotifier bounds every send with a timeout and stops calling a
// failing mail provider until the cooldown has passed.
type ProtectedNotifier struct {
	inner    Notifier
	cfg      ProtectedNotifierConfig
	observer Observer
	now      func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	trialsInFlight      int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig, observer Observer) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedNotifier{
		inner:    inner,
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
		state:    CircuitClosed,
	}
}

func (n *ProtectedNotifier) State() CircuitState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *ProtectedNotifier) Send(ctx context.Context, msg Message) error {
	trial, ok := n.admit()
	if !ok {
		n.observe(msg, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	err := n.inner.Send(sendCtx, msg)

	// the caller giving up says nothing about the provider
	callerGone := err != nil && ctx.Err() != nil
	n.settle(trial, err, callerGone)
	n.observe(msg, err)

	return err
}

func (n *ProtectedNotifier) observe(msg Message, err error) {
	if n.observer != nil {
		n.observer(msg.Template, err)
	}
}

// admit reports whether a send may go out and whether it is a half-open trial.
func (n *ProtectedNotifier) admit() (trial bool, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == CircuitOpen {
		if n.now().Sub(n.openedAt) < n.cfg.Cooldown {
			return false, false
		}
		n.state = CircuitHalfOpen
		n.trialsInFlight = 0
	}

	if n.state == CircuitHalfOpen {
		if n.trialsInFlight >= n.cfg.HalfOpenMaxCalls {
			return false, false
		}
		n.trialsInFlight++
		return true, true
	}

	return false, true
}

func (n *ProtectedNotifier) settle(trial bool, err error, callerGone bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if trial && n.trialsInFlight > 0 {
		n.trialsInFlight--
	}

	switch {
	case err == nil:
		n.consecutiveFailures = 0
		n.state = CircuitClosed
	case callerGone:
	case trial:
		n.trip()
	default:
		n.consecutiveFailures++
		if n.consecutiveFailures >= n.cfg.FailureThreshold {
			n.trip()
		}
	}
}

func (n *ProtectedNotifier) trip() {
	n.state = CircuitOpen
	n.openedAt = n.now()
}

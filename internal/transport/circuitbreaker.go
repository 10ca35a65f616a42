package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when a peer's circuit breaker is open.
var ErrCircuitOpen = errors.New("transport: circuit breaker is open")

// circuitState is one of closed, open, half-open.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker trips after repeated transport failures against one node,
// so a wedged peer stops being retried every single pass.
type circuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu              sync.Mutex
	state           circuitState
	failures        int
	successes       int
	lastFailureTime time.Time

	log *logrus.Entry
}

func newCircuitBreaker(nodeID string, failureThreshold, successThreshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            stateClosed,
		log:              logrus.WithFields(logrus.Fields{"component": "circuit-breaker", "node_id": nodeID}),
	}
}

// call runs fn if the circuit allows it, and records the outcome.
func (cb *circuitBreaker) call(fn func() error) error {
	if !cb.allowRequest() {
		cb.log.WithField("state", cb.state.String()).Debug("circuit breaker blocked request")
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.log.Info("circuit breaker transitioning from open to half-open")
			cb.state = stateHalfOpen
			cb.successes = 0
			return true
		}
		return false
	case stateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case stateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.log.WithField("failures", cb.failures).Warn("circuit breaker opening due to failures")
			cb.state = stateOpen
			cb.failures = 0
		}
	case stateHalfOpen:
		cb.log.Warn("circuit breaker reopening from half-open after failure")
		cb.state = stateOpen
		cb.failures = 0
		cb.successes = 0
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateClosed {
		cb.failures = 0
		return
	}
	if cb.state == stateHalfOpen {
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.log.WithField("successes", cb.successes).Info("circuit breaker closing after successful recovery")
			cb.state = stateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

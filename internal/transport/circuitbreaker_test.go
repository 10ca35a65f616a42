package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker("node-1", 2, 1, time.Minute)

	failing := errors.New("boom")
	assert.ErrorIs(t, cb.call(func() error { return failing }), failing)
	assert.ErrorIs(t, cb.call(func() error { return failing }), failing)

	err := cb.call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := newCircuitBreaker("node-1", 1, 1, time.Millisecond)

	assert.Error(t, cb.call(func() error { return errors.New("boom") }))
	assert.ErrorIs(t, cb.call(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, cb.call(func() error { return nil }))
	assert.Equal(t, stateClosed, cb.state)
}

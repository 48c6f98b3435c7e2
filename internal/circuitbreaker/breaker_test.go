package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker() *CircuitBreaker {
	return New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 3 && c.FailureRatio() > 0.5
		},
	})
}

func TestBreakerTripsAfterReadyToTripReturnsTrue(t *testing.T) {
	cb := newTestBreaker()
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(failing)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	cb := newTestBreaker()
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	require.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "should not run", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpensAfterTimeoutThenCloses(t *testing.T) {
	cb := newTestBreaker()
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnFailureDuringHalfOpen(t *testing.T) {
	cb := newTestBreaker()
	failing := func() (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(failing)
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestJudgeBreakerIsolatesFailuresPerJudge(t *testing.T) {
	downstream := NewDownstreamBreakers(time.Second)
	a := downstream.JudgeBreaker("judge-a")
	b := downstream.JudgeBreaker("judge-b")
	assert.NotSame(t, a, b)

	for i := 0; i < 5; i++ {
		a.Execute(func() (interface{}, error) { return nil, errors.New("judge-a offline") })
	}
	assert.Equal(t, StateOpen, a.State())
	assert.Equal(t, StateClosed, b.State(), "judge-b's breaker must be unaffected by judge-a's failures")

	// Requesting the same judge id again must return the same breaker instance.
	again := downstream.JudgeBreaker("judge-a")
	assert.Same(t, a, again)
}

func TestCountsFailureRatio(t *testing.T) {
	var c Counts
	assert.Equal(t, 0.0, c.FailureRatio())
	c.OnSuccess()
	c.OnFailure()
	c.OnFailure()
	assert.InDelta(t, 2.0/3.0, c.FailureRatio(), 0.0001)
}

package circuitbreaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/w3f/ack-escalation/internal/adapter/circuitbreaker"
)

func TestTripsAfterFailureThreshold(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, "chat", nil)

	assert.True(t, cb.CanAttempt())
	cb.RecordFailure()
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
	assert.False(t, cb.CanAttempt())
}

func TestHalfOpenRecoversOnSuccess(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond}, "chat", nil)

	cb.RecordFailure()
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.CanAttempt())

	cb.RecordSuccess()
	assert.Equal(t, circuitbreaker.StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}, "chat", nil)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.RecordSuccess() // moves to half-open
	assert.Equal(t, circuitbreaker.StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, "paging",
		func(name string, from, to circuitbreaker.State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		})

	cb.RecordFailure()
	assert.Equal(t, []string{"paging:closed->open"}, transitions)
}

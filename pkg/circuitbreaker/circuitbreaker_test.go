package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/library-service/pkg/circuitbreaker"
)

func Test_circuitBreaker_Call(t *testing.T) {
	successfulService := func() error {
		return nil
	}
	failingService := func() error {
		return errors.New("service error")
	}

	cb := circuitbreaker.New(10, 50*time.Millisecond, 0.30, 3)

	for i := 0; i < 20; i++ {
		require.NoError(t, cb.Call(successfulService))
	}

	// enough failures to exceed the percentile and open the breaker
	for i := 0; i < 4; i++ {
		require.Error(t, cb.Call(failingService))
	}
	err := cb.Call(successfulService)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)

	// after the timeout the breaker probes in half-open state
	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Call(successfulService))
	}

	// recovered: failures below the percentile pass straight through again
	require.Error(t, cb.Call(failingService))
	require.NoError(t, cb.Call(successfulService))

	// a failure while half-open snaps straight back to open
	cb.Reset()
	for i := 0; i < 4; i++ {
		require.Error(t, cb.Call(failingService))
	}
	time.Sleep(60 * time.Millisecond)
	require.Error(t, cb.Call(failingService))
	require.ErrorIs(t, cb.Call(successfulService), circuitbreaker.ErrOpen)
}

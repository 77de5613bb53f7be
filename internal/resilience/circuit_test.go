package resilience

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPage = errors.New("page failed")

func TestCircuitBreaker_DefaultThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	assert.False(t, cb.Record(errPage))
	assert.False(t, cb.Record(errPage))
	assert.True(t, cb.Record(errPage))
	assert.True(t, cb.Open())
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_SuccessEndsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	// Pages 2 and 3 fail, page 4 succeeds, pages 5 and 6 fail.
	for _, err := range []error{nil, errPage, errPage, nil, errPage, errPage} {
		cb.Record(err)
	}
	assert.False(t, cb.Open())
	assert.Equal(t, 2, cb.Streak())

	assert.True(t, cb.Record(errPage))
}

func TestCircuitBreaker_LatchesOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	require.True(t, cb.Record(errPage))

	assert.True(t, cb.Record(nil), "success after tripping does not close the breaker")
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTripFiltersErrors(t *testing.T) {
	ignored := errors.New("ignored")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, ignored) },
	})

	cb.Record(errPage)
	cb.Record(ignored)
	assert.Equal(t, 1, cb.Streak(), "filtered errors leave the run unchanged")
	assert.True(t, cb.Record(errPage))
}

func TestCircuitBreaker_OnStateChangeFiresOnce(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 5; i++ {
		cb.Record(errPage)
	}
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestCircuitBreaker_ConcurrentRecord(t *testing.T) {
	var opened int
	var mu sync.Mutex
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 10,
		OnStateChange: func(_, _ CircuitState) {
			mu.Lock()
			opened++
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Record(errPage)
		}()
	}
	wg.Wait()

	assert.True(t, cb.Open())
	assert.Equal(t, 1, opened)
}

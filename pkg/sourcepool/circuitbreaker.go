/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sourcepool

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the lifecycle state of a CircuitBreaker.
type CircuitState int

const (
	CircuitStateClosed CircuitState = iota
	CircuitStateOpen
	CircuitStateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitStateOpen:
		return "open"
	case CircuitStateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// minEvaluationSamples is the smallest sample size the failure rate is
// evaluated against; below it a single bad run cannot trip the breaker.
const minEvaluationSamples = 5

// CircuitBreaker guards one source database's query path: once its
// cumulative failure rate (reset when a half-open trial succeeds)
// crosses failureThreshold it rejects calls
// immediately for resetTimeout before allowing one trial call through.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold float64
	resetTimeout     time.Duration

	state    CircuitState
	failures int64
	total    int64
	openedAt time.Time
}

func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitStateClosed,
	}
}

func (cb *CircuitBreaker) GetName() string                  { return cb.name }
func (cb *CircuitBreaker) GetFailureThreshold() float64     { return cb.failureThreshold }
func (cb *CircuitBreaker) GetResetTimeout() time.Duration   { return cb.resetTimeout }

func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) GetFailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureRateLocked()
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	if cb.total == 0 {
		return 0
	}
	return float64(cb.failures) / float64(cb.total)
}

// Call runs fn, counting it towards the cumulative failure rate, unless
// the breaker is open and the reset timeout has not yet elapsed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitStateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return fmt.Errorf("circuit breaker %q: circuit breaker is open", cb.name)
		}
		cb.state = CircuitStateHalfOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateHalfOpen {
		if err != nil {
			cb.state = CircuitStateOpen
			cb.openedAt = time.Now()
		} else {
			cb.state = CircuitStateClosed
			cb.failures = 0
			cb.total = 0
		}
		return err
	}

	cb.total++
	if err != nil {
		cb.failures++
	}
	if cb.total >= minEvaluationSamples && cb.failureRateLocked() >= cb.failureThreshold {
		cb.state = CircuitStateOpen
		cb.openedAt = time.Now()
	}
	return err
}

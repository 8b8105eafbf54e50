package resilience

import (
	"sync"
)

// CircuitBreakerRegistry is a named-instance cache over CircuitBreaker so
// multiple call sites addressing the same logical resource share one breaker.
//
// The registry is the only intentionally shared structure in this package.
// Construct one at process start and thread it through to collaborators.
type CircuitBreakerRegistry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerRegistry creates an empty registry
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the existing breaker for name if present; otherwise it
// constructs one with config and stores it. The config only applies on first
// creation.
func (r *CircuitBreakerRegistry) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	r.mutex.RLock()
	if cb, ok := r.breakers[name]; ok {
		r.mutex.RUnlock()
		return cb
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	cb := NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker for name, if present
func (r *CircuitBreakerRegistry) Get(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cb, ok := r.breakers[name]
	return cb, ok
}

// GetAllCircuits returns a copy of the full name to breaker mapping
func (r *CircuitBreakerRegistry) GetAllCircuits() map[string]*CircuitBreaker {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	circuits := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		circuits[name] = cb
	}
	return circuits
}

// GetAllStats returns a stats snapshot for every registered breaker
func (r *CircuitBreakerRegistry) GetAllStats() map[string]CircuitStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]CircuitStats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// Clear discards all instances. Calls already holding a breaker reference
// are unaffected.
func (r *CircuitBreakerRegistry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.breakers = make(map[string]*CircuitBreaker)
}

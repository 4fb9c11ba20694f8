// Package circuitbreaker wraps sony/gobreaker with a named-instance
// manager, so every breaker created through one Manager shares one set of
// trip/cooldown settings and one place to read state for metrics and
// health checks. The backend adapter and the LLM gateway each build their
// own Manager.
package circuitbreaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
)

// Manager creates and caches named gobreaker.CircuitBreaker instances
// sharing a common Settings template. Each caller supplies a unique name
// (the backend endpoint, or "llm:<provider>") and gets back the same
// instance on every subsequent call.
type Manager struct {
	settings gobreaker.Settings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager builds a Manager whose breakers all inherit settings, except
// for Name which is overridden per call to Get.
func NewManager(settings gobreaker.Settings) *Manager {
	return &Manager{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the named breaker, creating it on first use.
func (m *Manager) Get(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	settings := m.settings
	settings.Name = name
	cb := gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = cb
	return cb
}

// State returns the current state of the named breaker without creating
// it, reporting gobreaker.StateClosed for a breaker that has never been
// used.
func (m *Manager) State(name string) gobreaker.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// Names returns the names of every breaker created so far, for health and
// metrics endpoints to enumerate.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// Execute runs fn through the named breaker, translating gobreaker's
// ErrOpenState/ErrTooManyRequests into a BackendError so callers can
// branch on errors.BackendError.Kind without importing gobreaker
// themselves.
func Execute[T any](ctx context.Context, m *Manager, name, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	cb := m.Get(name)
	result, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, errors.NewBackendError(errors.BackendCircuitOpen, endpoint, err)
		}
		return zero, err
	}
	return result.(T), nil
}

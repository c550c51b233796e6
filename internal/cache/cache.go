// Package cache holds the in-process rate table cache and the manager that
// sweeps expired entries out of long-lived caches.
package cache

import (
	"sync"
	"time"

	"ledgerbook/internal/log"
)

// Cleaner is implemented by caches that can drop their expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically cleans every registered cache.
type Manager struct {
	mu     sync.Mutex
	caches map[string]Cleaner
	logger *log.Logger

	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Manager{
		caches: make(map[string]Cleaner),
		logger: logger.WithComponent(log.ComponentCache),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register adds a cache under name, replacing any cache of the same name.
func (m *Manager) Register(name string, c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = c
}

// StartCleanup begins periodic cleanup. Only the first call has an effect.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.run(interval)
}

// CleanNow runs one pass and returns how many entries were dropped.
func (m *Manager) CleanNow() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for name, c := range m.caches {
		if n := c.CleanExpired(); n > 0 {
			m.logger.Debug("Expired cache entries removed", "cache", name, "count", n)
			total += n
		}
	}
	return total
}

func (m *Manager) run(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanNow()
		case <-m.stop:
			return
		}
	}
}

// Stop ends the cleanup loop and waits for it. It is safe to call more than
// once, and before StartCleanup.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
}

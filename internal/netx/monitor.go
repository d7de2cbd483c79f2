// Package netx tracks network connectivity for the sync engine.
package netx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/joselitz123/budget-planner/internal/logging"
)

// Listener is invoked on every connectivity transition with the new
// online state.
type Listener func(online bool)

// Monitor holds the current online/offline state and notifies
// subscribers on transitions. State changes come from Set, either
// driven by the embedded probe loop or by the host application.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	nextID    int

	probeURL      string
	probeInterval time.Duration
	client        *http.Client

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe enables a background reachability probe against url every
// interval. The probe issues HEAD requests and flips the monitor state
// on success or failure.
func WithProbe(url string, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probeURL = url
		m.probeInterval = interval
	}
}

// NewMonitor creates a Monitor that starts online.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		online:    true,
		listeners: make(map[int]Listener),
		client:    &http.Client{Timeout: 5 * time.Second},
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the connectivity state. Subscribers are notified only
// when the state actually changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", logging.Fields{"online": online})
	for _, l := range listeners {
		l(online)
	}
}

// Subscribe registers a listener for connectivity transitions and
// returns a cancel function that removes it.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start launches the probe loop if a probe URL was configured. It is a
// no-op otherwise.
func (m *Monitor) Start() {
	if m.probeURL == "" {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Set(m.probe())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the probe loop. Safe to call without Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check reports the current health of one stage. Checks are polled on each
// report and must not block.
type Check func(ctx context.Context) Status

// Monitor polls registered checks and serves the aggregate as JSON
type Monitor struct {
	system  string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
	order  []string
}

// NewMonitor creates a monitor reporting under the given system name
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:  system,
		timeout: 2 * time.Second,
		checks:  make(map[string]Check),
	}
}

// Register adds or replaces the check for name. Reports list checks in
// registration order.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checks[name]; !ok {
		m.order = append(m.order, name)
	}
	m.checks[name] = check
}

// Names returns the registered check names in order
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Get runs a single check
func (m *Monitor) Get(ctx context.Context, name string) (Status, bool) {
	m.mu.RLock()
	check, ok := m.checks[name]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return m.run(ctx, name, check), true
}

// Report runs every check and aggregates the results
func (m *Monitor) Report(ctx context.Context) Status {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, len(names))
	for i, name := range names {
		subs[i] = m.run(ctx, name, checks[i])
	}
	return Aggregate(m.system, subs)
}

func (m *Monitor) run(ctx context.Context, name string, check Check) Status {
	status := check(ctx)
	status.Component = name
	status.Message = sanitizeMessage(status.Message)
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

// ServeHTTP writes the aggregate report. Unhealthy answers 503; degraded
// still answers 200 so load balancers keep routing.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
	defer cancel()

	report := m.Report(ctx)
	code := http.StatusOK
	if report.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

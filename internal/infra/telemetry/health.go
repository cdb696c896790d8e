package telemetry

import (
	"sort"
	"sync"
	"time"
)

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

// HealthCheck reports whether a dependency is ready and why not.
type HealthCheck func() (ok bool, detail string)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status string            `json:"status"`
	Checks []HealthComponent `json:"checks,omitempty"`
}

type HealthComponent struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthTracker aggregates readiness checks and loop heartbeats.
type HealthTracker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	beats   map[string]*Heartbeat
	nowFunc func() time.Time
}

// Heartbeat marks a background loop as alive. A loop that has not beaten
// within its stale window turns the report degraded.
type Heartbeat struct {
	tracker *HealthTracker
	stale   time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		checks:  make(map[string]HealthCheck),
		beats:   make(map[string]*Heartbeat),
		nowFunc: time.Now,
	}
}

// AddCheck registers a named readiness check, replacing any previous one.
func (t *HealthTracker) AddCheck(name string, check HealthCheck) {
	if t == nil || check == nil {
		return
	}
	t.mu.Lock()
	t.checks[name] = check
	t.mu.Unlock()
}

// Register adds a heartbeat that must beat at least every stale interval.
func (t *HealthTracker) Register(name string, stale time.Duration) *Heartbeat {
	beat := &Heartbeat{tracker: t, stale: stale}
	if t == nil {
		return beat
	}
	t.mu.Lock()
	t.beats[name] = beat
	t.mu.Unlock()
	return beat
}

// Unregister removes a heartbeat, for loops that stopped on purpose.
func (t *HealthTracker) Unregister(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.beats, name)
	t.mu.Unlock()
}

func (b *Heartbeat) Beat() {
	if b == nil || b.tracker == nil {
		return
	}
	now := b.tracker.nowFunc()
	b.mu.Lock()
	b.last = now
	b.mu.Unlock()
}

func (b *Heartbeat) alive(now time.Time) (bool, string) {
	b.mu.Lock()
	last := b.last
	b.mu.Unlock()
	if last.IsZero() {
		return false, "no heartbeat yet"
	}
	if b.stale > 0 && now.Sub(last) > b.stale {
		return false, "last heartbeat " + now.Sub(last).Truncate(time.Millisecond).String() + " ago"
	}
	return true, ""
}

func (t *HealthTracker) Report() HealthReport {
	if t == nil {
		return HealthReport{Status: HealthStatusOK}
	}
	t.mu.RLock()
	checks := make(map[string]HealthCheck, len(t.checks))
	for name, check := range t.checks {
		checks[name] = check
	}
	beats := make(map[string]*Heartbeat, len(t.beats))
	for name, beat := range t.beats {
		beats[name] = beat
	}
	t.mu.RUnlock()

	now := t.nowFunc()
	report := HealthReport{Status: HealthStatusOK}
	for name, check := range checks {
		ok, detail := check()
		report.add(name, ok, detail)
	}
	for name, beat := range beats {
		ok, detail := beat.alive(now)
		report.add(name, ok, detail)
	}
	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})
	return report
}

func (r *HealthReport) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, HealthComponent{Name: name, OK: ok, Detail: detail})
	if !ok {
		r.Status = HealthStatusDegraded
	}
}

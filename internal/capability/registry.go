package capability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Check probes one capability. A nil error means it is usable.
type Check func(ctx context.Context) error

// Status is the last observed state of a capability.
type Status struct {
	Name      string    `json:"name"`
	Backend   string    `json:"backend"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type entry struct {
	check  Check
	status Status
}

// Registry tracks the external capabilities the pipeline depends on:
// generation, synthesis, the concat tool, persistence and transcripts.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *slog.Logger
	meter   metric.Meter
	timeout time.Duration
	clock   func() time.Time
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		log:     log.With(slog.String("component", "capability-registry")),
		meter:   otel.Meter("github.com/loqalabs/loqa-practice/runtime"),
		timeout: 3 * time.Second,
		clock:   time.Now,
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Register adds a capability. A nil check means the capability is always
// available once registered.
func (r *Registry) Register(name, backend string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{
		check:  check,
		status: Status{Name: name, Backend: backend},
	}
}

// Refresh runs every check and returns the new snapshot.
func (r *Registry) Refresh(ctx context.Context) []Status {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	checks := make(map[string]Check, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		checks[name] = e.check
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(names))
	for _, name := range names {
		var err error
		if check := checks[name]; check != nil {
			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			err = check(checkCtx)
			cancel()
		}
		results[name] = err
	}

	now := r.clock().UTC()
	r.mu.Lock()
	for name, err := range results {
		e, ok := r.entries[name]
		if !ok {
			continue
		}
		was := e.status.Healthy
		e.status.Healthy = err == nil
		e.status.Error = ""
		if err != nil {
			e.status.Error = err.Error()
		}
		e.status.CheckedAt = now
		if was && err != nil {
			r.log.Warn("capability unavailable", slog.String("capability", name), slog.String("error", err.Error()))
		} else if !was && err == nil {
			r.log.Info("capability available", slog.String("capability", name), slog.String("backend", e.status.Backend))
		}
	}
	r.mu.Unlock()
	return r.Snapshot()
}

// Snapshot returns the last known statuses sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every registered capability passed its last check.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if !e.status.Healthy {
			return false
		}
	}
	return true
}

// Run refreshes on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	r.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("practice.capabilities.healthy",
		metric.WithDescription("1 when the capability passed its last check"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for _, st := range r.Snapshot() {
			var v int64
			if st.Healthy {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(
				attribute.String("capability", st.Name),
				attribute.String("backend", st.Backend)))
		}
		return nil
	}, gauge)
	return err
}

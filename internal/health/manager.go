package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/metrics"
)

const recordKeyPrefix = "health/"

// Probe checks one component and reports its condition. Implementations
// must honor ctx; the manager applies the configured probe timeout.
type Probe interface {
	Component() string
	Check(ctx context.Context) (Status, string)
}

// Manager owns the probe set, runs check rounds on a jittered interval, and
// serves results to admission control and the admin API.
type Manager struct {
	logger       *slog.Logger
	store        *kv.Store
	probes       []Probe
	interval     time.Duration
	jitter       time.Duration
	probeTimeout time.Duration
	freshness    time.Duration

	mounts map[string]string

	mu     sync.RWMutex
	latest map[string]Record
}

// NewManager builds a manager from configuration. Probes run in the order
// given; mount probes registered here become addressable by path prefix.
func NewManager(cfg *config.Config, store *kv.Store, logger *slog.Logger, probes ...Probe) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Health.Interval) * time.Second
	m := &Manager{
		logger:       logger.With(logging.String(logging.FieldComponent, "health")),
		store:        store,
		probes:       probes,
		interval:     interval,
		jitter:       time.Duration(cfg.Health.Jitter) * time.Second,
		probeTimeout: time.Duration(cfg.Health.ProbeTimeout) * time.Second,
		freshness:    time.Duration(cfg.Health.FreshnessFactor) * interval,
		mounts:       make(map[string]string),
		latest:       make(map[string]Record),
	}
	for _, probe := range probes {
		if storage, ok := probe.(*StorageProbe); ok {
			m.mounts[storage.Path()] = storage.Component()
		}
	}
	return m
}

// DefaultProbes assembles the standard probe set from configuration.
// liveWorkers reports the size of the running worker pool, busy or idle; it
// may be nil when no pipeline is attached.
func DefaultProbes(cfg *config.Config, pinger StatusPinger, liveWorkers func() int) []Probe {
	probes := []Probe{
		NewStorageProbe(ComponentRecordingsMount, cfg.Mounts.Recordings, cfg.Mounts.MinFreeGiB),
	}
	if cfg.Mounts.Archive != "" {
		probes = append(probes, NewStorageProbe(ComponentArchiveMount, cfg.Mounts.Archive, cfg.Mounts.MinFreeGiB))
	}
	if pinger != nil {
		probes = append(probes, NewAPIProbe(ComponentVODAPI, pinger, time.Duration(cfg.VOD.LatencyThresholdMS)*time.Millisecond))
	}
	probes = append(probes, NewResourceProbe(
		cfg.Health.MaxLoad1,
		cfg.Health.MinMemoryMiB,
		cfg.Paths.Workdir,
		cfg.Pipeline.Workers,
		liveWorkers,
	))
	return probes
}

// Run executes check rounds until ctx is done: one immediately, then on a
// jittered interval so co-located daemons don't probe in lockstep.
func (m *Manager) Run(ctx context.Context) error {
	m.RunChecks(ctx)

	ticker := jitterbug.New(m.interval, &jitterbug.Norm{Stdev: m.jitter})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks runs every probe once and returns the round's summary. Each
// record is cached, persisted with a freshness-bounded TTL, and exported to
// metrics. A probe that fails internally reports unhealthy; nothing is
// dropped.
func (m *Manager) RunChecks(ctx context.Context) Summary {
	summary := Summary{Aggregate: StatusHealthy}

	for _, probe := range m.probes {
		record := m.runProbe(ctx, probe)
		summary.Records = append(summary.Records, record)
		summary.Aggregate = Worst(summary.Aggregate, record.Status)

		metrics.SetComponentHealth(record.ComponentID, record.Status.Level())
		metrics.ObserveHealthLatency(record.ComponentID, float64(record.LatencyMS)/1000)

		switch record.Status {
		case StatusUnhealthy:
			m.logger.Warn("component unhealthy",
				logging.String("health_component", record.ComponentID),
				logging.String("detail", record.Message),
				logging.String(logging.FieldEventType, "health_check_unhealthy"),
			)
		case StatusDegraded:
			m.logger.Info("component degraded",
				logging.String("health_component", record.ComponentID),
				logging.String("detail", record.Message),
				logging.String(logging.FieldEventType, "health_check_degraded"),
			)
		}
	}

	metrics.SetAggregateHealth(summary.Aggregate.Level())
	m.logger.Info("health checks complete",
		logging.String("aggregate", string(summary.Aggregate)),
		logging.Int("components", len(summary.Records)),
	)
	return summary
}

func (m *Manager) runProbe(ctx context.Context, probe Probe) Record {
	probeCtx := ctx
	if m.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()
	}

	start := time.Now()
	status, message := probe.Check(probeCtx)
	record := Record{
		ComponentID: probe.Component(),
		Status:      status,
		Message:     message,
		CheckedAt:   time.Now().UTC(),
		LatencyMS:   time.Since(start).Milliseconds(),
	}

	m.mu.Lock()
	m.latest[record.ComponentID] = record
	m.mu.Unlock()

	m.persist(ctx, record)
	return record
}

func (m *Manager) persist(ctx context.Context, record Record) {
	if m.store == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, recordKeyPrefix+record.ComponentID, payload, m.freshness); err != nil {
		m.logger.Warn("persist health record failed",
			logging.Error(err),
			logging.String("health_component", record.ComponentID),
		)
	}
}

// Component returns the latest record for a component id, consulting the
// cache first and the store second (covers records from before a restart).
func (m *Manager) Component(ctx context.Context, componentID string) (Record, bool) {
	m.mu.RLock()
	record, ok := m.latest[componentID]
	m.mu.RUnlock()
	if ok {
		return record, true
	}

	if m.store == nil {
		return Record{}, false
	}
	payload, found, err := m.store.Get(ctx, recordKeyPrefix+componentID)
	if err != nil || !found {
		return Record{}, false
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, false
	}
	return record, true
}

// EffectiveStatus is the status admission control consumes: missing or
// stale records are unhealthy, never trusted.
func (m *Manager) EffectiveStatus(ctx context.Context, componentID string) Status {
	record, ok := m.Component(ctx, componentID)
	if !ok {
		return StatusUnhealthy
	}
	if m.freshness > 0 && time.Since(record.CheckedAt) > m.freshness {
		return StatusUnhealthy
	}
	return record.Status
}

// StorageComponentForPath maps a file path onto the mount component that
// holds it, by longest configured prefix. Paths outside every configured
// mount fall back to the recordings mount.
func (m *Manager) StorageComponentForPath(path string) string {
	best := ""
	bestLen := -1
	for mountPath, component := range m.mounts {
		if mountPath == "" {
			continue
		}
		if strings.HasPrefix(path, strings.TrimSuffix(mountPath, "/")+"/") || path == mountPath {
			if len(mountPath) > bestLen {
				best = component
				bestLen = len(mountPath)
			}
		}
	}
	if best == "" {
		return ComponentRecordingsMount
	}
	return best
}

// Snapshot returns the latest records sorted by component id.
func (m *Manager) Snapshot() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.latest))
	for _, record := range m.latest {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ComponentID < records[j].ComponentID
	})
	return records
}

package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor recorded on merges and resolutions performed by the engine itself.
const actorCorrelation = "correlation"

// lockName is the persisted run lock row.
const lockName = "correlation"

// Engine runs the three correlation phases over the inventory.
type Engine struct {
	store   plugin.Store
	merger  Merger
	cfg     Config
	deriver *tags.Deriver
	logger  *zap.Logger
	metrics *Metrics
	events  publisher
	now     func() time.Time

	mu sync.Mutex // held for the duration of a run
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMerger replaces the transactional merger.
func WithMerger(m Merger) EngineOption {
	return func(e *Engine) { e.merger = m }
}

// WithEventBus publishes run, merge and conflict events to bus.
func WithEventBus(bus plugin.EventBus) EngineOption {
	return func(e *Engine) { e.events.bus = bus }
}

// WithMetrics records run statistics in m.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over an already migrated store.
func NewEngine(store plugin.Store, cfg Config, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		cfg:     cfg,
		deriver: tags.New(cfg.IPv4Prefix, cfg.IPv6Prefix),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.merger == nil {
		e.merger = NewMerger(store, e.now)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.events.now = e.now
	return e
}

// run carries the mutable state of one correlation run.
type run struct {
	res *models.CorrelationResult

	// pairs holds the conflict pair keys already seen this run.
	pairs map[string]struct{}
}

func (r *run) fail(phase string, err error) {
	r.res.Errors = append(r.res.Errors, fmt.Sprintf("%s: %v", phase, err))
}

type phase struct {
	name string
	fn   func(ctx context.Context, r *run, stats *models.PhaseStats)
}

// Run executes one full correlation pass. Only one run may be active at a
// time, within this process or across processes sharing the database; a
// second caller gets ErrAlreadyRunning. Per-group failures are collected in
// the result and never abort the run.
func (e *Engine) Run(ctx context.Context) (*models.CorrelationResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.mu.Unlock()

	res := &models.CorrelationResult{
		RunID:     uuid.New().String(),
		Status:    models.RunRunning,
		StartedAt: e.now(),
		Phases:    []models.PhaseStats{},
		Errors:    []string{},
	}

	runs := services.NewSQLiteRunRepository(e.store.DB())
	if err := runs.AcquireLock(ctx, lockName, res.RunID, res.StartedAt, e.cfg.LockStaleAfter); err != nil {
		if errors.Is(err, services.ErrLocked) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := runs.ReleaseLock(context.WithoutCancel(ctx), lockName, res.RunID); err != nil {
			e.logger.Error("failed to release run lock", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}()

	if err := runs.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	e.logger.Info("correlation run started", zap.String("run_id", res.RunID))

	r := &run{res: res, pairs: make(map[string]struct{})}
	phases := []phase{
		{name: "ip_consolidation", fn: e.consolidateByIP},
		{name: "mac_identity", fn: e.linkByMAC},
		{name: "tag_merge", fn: e.mergeByTag},
		{name: "conflict_revalidation", fn: e.revalidateConflicts},
	}
	for _, ph := range phases {
		stats := models.PhaseStats{Name: ph.name}
		start := time.Now()
		ph.fn(ctx, r, &stats)
		stats.Duration = time.Since(start).Round(time.Microsecond).String()
		res.Phases = append(res.Phases, stats)
		if stats.Errors > 0 {
			e.metrics.MergeErrors.WithLabelValues(ph.name).Add(float64(stats.Errors))
		}
		e.logger.Debug("phase finished",
			zap.String("run_id", res.RunID),
			zap.String("phase", ph.name),
			zap.Int("groups", stats.Groups),
			zap.Int("merged", stats.Merged),
			zap.Int("errors", stats.Errors),
		)
	}

	res.FinishedAt = e.now()
	res.Status = models.RunCompleted
	if len(res.Errors) > 0 {
		res.Status = models.RunDegraded
	}
	if err := runs.Finish(context.WithoutCancel(ctx), res); err != nil {
		e.logger.Error("failed to persist run summary", zap.String("run_id", res.RunID), zap.Error(err))
	}
	e.metrics.observeRun(res)
	e.events.publish(ctx, TopicRunCompleted, *res)

	e.logger.Info("correlation run finished",
		zap.String("run_id", res.RunID),
		zap.String("status", string(res.Status)),
		zap.Int("hosts_merged", res.HostsMerged),
		zap.Int("conflicts_detected", res.ConflictsDetected),
		zap.Int("device_identities", res.DeviceIdentitiesCreated),
		zap.Int("conflicts_auto_resolved", res.ConflictsAutoResolved),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// merge runs one group merge and records its outcome.
func (e *Engine) merge(ctx context.Context, r *run, stats *models.PhaseStats, survivor models.Host, donors []models.Host, method models.MergeMethod, key string) (*models.Host, bool) {
	guids := make([]string, len(donors))
	for i := range donors {
		guids[i] = donors[i].GUID
	}
	updated, err := e.merger.Merge(ctx, survivor.GUID, guids, MergeOptions{
		Method:   method,
		MatchKey: key,
		Actor:    actorCorrelation,
	})
	if err != nil {
		stats.Errors++
		r.fail(stats.Name, fmt.Errorf("merge %s into %s: %w", key, survivor.GUID, err))
		e.logger.Warn("group merge failed",
			zap.String("phase", stats.Name),
			zap.String("match_key", key),
			zap.String("survivor", survivor.GUID),
			zap.Error(err),
		)
		return nil, false
	}

	stats.Merged += len(guids)
	r.res.HostsMerged += len(guids)
	e.metrics.HostsMerged.WithLabelValues(string(method)).Add(float64(len(guids)))
	e.events.publish(ctx, TopicHostMerged, HostMergedEvent{
		SurvivorGUID: survivor.GUID,
		DonorGUIDs:   guids,
		Method:       method,
		MatchKey:     key,
	})
	return updated, true
}

// Package correlation merges duplicate host records produced by independent
// scans, links multi-homed devices under a shared identity, and records a
// conflict instead of merging whenever MAC evidence disagrees.
package correlation

import (
	"context"
	"errors"

	"github.com/HerbHall/netcorrelate/internal/config"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PluginName is the module name used for routes, config, and event sources.
const PluginName = "correlation"

// Compile-time interface guard.
var _ plugin.Plugin = (*Module)(nil)

// Module exposes the correlation service as a plugin.
type Module struct {
	store   plugin.Store
	bus     plugin.EventBus
	metrics *Metrics

	cfg     Config
	logger  *zap.Logger
	service *Service
	limiter *rate.Limiter
}

// New creates the correlation module. Metrics are registered with reg when
// it is non-nil.
func New(store plugin.Store, bus plugin.EventBus, reg prometheus.Registerer) *Module {
	return &Module{
		store:   store,
		bus:     bus,
		metrics: NewMetrics(reg),
		cfg:     DefaultConfig(),
		logger:  zap.NewNop(),
	}
}

func (m *Module) Name() string    { return PluginName }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(v *viper.Viper, logger *zap.Logger) error {
	if m.store == nil {
		return errors.New("correlation: store is required")
	}
	m.cfg = ConfigFrom(config.New(v))
	m.logger = logger

	engine := NewEngine(m.store, m.cfg, logger,
		WithEventBus(m.bus),
		WithMetrics(m.metrics),
	)
	m.service = NewService(engine)
	m.limiter = rate.NewLimiter(rate.Limit(m.cfg.TriggerRate), m.cfg.TriggerBurst)

	m.logger.Info("correlation module initialized",
		zap.Duration("lock_stale_after", m.cfg.LockStaleAfter),
		zap.Strings("ambiguous_hostnames", m.cfg.AmbiguousHostnames),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("correlation module started")
	return nil
}

func (m *Module) Stop() error {
	m.logger.Info("correlation module stopped")
	return nil
}

// Service returns the module's service. It is nil before Init.
func (m *Module) Service() *Service { return m.service }

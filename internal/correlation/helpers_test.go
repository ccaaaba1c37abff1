package correlation_test

import (
	"context"
	"testing"

	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/store"
	"github.com/HerbHall/netcorrelate/internal/testutil"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store   *store.SQLiteStore
	db      services.DBTX
	engine  *correlation.Engine
	service *correlation.Service
	metrics *correlation.Metrics
	bus     *testutil.MockBus
	clock   *testutil.Clock
}

func newFixture(t *testing.T, opts ...correlation.EngineOption) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, correlation.DefaultConfig(), opts...)
}

func newFixtureWithConfig(t *testing.T, cfg correlation.Config, opts ...correlation.EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:   testutil.NewInventoryStore(t),
		metrics: correlation.NewMetrics(prometheus.NewRegistry()),
		bus:     testutil.NewMockBus(),
		clock:   testutil.NewClock(),
	}
	f.db = f.store.DB()
	base := []correlation.EngineOption{
		correlation.WithEventBus(f.bus),
		correlation.WithMetrics(f.metrics),
		correlation.WithClock(f.clock.Now),
	}
	f.engine = correlation.NewEngine(f.store, cfg, zap.NewNop(), append(base, opts...)...)
	f.service = correlation.NewService(f.engine)
	return f
}

func (f *fixture) seed(t *testing.T, opts ...func(*models.Host)) models.Host {
	t.Helper()
	return testutil.SeedHost(t, f.db, opts...)
}

func (f *fixture) run(t *testing.T) *models.CorrelationResult {
	t.Helper()
	res, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) hosts(t *testing.T) []models.Host {
	t.Helper()
	hosts, err := services.NewSQLiteHostRepository(f.db).ListAll(context.Background())
	require.NoError(t, err)
	return hosts
}

func (f *fixture) host(t *testing.T, guid string) *models.Host {
	t.Helper()
	h, err := services.NewSQLiteHostRepository(f.db).Get(context.Background(), guid)
	require.NoError(t, err)
	return h
}

func (f *fixture) conflicts(t *testing.T, filter services.ConflictFilter) []models.Conflict {
	t.Helper()
	res, err := f.service.ListConflicts(context.Background(), filter, services.ListOptions{Limit: 1000})
	require.NoError(t, err)
	return res.Items
}

func (f *fixture) identities(t *testing.T) []models.DeviceIdentity {
	t.Helper()
	res, err := f.service.ListDeviceIdentities(context.Background(), services.ListOptions{Limit: 1000})
	require.NoError(t, err)
	return res.Items
}

func (f *fixture) mergeEvents(t *testing.T, filter services.MergeEventFilter) []models.MergeEvent {
	t.Helper()
	res, err := f.service.ListMergeEvents(context.Background(), filter, services.ListOptions{Limit: 1000})
	require.NoError(t, err)
	return res.Items
}

func guidsOf(hosts []models.Host) []string {
	out := make([]string, len(hosts))
	for i := range hosts {
		out[i] = hosts[i].GUID
	}
	return out
}

package correlation_test

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/testutil"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerger_FieldRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := services.NewSQLiteObservationRepository(f.db)

	s := f.seed(t,
		testutil.WithIP("10.0.0.1"),
		testutil.WithOS("", "linux"),
		testutil.WithFirstSeen(testutil.BaseTime.Add(time.Hour)),
	)
	d := f.seed(t,
		testutil.WithIP("10.0.0.9"),
		testutil.WithHostname("db01"),
		testutil.WithOS("Ubuntu 22.04", "windows"),
		testutil.WithMAC(macA),
		testutil.WithVendor("Dell"),
		testutil.WithSource(models.SourceARP),
		testutil.WithLastSeen(testutil.BaseTime.Add(2*time.Hour)),
		func(h *models.Host) {
			h.OSConfidence = 90
			h.IsVerified = true
		},
	)
	testutil.SeedPort(t, f.db, s.ID, 22, "tcp")
	testutil.SeedPort(t, f.db, d.ID, 22, "tcp", func(p *models.Port) {
		p.ServiceName = "ssh"
		p.Confidence = 80
		p.LastSeen = testutil.BaseTime.Add(3 * time.Hour)
	})
	testutil.SeedPort(t, f.db, d.ID, 80, "tcp")
	require.NoError(t, obs.InsertConnection(ctx, &models.Connection{
		HostID: d.ID, LocalIP: "10.0.0.9", LocalPort: 5432, RemoteIP: "10.0.0.50", RemotePort: 40000, Protocol: "tcp",
	}))
	require.NoError(t, obs.InsertArpEntry(ctx, &models.ArpEntry{HostID: d.ID, IPAddress: "10.0.0.9", MACAddress: macA}))
	require.NoError(t, obs.InsertRouteHop(ctx, &models.RouteHop{HostID: d.ID, TraceID: "t1", HopNumber: 1, IPAddress: "10.0.0.9"}))

	m := correlation.NewMerger(f.store, f.clock.Now)
	got, err := m.Merge(ctx, s.GUID, []string{d.GUID, d.GUID}, correlation.MergeOptions{
		Method: models.MergeManual,
		Actor:  "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, s.GUID, got.GUID)
	assert.Equal(t, "10.0.0.1", got.IPAddress, "survivor keeps its own address")
	assert.Equal(t, "linux", got.OSFamily, "survivor's non-empty value wins")
	assert.Equal(t, "Ubuntu 22.04", got.OSName)
	assert.Equal(t, "db01", got.Hostname)
	assert.Equal(t, macA, got.MACAddress)
	assert.Equal(t, "Dell", got.Vendor)
	assert.Equal(t, 90, got.OSConfidence)
	assert.True(t, got.IsVerified)
	assert.True(t, got.FirstSeen.Equal(testutil.BaseTime), "FirstSeen = %v", got.FirstSeen)
	assert.True(t, got.LastSeen.Equal(testutil.BaseTime.Add(2*time.Hour)), "LastSeen = %v", got.LastSeen)
	assert.Equal(t, []string{"arp", "nmap"}, got.SourceTypes)
	assert.Subset(t, got.Tags, d.Tags)
	assert.Subset(t, got.Tags, s.Tags)

	stored := f.host(t, s.GUID)
	assert.Equal(t, got.Tags, stored.Tags)

	_, err = services.NewSQLiteHostRepository(f.db).Get(ctx, d.GUID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	ports, err := obs.ListPorts(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, 22, ports[0].PortNumber)
	assert.Equal(t, "ssh", ports[0].ServiceName)
	assert.Equal(t, 80, ports[0].Confidence)
	assert.True(t, ports[0].LastSeen.Equal(testutil.BaseTime.Add(3*time.Hour)))
	assert.Equal(t, 80, ports[1].PortNumber)

	conns, err := obs.ListConnections(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
	arps, err := obs.ListArpEntries(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, arps, 1)
	hops, err := obs.ListRouteHops(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, hops, 1)

	events := f.mergeEvents(t, services.MergeEventFilter{})
	require.Len(t, events, 1, "duplicate donor GUIDs are merged once")
	assert.Equal(t, "tester", events[0].Actor)
	assert.True(t, events[0].CreatedAt.Equal(f.clock.Now()))
}

func TestMerger_Validation(t *testing.T) {
	f := newFixture(t)
	m := correlation.NewMerger(f.store, nil)

	tests := []struct {
		name     string
		survivor string
		donors   []string
	}{
		{"empty survivor", "", []string{"b"}},
		{"no donors", "a", nil},
		{"survivor as donor", "a", []string{"b", "a"}},
		{"empty donor", "a", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Merge(context.Background(), tt.survivor, tt.donors, correlation.MergeOptions{})
			assert.ErrorIs(t, err, correlation.ErrInvalidMerge)
		})
	}
}

func TestMerger_UnknownDonorRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.seed(t, testutil.WithIP("10.0.0.1"))
	d := f.seed(t, testutil.WithIP("10.0.0.2"), testutil.WithHostname("db01"))
	testutil.SeedPort(t, f.db, d.ID, 80, "tcp")

	m := correlation.NewMerger(f.store, f.clock.Now)
	_, err := m.Merge(ctx, s.GUID, []string{d.GUID, "missing"}, correlation.MergeOptions{Method: models.MergeTag})
	require.ErrorIs(t, err, services.ErrNotFound)

	assert.Len(t, f.hosts(t), 2)
	assert.Empty(t, f.host(t, s.GUID).Hostname)
	ports, err := services.NewSQLiteObservationRepository(f.db).ListPorts(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, ports, 1)
	assert.Empty(t, f.mergeEvents(t, services.MergeEventFilter{}))
}

func TestMerger_MovesIdentityMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.seed(t, testutil.WithIP("10.0.0.1"))
	d := f.seed(t, testutil.WithIP("10.0.0.2"), testutil.WithMAC(macA))
	o := f.seed(t, testutil.WithIP("10.0.0.3"), testutil.WithMAC(macA))

	idents := services.NewSQLiteIdentityRepository(f.db)
	ident := &models.DeviceIdentity{MACAddress: macA, MemberGUIDs: []string{d.GUID, o.GUID}}
	require.NoError(t, idents.Create(ctx, ident))

	_, err := correlation.NewMerger(f.store, f.clock.Now).Merge(ctx, s.GUID, []string{d.GUID},
		correlation.MergeOptions{Method: models.MergeManual, Actor: "tester"})
	require.NoError(t, err)

	got, err := idents.Get(ctx, ident.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s.GUID, o.GUID}, got.MemberGUIDs)
}

package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/netcorrelate/internal/ingest"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/testutil"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newImporter(t *testing.T) (*ingest.Importer, services.DBTX, *testutil.Clock) {
	t.Helper()
	db := testutil.NewInventoryStore(t)
	clock := testutil.NewClock()
	return ingest.NewImporter(db, zap.NewNop(), ingest.WithClock(clock.Now)), db.DB(), clock
}

func TestImporter_CreatesHostWithTagsAndPorts(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	sum, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceNmap,
		Hosts: []models.ParsedHost{{
			IPAddress:  "10.0.0.1",
			MACAddress: "AA-BB-CC-DD-EE-01",
			Hostname:   "Web01",
			FQDN:       "web01.lab.local.",
			Ports: []models.ParsedPort{
				{PortNumber: 443, Protocol: "TCP", State: "open", ServiceName: "https"},
				{PortNumber: 0, Protocol: "tcp"},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.HostsCreated)
	assert.Equal(t, 1, sum.Ports)
	assert.Equal(t, 1, sum.Skipped)

	h, err := services.NewSQLiteHostRepository(db).GetByIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, h.GUID)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", h.MACAddress)
	assert.Equal(t, "web01", h.Hostname)
	assert.Equal(t, "web01.lab.local", h.FQDN)
	assert.Equal(t, []string{"nmap"}, h.SourceTypes)
	assert.True(t, h.HasTag("hostname:web01"))
	assert.True(t, h.HasTag("fqdn:web01.lab.local"))
	assert.True(t, h.HasTag("subnet:10.0.0.0/24"))
	assert.True(t, h.FirstSeen.Equal(testutil.BaseTime), "FirstSeen = %v", h.FirstSeen)

	ports, err := services.NewSQLiteObservationRepository(db).ListPorts(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "tcp", ports[0].Protocol)
	assert.Contains(t, ports[0].Tags, "port_proto:443/tcp")
}

func TestImporter_RefreshesExistingHost(t *testing.T) {
	imp, db, clock := newImporter(t)
	ctx := context.Background()

	_, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceNmap,
		Hosts:  []models.ParsedHost{{IPAddress: "10.0.0.1", Hostname: "web01"}},
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	sum, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceMasscan,
		Hosts:  []models.ParsedHost{{IPAddress: "10.0.0.1", Hostname: "other", Vendor: "Acme"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.HostsCreated)
	assert.Equal(t, 1, sum.HostsUpdated)

	res, err := services.NewSQLiteHostRepository(db).List(ctx, services.HostFilter{}, services.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	h := res.Items[0]
	assert.Equal(t, "web01", h.Hostname, "known hostname is kept")
	assert.Equal(t, "Acme", h.Vendor, "empty vendor is filled")
	assert.Equal(t, []string{"masscan", "nmap"}, h.SourceTypes)
	assert.True(t, h.FirstSeen.Equal(testutil.BaseTime), "FirstSeen = %v", h.FirstSeen)
	assert.True(t, h.LastSeen.Equal(testutil.BaseTime.Add(time.Hour)), "LastSeen = %v", h.LastSeen)
}

func TestImporter_AllowDuplicates(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	batch := ingest.Batch{
		Source:          models.SourceNmap,
		AllowDuplicates: true,
		Hosts:           []models.ParsedHost{{IPAddress: "10.0.0.7"}, {IPAddress: "10.0.0.7"}},
	}
	sum, err := imp.Import(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.HostsCreated)

	res, err := services.NewSQLiteHostRepository(db).List(ctx, services.HostFilter{IPAddress: "10.0.0.7"}, services.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestImporter_ArpLinksAndFillsMAC(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceNmap,
		Hosts:  []models.ParsedHost{{IPAddress: "10.0.0.3"}},
	})
	require.NoError(t, err)

	sum, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceARP,
		ArpEntries: []models.ParsedArpEntry{
			{IPAddress: "10.0.0.3", MACAddress: "AABB.CCDD.EE03", EntryType: "Dynamic"},
			{IPAddress: "10.0.0.4", MACAddress: "ff:ff:ff:ff:ff:ff"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ArpEntries)
	assert.Equal(t, 1, sum.Skipped)

	hosts := services.NewSQLiteHostRepository(db)
	h, err := hosts.GetByIP(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:03", h.MACAddress)
	assert.True(t, h.HasTag("mac:aa:bb:cc:dd:ee:03"))
	assert.Equal(t, []string{"arp", "nmap"}, h.SourceTypes)

	arps, err := services.NewSQLiteObservationRepository(db).ListArpEntries(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, arps, 1)
	assert.Equal(t, models.ArpEntryDynamic, arps[0].EntryType)
}

func TestImporter_ArpBeforeHostIsLinkedLater(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Import(ctx, ingest.Batch{
		Source:     models.SourceARP,
		ArpEntries: []models.ParsedArpEntry{{IPAddress: "10.0.0.8", MACAddress: "aa:bb:cc:dd:ee:08"}},
	})
	require.NoError(t, err)

	_, err = imp.Import(ctx, ingest.Batch{
		Source: models.SourceNmap,
		Hosts:  []models.ParsedHost{{IPAddress: "10.0.0.8"}},
	})
	require.NoError(t, err)

	h, err := services.NewSQLiteHostRepository(db).GetByIP(ctx, "10.0.0.8")
	require.NoError(t, err)
	arps, err := services.NewSQLiteObservationRepository(db).ListArpEntries(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, arps, 1)
}

func TestImporter_ConnectionsCreateOwner(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	sum, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceNetstat,
		Connections: []models.ParsedConnection{
			{LocalIP: "10.0.0.5", LocalPort: 22, RemoteIP: "10.0.0.9", RemotePort: 50122, State: "ESTABLISHED", Process: "sshd"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.HostsCreated)
	assert.Equal(t, 1, sum.Connections)

	h, err := services.NewSQLiteHostRepository(db).GetByIP(ctx, "10.0.0.5")
	require.NoError(t, err)
	conns, err := services.NewSQLiteObservationRepository(db).ListConnections(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "established", conns[0].State)
	assert.Contains(t, conns[0].Tags, "process:sshd")
}

func TestImporter_RouteHops(t *testing.T) {
	imp, db, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceNmap,
		Hosts:  []models.ParsedHost{{IPAddress: "10.0.0.1"}},
	})
	require.NoError(t, err)

	sum, err := imp.Import(ctx, ingest.Batch{
		Source: models.SourceTraceroute,
		RouteHops: []models.ParsedRouteHop{
			{TraceID: "t1", HopNumber: 1, IPAddress: "10.0.0.1", RTTMs: 0.4},
			{TraceID: "t1", HopNumber: 2},
			{TraceID: "", HopNumber: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.RouteHops)
	assert.Equal(t, 1, sum.Skipped)

	h, err := services.NewSQLiteHostRepository(db).GetByIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	hops, err := services.NewSQLiteObservationRepository(db).ListRouteHops(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, hops, 1)
	assert.Contains(t, hops[0].Tags, "hop:1")
}

func TestImporter_SkipsHostsWithoutAddress(t *testing.T) {
	imp, _, _ := newImporter(t)
	sum, err := imp.Import(context.Background(), ingest.Batch{
		Hosts: []models.ParsedHost{{Hostname: "ghost"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.HostsCreated)
	assert.Equal(t, 1, sum.Skipped)
}

func TestImporter_ImportSnapshot(t *testing.T) {
	imp, _, _ := newImporter(t)
	snap := &ingest.Snapshot{Batches: []ingest.Batch{
		{Source: models.SourceNmap, Hosts: []models.ParsedHost{{IPAddress: "10.0.0.1"}}},
		{Source: models.SourceNmap, Hosts: []models.ParsedHost{{IPAddress: "10.0.0.2"}}},
	}}
	sum, err := imp.ImportSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.HostsCreated)
}

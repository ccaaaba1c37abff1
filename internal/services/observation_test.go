package services_test

import (
	"context"
	"testing"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/testutil"
	"github.com/HerbHall/netcorrelate/pkg/models"
)

func TestObservationRepository_UpsertPortKeepsKnownFields(t *testing.T) {
	db := testutil.NewInventoryStore(t).DB()
	repo := services.NewSQLiteObservationRepository(db)
	ctx := context.Background()

	h := testutil.SeedHost(t, db)
	first := testutil.SeedPort(t, db, h.ID, 443, "tcp", func(p *models.Port) {
		p.ServiceName = "https"
		p.ServiceProduct = "nginx"
	})

	again := models.Port{HostID: h.ID, PortNumber: 443, Protocol: "tcp", ServiceVersion: "1.25"}
	if err := repo.UpsertPort(ctx, &again); err != nil {
		t.Fatalf("UpsertPort: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("upsert ID = %d, want existing %d", again.ID, first.ID)
	}

	ports, err := repo.ListPorts(ctx, h.ID)
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if len(ports) != 1 {
		t.Fatalf("len = %d, want 1", len(ports))
	}
	p := ports[0]
	if p.ServiceName != "https" || p.ServiceProduct != "nginx" || p.ServiceVersion != "1.25" {
		t.Errorf("port = %+v, want merged service fields", p)
	}
	if p.State != "open" {
		t.Errorf("State = %q, want open", p.State)
	}
}

func TestObservationRepository_MoveAndDeletePort(t *testing.T) {
	db := testutil.NewInventoryStore(t).DB()
	repo := services.NewSQLiteObservationRepository(db)
	ctx := context.Background()

	a := testutil.SeedHost(t, db, testutil.WithIP("10.0.0.1"))
	b := testutil.SeedHost(t, db, testutil.WithIP("10.0.0.2"))
	p1 := testutil.SeedPort(t, db, a.ID, 22, "tcp")
	p2 := testutil.SeedPort(t, db, a.ID, 53, "udp")

	if err := repo.MovePort(ctx, p1.ID, b.ID); err != nil {
		t.Fatalf("MovePort: %v", err)
	}
	if err := repo.DeletePort(ctx, p2.ID); err != nil {
		t.Fatalf("DeletePort: %v", err)
	}

	aPorts, _ := repo.ListPorts(ctx, a.ID)
	bPorts, _ := repo.ListPorts(ctx, b.ID)
	if len(aPorts) != 0 {
		t.Errorf("host a ports = %d, want 0", len(aPorts))
	}
	if len(bPorts) != 1 || bPorts[0].PortNumber != 22 {
		t.Errorf("host b ports = %+v, want [22/tcp]", bPorts)
	}

	if err := repo.MovePort(ctx, 9999, b.ID); err != services.ErrNotFound {
		t.Errorf("MovePort missing = %v, want ErrNotFound", err)
	}
}

func TestObservationRepository_ReassignChildren(t *testing.T) {
	db := testutil.NewInventoryStore(t).DB()
	repo := services.NewSQLiteObservationRepository(db)
	ctx := context.Background()

	a := testutil.SeedHost(t, db, testutil.WithIP("10.0.0.1"))
	b := testutil.SeedHost(t, db, testutil.WithIP("10.0.0.2"))

	if err := repo.InsertConnection(ctx, &models.Connection{HostID: b.ID, LocalIP: "10.0.0.2", LocalPort: 22}); err != nil {
		t.Fatalf("InsertConnection: %v", err)
	}
	if err := repo.InsertArpEntry(ctx, &models.ArpEntry{HostID: b.ID, IPAddress: "10.0.0.2", MACAddress: "aa:bb:cc:dd:ee:ff"}); err != nil {
		t.Fatalf("InsertArpEntry: %v", err)
	}
	if err := repo.InsertRouteHop(ctx, &models.RouteHop{HostID: b.ID, TraceID: "t1", HopNumber: 1, IPAddress: "10.0.0.2"}); err != nil {
		t.Fatalf("InsertRouteHop: %v", err)
	}

	moved, err := repo.ReassignChildren(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("ReassignChildren: %v", err)
	}
	if moved != 3 {
		t.Errorf("moved = %d, want 3", moved)
	}

	conns, _ := repo.ListConnections(ctx, a.ID)
	arps, _ := repo.ListArpEntries(ctx, a.ID)
	hops, _ := repo.ListRouteHops(ctx, a.ID)
	if len(conns) != 1 || len(arps) != 1 || len(hops) != 1 {
		t.Errorf("survivor children = %d/%d/%d, want 1/1/1", len(conns), len(arps), len(hops))
	}
}

func TestObservationRepository_LinkArpEntries(t *testing.T) {
	db := testutil.NewInventoryStore(t).DB()
	repo := services.NewSQLiteObservationRepository(db)
	ctx := context.Background()

	if err := repo.InsertArpEntry(ctx, &models.ArpEntry{IPAddress: "10.0.0.7", MACAddress: "aa:bb:cc:dd:ee:01"}); err != nil {
		t.Fatalf("InsertArpEntry: %v", err)
	}
	h := testutil.SeedHost(t, db, testutil.WithIP("10.0.0.7"))

	n, err := repo.LinkArpEntries(ctx, "10.0.0.7", h.ID)
	if err != nil {
		t.Fatalf("LinkArpEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("linked = %d, want 1", n)
	}
	arps, _ := repo.ListArpEntries(ctx, h.ID)
	if len(arps) != 1 {
		t.Errorf("arp entries = %d, want 1", len(arps))
	}
}

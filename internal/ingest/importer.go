package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
	"go.uber.org/zap"
)

// Summary counts what an import changed.
type Summary struct {
	HostsCreated int `json:"hosts_created"`
	HostsUpdated int `json:"hosts_updated"`
	Ports        int `json:"ports"`
	Connections  int `json:"connections"`
	ArpEntries   int `json:"arp_entries"`
	RouteHops    int `json:"route_hops"`
	Skipped      int `json:"skipped"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.HostsCreated += other.HostsCreated
	s.HostsUpdated += other.HostsUpdated
	s.Ports += other.Ports
	s.Connections += other.Connections
	s.ArpEntries += other.ArpEntries
	s.RouteHops += other.RouteHops
	s.Skipped += other.Skipped
}

// Importer writes batches into the inventory.
type Importer struct {
	store   plugin.Store
	deriver *tags.Deriver
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithClock overrides the time source used for records without SeenAt.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// WithDeriver overrides the tag deriver.
func WithDeriver(d *tags.Deriver) Option {
	return func(i *Importer) { i.deriver = d }
}

// NewImporter creates an Importer over store. The inventory migrations must
// already have been applied.
func NewImporter(store plugin.Store, logger *zap.Logger, opts ...Option) *Importer {
	i := &Importer{
		store:   store,
		deriver: tags.Default(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportSnapshot imports every batch in order, each in its own transaction.
func (i *Importer) ImportSnapshot(ctx context.Context, snap *Snapshot) (Summary, error) {
	var total Summary
	for n := range snap.Batches {
		s, err := i.Import(ctx, snap.Batches[n])
		if err != nil {
			return total, fmt.Errorf("batch %d: %w", n, err)
		}
		total.Add(s)
	}
	return total, nil
}

// Import writes one batch in a single transaction.
func (i *Importer) Import(ctx context.Context, b Batch) (Summary, error) {
	var sum Summary
	if b.Source == "" {
		b.Source = models.SourceManual
	}
	seenAt := b.SeenAt
	if seenAt.IsZero() {
		seenAt = i.now()
	}

	err := i.store.Tx(ctx, func(tx *sql.Tx) error {
		w := &batchWriter{
			hosts:   services.NewSQLiteHostRepository(tx),
			obs:     services.NewSQLiteObservationRepository(tx),
			deriver: i.deriver,
			source:  string(b.Source),
			dupes:   b.AllowDuplicates,
			sum:     &sum,
		}
		for n := range b.Hosts {
			if err := w.host(ctx, &b.Hosts[n], seenAt); err != nil {
				return err
			}
		}
		for n := range b.ArpEntries {
			if err := w.arp(ctx, &b.ArpEntries[n], seenAt); err != nil {
				return err
			}
		}
		for n := range b.Connections {
			if err := w.connection(ctx, &b.Connections[n], seenAt); err != nil {
				return err
			}
		}
		for n := range b.RouteHops {
			if err := w.hop(ctx, &b.RouteHops[n]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("import %s batch: %w", b.Source, err)
	}

	i.logger.Info("batch imported",
		zap.String("source", string(b.Source)),
		zap.Int("hosts_created", sum.HostsCreated),
		zap.Int("hosts_updated", sum.HostsUpdated),
		zap.Int("ports", sum.Ports),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// batchWriter holds the per-transaction repositories for one batch.
type batchWriter struct {
	hosts   *services.SQLiteHostRepository
	obs     *services.SQLiteObservationRepository
	deriver *tags.Deriver
	source  string
	dupes   bool
	sum     *Summary
}

func (w *batchWriter) host(ctx context.Context, p *models.ParsedHost, batchSeen time.Time) error {
	ip := tags.NormalizeIP(p.IPAddress)
	v6 := tags.NormalizeIP(p.IPv6Address)
	if ip == "" {
		ip = v6
	}
	if ip == "" {
		w.sum.Skipped++
		return nil
	}
	seenAt := p.SeenAt
	if seenAt.IsZero() {
		seenAt = batchSeen
	}
	seenAt = seenAt.UTC()

	incoming := models.Host{
		IPAddress:    ip,
		IPv6Address:  v6,
		MACAddress:   tags.NormalizeMAC(p.MACAddress),
		Hostname:     strings.ToLower(strings.TrimSpace(p.Hostname)),
		FQDN:         strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p.FQDN)), "."),
		OSName:       strings.TrimSpace(p.OSName),
		OSFamily:     strings.TrimSpace(p.OSFamily),
		OSConfidence: p.OSConfidence,
		Vendor:       strings.TrimSpace(p.Vendor),
		DeviceType:   strings.TrimSpace(p.DeviceType),
		IsActive:     true,
		FirstSeen:    seenAt,
		LastSeen:     seenAt,
		SourceTypes:  []string{w.source},
	}
	if incoming.IPv6Address == incoming.IPAddress {
		incoming.IPv6Address = ""
	}

	h, err := w.upsertHost(ctx, &incoming)
	if err != nil {
		return err
	}

	for n := range p.Ports {
		pp := &p.Ports[n]
		if pp.PortNumber <= 0 {
			w.sum.Skipped++
			continue
		}
		port := models.Port{
			HostID:         h.ID,
			PortNumber:     pp.PortNumber,
			Protocol:       strings.ToLower(strings.TrimSpace(pp.Protocol)),
			State:          strings.ToLower(strings.TrimSpace(pp.State)),
			ServiceName:    strings.TrimSpace(pp.ServiceName),
			ServiceVersion: strings.TrimSpace(pp.ServiceVersion),
			ServiceProduct: strings.TrimSpace(pp.ServiceProduct),
			Confidence:     pp.Confidence,
			LastSeen:       seenAt,
		}
		if port.Protocol == "" {
			port.Protocol = "tcp"
		}
		port.Tags = w.deriver.ForPort(&port)
		if err := w.obs.UpsertPort(ctx, &port); err != nil {
			return err
		}
		w.sum.Ports++
	}
	return nil
}

// upsertHost refreshes the oldest host at the incoming IP, or creates one.
func (w *batchWriter) upsertHost(ctx context.Context, in *models.Host) (*models.Host, error) {
	if !w.dupes {
		existing, err := w.hosts.GetByIP(ctx, in.IPAddress)
		switch {
		case err == nil:
			refresh(existing, in)
			existing.Tags = tags.Union(existing.Tags, w.deriver.ForHost(existing))
			if err := w.hosts.Update(ctx, existing); err != nil {
				return nil, err
			}
			w.sum.HostsUpdated++
			return existing, nil
		case !errors.Is(err, services.ErrNotFound):
			return nil, err
		}
	}

	in.Tags = w.deriver.ForHost(in)
	if err := w.hosts.Create(ctx, in); err != nil {
		return nil, err
	}
	if _, err := w.obs.LinkArpEntries(ctx, in.IPAddress, in.ID); err != nil {
		return nil, err
	}
	w.sum.HostsCreated++
	return in, nil
}

// refresh folds a new sighting into an existing host. Known values are kept;
// empty fields are filled from the sighting.
func refresh(h, in *models.Host) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&h.IPv6Address, in.IPv6Address)
	fill(&h.MACAddress, in.MACAddress)
	fill(&h.Hostname, in.Hostname)
	fill(&h.FQDN, in.FQDN)
	fill(&h.OSName, in.OSName)
	fill(&h.OSFamily, in.OSFamily)
	fill(&h.Vendor, in.Vendor)
	fill(&h.DeviceType, in.DeviceType)
	if in.OSConfidence > h.OSConfidence {
		h.OSConfidence = in.OSConfidence
	}
	if in.LastSeen.After(h.LastSeen) {
		h.LastSeen = in.LastSeen
	}
	if in.FirstSeen.Before(h.FirstSeen) {
		h.FirstSeen = in.FirstSeen
	}
	h.IsActive = true
	h.SourceTypes = tags.Union(h.SourceTypes, in.SourceTypes)
}

func (w *batchWriter) arp(ctx context.Context, p *models.ParsedArpEntry, seenAt time.Time) error {
	ip := tags.NormalizeIP(p.IPAddress)
	mac := tags.NormalizeMAC(p.MACAddress)
	if ip == "" || mac == "" {
		w.sum.Skipped++
		return nil
	}
	entry := models.ArpEntry{
		IPAddress:  ip,
		MACAddress: mac,
		Interface:  strings.TrimSpace(p.Interface),
		EntryType:  models.ArpEntryType(strings.ToLower(strings.TrimSpace(p.EntryType))),
		Vendor:     strings.TrimSpace(p.Vendor),
	}
	entry.Tags = w.deriver.ForArpEntry(&entry)

	h, err := w.hosts.GetByIP(ctx, ip)
	switch {
	case err == nil:
		entry.HostID = h.ID
		// An ARP sighting supplies the MAC for a host that has none.
		if h.MACAddress == "" {
			h.MACAddress = mac
			refresh(h, &models.Host{
				FirstSeen:   h.FirstSeen,
				LastSeen:    seenAt.UTC(),
				SourceTypes: []string{w.source},
			})
			h.Tags = tags.Union(h.Tags, w.deriver.ForHost(h))
			if err := w.hosts.Update(ctx, h); err != nil {
				return err
			}
		}
	case !errors.Is(err, services.ErrNotFound):
		return err
	}

	if err := w.obs.InsertArpEntry(ctx, &entry); err != nil {
		return err
	}
	w.sum.ArpEntries++
	return nil
}

func (w *batchWriter) connection(ctx context.Context, p *models.ParsedConnection, seenAt time.Time) error {
	local := tags.NormalizeIP(p.LocalIP)
	if local == "" {
		w.sum.Skipped++
		return nil
	}
	owner := models.Host{
		IPAddress:   local,
		IsActive:    true,
		FirstSeen:   seenAt.UTC(),
		LastSeen:    seenAt.UTC(),
		SourceTypes: []string{w.source},
	}
	h, err := w.upsertHost(ctx, &owner)
	if err != nil {
		return err
	}

	conn := models.Connection{
		HostID:     h.ID,
		LocalIP:    local,
		LocalPort:  p.LocalPort,
		RemoteIP:   tags.NormalizeIP(p.RemoteIP),
		RemotePort: p.RemotePort,
		Protocol:   strings.ToLower(strings.TrimSpace(p.Protocol)),
		State:      strings.ToLower(strings.TrimSpace(p.State)),
		Process:    strings.TrimSpace(p.Process),
	}
	conn.Tags = w.deriver.ForConnection(&conn)
	if err := w.obs.InsertConnection(ctx, &conn); err != nil {
		return err
	}
	w.sum.Connections++
	return nil
}

func (w *batchWriter) hop(ctx context.Context, p *models.ParsedRouteHop) error {
	if p.TraceID == "" || p.HopNumber <= 0 {
		w.sum.Skipped++
		return nil
	}
	hop := models.RouteHop{
		TraceID:   p.TraceID,
		HopNumber: p.HopNumber,
		IPAddress: tags.NormalizeIP(p.IPAddress),
		Hostname:  strings.ToLower(strings.TrimSpace(p.Hostname)),
		RTTMs:     p.RTTMs,
	}
	hop.Tags = w.deriver.ForRouteHop(&hop)
	if hop.IPAddress != "" {
		h, err := w.hosts.GetByIP(ctx, hop.IPAddress)
		switch {
		case err == nil:
			hop.HostID = h.ID
		case !errors.Is(err, services.ErrNotFound):
			return err
		}
	}
	if err := w.obs.InsertRouteHop(ctx, &hop); err != nil {
		return err
	}
	w.sum.RouteHops++
	return nil
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"github.com/HerbHall/netcorrelate/pkg/models"
)

// BaseTime is the fixed first_seen used by host fixtures.
var BaseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewHost returns a Host with sensible defaults, suitable for test fixtures.
// The GUID is left empty so the repository assigns one on insert.
func NewHost(opts ...func(*models.Host)) models.Host {
	h := models.Host{
		IPAddress:   "192.168.1.100",
		IsActive:    true,
		FirstSeen:   BaseTime,
		LastSeen:    BaseTime,
		SourceTypes: []string{string(models.SourceNmap)},
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// WithIP sets the host's IPv4 address.
func WithIP(ip string) func(*models.Host) {
	return func(h *models.Host) { h.IPAddress = ip }
}

// WithIPv6 sets the host's IPv6 address.
func WithIPv6(ip string) func(*models.Host) {
	return func(h *models.Host) { h.IPv6Address = ip }
}

// WithMAC sets the host's MAC address.
func WithMAC(mac string) func(*models.Host) {
	return func(h *models.Host) { h.MACAddress = mac }
}

// WithHostname sets the host's hostname.
func WithHostname(name string) func(*models.Host) {
	return func(h *models.Host) { h.Hostname = name }
}

// WithFQDN sets the host's fully-qualified name.
func WithFQDN(fqdn string) func(*models.Host) {
	return func(h *models.Host) { h.FQDN = fqdn }
}

// WithOS sets the host's OS name and family.
func WithOS(name, family string) func(*models.Host) {
	return func(h *models.Host) { h.OSName, h.OSFamily = name, family }
}

// WithVendor sets the host's vendor.
func WithVendor(v string) func(*models.Host) {
	return func(h *models.Host) { h.Vendor = v }
}

// WithFirstSeen sets first_seen and, if it is later, last_seen.
func WithFirstSeen(t time.Time) func(*models.Host) {
	return func(h *models.Host) {
		h.FirstSeen = t
		if h.LastSeen.Before(t) {
			h.LastSeen = t
		}
	}
}

// WithLastSeen sets the host's last_seen timestamp.
func WithLastSeen(t time.Time) func(*models.Host) {
	return func(h *models.Host) { h.LastSeen = t }
}

// WithSource replaces the host's source types.
func WithSource(src ...models.SourceType) func(*models.Host) {
	return func(h *models.Host) {
		h.SourceTypes = h.SourceTypes[:0]
		for _, s := range src {
			h.SourceTypes = append(h.SourceTypes, string(s))
		}
	}
}

// WithTags appends raw tags to the host.
func WithTags(t ...string) func(*models.Host) {
	return func(h *models.Host) { h.Tags = append(h.Tags, t...) }
}

// SeedHost builds a host from opts, derives its tags, and inserts it.
func SeedHost(t *testing.T, db services.DBTX, opts ...func(*models.Host)) models.Host {
	t.Helper()
	h := NewHost(opts...)
	h.MACAddress = tags.NormalizeMAC(h.MACAddress)
	h.Tags = tags.Union(h.Tags, tags.Default().ForHost(&h))
	if err := services.NewSQLiteHostRepository(db).Create(context.Background(), &h); err != nil {
		t.Fatalf("testutil.SeedHost: %v", err)
	}
	return h
}

// SeedPort inserts a port owned by hostID.
func SeedPort(t *testing.T, db services.DBTX, hostID int64, number int, proto string, opts ...func(*models.Port)) models.Port {
	t.Helper()
	p := models.Port{
		HostID:     hostID,
		PortNumber: number,
		Protocol:   proto,
		State:      "open",
		LastSeen:   BaseTime,
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.Tags = tags.Default().ForPort(&p)
	if err := services.NewSQLiteObservationRepository(db).UpsertPort(context.Background(), &p); err != nil {
		t.Fatalf("testutil.SeedPort: %v", err)
	}
	return p
}

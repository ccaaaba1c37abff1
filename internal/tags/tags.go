// Package tags derives normalized identity tags ("prefix:value") from
// inventory records. Every function is pure: missing fields simply yield
// fewer tags and no tag ever carries an empty value.
package tags

import (
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/HerbHall/netcorrelate/pkg/models"
)

// Tag prefixes.
const (
	PrefixIP         = "ip"
	PrefixSubnet     = "subnet"
	PrefixMAC        = "mac"
	PrefixHostname   = "hostname"
	PrefixFQDN       = "fqdn"
	PrefixVendor     = "vendor"
	PrefixOSFamily   = "os_family"
	PrefixOS         = "os"
	PrefixPort       = "port"
	PrefixPortProto  = "port_proto"
	PrefixProtocol   = "protocol"
	PrefixState      = "state"
	PrefixService    = "service"
	PrefixProduct    = "product"
	PrefixLocalIP    = "local_ip"
	PrefixLocalPort  = "local_port"
	PrefixRemoteIP   = "remote_ip"
	PrefixRemotePort = "remote_port"
	PrefixProcess    = "process"
	PrefixInterface  = "interface"
	PrefixEntryType  = "entry_type"
	PrefixHop        = "hop"
)

// Deriver computes tags. The zero value is not usable; use New or Default.
type Deriver struct {
	ipv4Prefix int
	ipv6Prefix int
}

// New returns a Deriver that infers subnets with the given prefix lengths.
// Out-of-range prefixes fall back to /24 and /64.
func New(ipv4Prefix, ipv6Prefix int) *Deriver {
	if ipv4Prefix <= 0 || ipv4Prefix > 32 {
		ipv4Prefix = 24
	}
	if ipv6Prefix <= 0 || ipv6Prefix > 128 {
		ipv6Prefix = 64
	}
	return &Deriver{ipv4Prefix: ipv4Prefix, ipv6Prefix: ipv6Prefix}
}

// Default returns a Deriver using /24 for IPv4 and /64 for IPv6.
func Default() *Deriver {
	return New(24, 64)
}

// ForHost derives tags from a host's identity attributes.
func (d *Deriver) ForHost(h *models.Host) []string {
	s := newSet()
	s.add(PrefixIP, NormalizeIP(h.IPAddress))
	s.add(PrefixSubnet, d.Subnet(h.IPAddress))
	if h.IPv6Address != "" {
		s.add(PrefixIP, NormalizeIP(h.IPv6Address))
		s.add(PrefixSubnet, d.Subnet(h.IPv6Address))
	}
	s.add(PrefixMAC, NormalizeMAC(h.MACAddress))
	s.add(PrefixHostname, h.Hostname)
	s.add(PrefixFQDN, strings.TrimSuffix(h.FQDN, "."))
	s.add(PrefixVendor, h.Vendor)
	s.add(PrefixOSFamily, h.OSFamily)
	s.add(PrefixOS, h.OSName)
	return s.sorted()
}

// ForPort derives tags from a port observation.
func (d *Deriver) ForPort(p *models.Port) []string {
	s := newSet()
	proto := strings.ToLower(strings.TrimSpace(p.Protocol))
	if p.PortNumber > 0 {
		num := strconv.Itoa(p.PortNumber)
		s.add(PrefixPort, num)
		if proto != "" {
			s.add(PrefixPortProto, num+"/"+proto)
		}
	}
	s.add(PrefixProtocol, proto)
	s.add(PrefixState, p.State)
	s.add(PrefixService, p.ServiceName)
	s.add(PrefixProduct, p.ServiceProduct)
	return s.sorted()
}

// ForConnection derives tags from a connection listing entry.
func (d *Deriver) ForConnection(c *models.Connection) []string {
	s := newSet()
	s.add(PrefixLocalIP, NormalizeIP(c.LocalIP))
	s.add(PrefixRemoteIP, NormalizeIP(c.RemoteIP))
	if c.LocalPort > 0 {
		s.add(PrefixLocalPort, strconv.Itoa(c.LocalPort))
	}
	if c.RemotePort > 0 {
		s.add(PrefixRemotePort, strconv.Itoa(c.RemotePort))
	}
	s.add(PrefixProtocol, c.Protocol)
	s.add(PrefixState, c.State)
	s.add(PrefixProcess, c.Process)
	return s.sorted()
}

// ForArpEntry derives tags from an ARP table row.
func (d *Deriver) ForArpEntry(a *models.ArpEntry) []string {
	s := newSet()
	s.add(PrefixIP, NormalizeIP(a.IPAddress))
	s.add(PrefixSubnet, d.Subnet(a.IPAddress))
	s.add(PrefixMAC, NormalizeMAC(a.MACAddress))
	s.add(PrefixInterface, a.Interface)
	s.add(PrefixEntryType, string(a.EntryType))
	s.add(PrefixVendor, a.Vendor)
	return s.sorted()
}

// ForRouteHop derives tags from a traceroute hop.
func (d *Deriver) ForRouteHop(r *models.RouteHop) []string {
	s := newSet()
	s.add(PrefixIP, NormalizeIP(r.IPAddress))
	s.add(PrefixHostname, r.Hostname)
	if r.HopNumber > 0 {
		s.add(PrefixHop, strconv.Itoa(r.HopNumber))
	}
	return s.sorted()
}

// Subnet returns the inferred network in CIDR form for ip, or "" when ip
// does not parse.
func (d *Deriver) Subnet(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	bits := d.ipv6Prefix
	if addr.Is4() {
		bits = d.ipv4Prefix
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}

// Make builds a single normalized tag, or "" when value is empty.
func Make(prefix, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	return prefix + ":" + v
}

// Value returns the value of tag if it carries prefix.
func Value(tag, prefix string) (string, bool) {
	p := prefix + ":"
	if !strings.HasPrefix(tag, p) || len(tag) == len(p) {
		return "", false
	}
	return tag[len(p):], true
}

// Union merges tag sets, returning a sorted slice without duplicates or
// empty entries.
func Union(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, t := range set {
			if t != "" {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeIP returns the canonical text form of ip. Unparseable input is
// trimmed and lower-cased so that grouping stays exact-match.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return strings.ToLower(ip)
	}
	return addr.Unmap().String()
}

// NormalizeMAC returns mac in lower-case colon-separated form. It accepts
// colon, dash, dot (Cisco) and bare hex notations. Invalid, all-zero and
// broadcast addresses normalize to "" since they identify no single device.
func NormalizeMAC(mac string) string {
	raw := strings.ToLower(strings.TrimSpace(mac))
	raw = strings.NewReplacer(":", "", "-", "", ".", "").Replace(raw)
	if len(raw) != 12 {
		return ""
	}
	for _, c := range raw {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return ""
		}
	}
	if raw == "000000000000" || raw == "ffffffffffff" {
		return ""
	}

	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(raw[i : i+2])
	}
	return b.String()
}

type set map[string]struct{}

func newSet() set { return make(set) }

func (s set) add(prefix, value string) {
	if t := Make(prefix, value); t != "" {
		s[t] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

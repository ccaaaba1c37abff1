package models

import "time"

// SourceType names the import format that contributed to a record.
type SourceType string

const (
	SourceNmap       SourceType = "nmap"
	SourceMasscan    SourceType = "masscan"
	SourceARP        SourceType = "arp"
	SourceNetstat    SourceType = "netstat"
	SourceTraceroute SourceType = "traceroute"
	SourceCSV        SourceType = "csv"
	SourceManual     SourceType = "manual"
)

// Criticality is the operator-assigned business importance of a host.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Host is the canonical network entity tracked by the inventory.
//
// ID is the internal row id and may churn; GUID is assigned once at first
// creation and is the durable identity seen by callers.
type Host struct {
	ID           int64       `json:"-"`
	GUID         string      `json:"guid"`
	IPAddress    string      `json:"ip_address"`
	IPv6Address  string      `json:"ip_v6_address,omitempty"`
	MACAddress   string      `json:"mac_address,omitempty"`
	Hostname     string      `json:"hostname,omitempty"`
	FQDN         string      `json:"fqdn,omitempty"`
	OSName       string      `json:"os_name,omitempty"`
	OSFamily     string      `json:"os_family,omitempty"`
	OSConfidence int         `json:"os_confidence,omitempty"`
	Vendor       string      `json:"vendor,omitempty"`
	DeviceType   string      `json:"device_type,omitempty"`
	Criticality  Criticality `json:"criticality,omitempty"`
	IsActive     bool        `json:"is_active"`
	IsVerified   bool        `json:"is_verified"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	SourceTypes  []string    `json:"source_types"`
	Tags         []string    `json:"tags"`
}

// HasTag reports whether the host carries the given tag.
func (h *Host) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Port is a (host, port_number, protocol) observation owned by one host.
type Port struct {
	ID             int64     `json:"id"`
	HostID         int64     `json:"-"`
	PortNumber     int       `json:"port_number"`
	Protocol       string    `json:"protocol"`
	State          string    `json:"state,omitempty"`
	ServiceName    string    `json:"service_name,omitempty"`
	ServiceVersion string    `json:"service_version,omitempty"`
	ServiceProduct string    `json:"service_product,omitempty"`
	Confidence     int       `json:"confidence,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// Connection is an observed local/remote endpoint pair, owned by the host
// whose address matches the local IP.
type Connection struct {
	ID         int64    `json:"id"`
	HostID     int64    `json:"-"`
	LocalIP    string   `json:"local_ip"`
	LocalPort  int      `json:"local_port"`
	RemoteIP   string   `json:"remote_ip"`
	RemotePort int      `json:"remote_port"`
	Protocol   string   `json:"protocol,omitempty"`
	State      string   `json:"state,omitempty"`
	Process    string   `json:"process,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// ArpEntryType distinguishes static and dynamic ARP cache entries.
type ArpEntryType string

const (
	ArpEntryStatic  ArpEntryType = "static"
	ArpEntryDynamic ArpEntryType = "dynamic"
)

// ArpEntry is an (ip, mac) observation. It is linked to the host with the
// same IP when one exists; HostID is zero otherwise.
type ArpEntry struct {
	ID         int64        `json:"id"`
	HostID     int64        `json:"-"`
	IPAddress  string       `json:"ip_address"`
	MACAddress string       `json:"mac_address"`
	Interface  string       `json:"interface,omitempty"`
	EntryType  ArpEntryType `json:"entry_type,omitempty"`
	Vendor     string       `json:"vendor,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
}

// RouteHop is one hop of a traceroute, linked to a host by IP when known.
type RouteHop struct {
	ID        int64    `json:"id"`
	HostID    int64    `json:"-"`
	TraceID   string   `json:"trace_id"`
	HopNumber int      `json:"hop_number"`
	IPAddress string   `json:"ip_address,omitempty"`
	Hostname  string   `json:"hostname,omitempty"`
	RTTMs     float64  `json:"rtt_ms,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

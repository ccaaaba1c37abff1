package models

import "time"

// ParsedHost is the normalized host record emitted by a format parser.
type ParsedHost struct {
	IPAddress    string       `json:"ip_address" yaml:"ip_address"`
	IPv6Address  string       `json:"ip_v6_address,omitempty" yaml:"ip_v6_address,omitempty"`
	MACAddress   string       `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
	Hostname     string       `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	FQDN         string       `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`
	OSName       string       `json:"os_name,omitempty" yaml:"os_name,omitempty"`
	OSFamily     string       `json:"os_family,omitempty" yaml:"os_family,omitempty"`
	OSConfidence int          `json:"os_confidence,omitempty" yaml:"os_confidence,omitempty"`
	Vendor       string       `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	DeviceType   string       `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	SeenAt       time.Time    `json:"seen_at,omitempty" yaml:"seen_at,omitempty"`
	Ports        []ParsedPort `json:"ports,omitempty" yaml:"ports,omitempty"`
}

// ParsedPort is a normalized port observation for the enclosing host.
type ParsedPort struct {
	PortNumber     int    `json:"port_number" yaml:"port_number"`
	Protocol       string `json:"protocol" yaml:"protocol"`
	State          string `json:"state,omitempty" yaml:"state,omitempty"`
	ServiceName    string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	ServiceVersion string `json:"service_version,omitempty" yaml:"service_version,omitempty"`
	ServiceProduct string `json:"service_product,omitempty" yaml:"service_product,omitempty"`
	Confidence     int    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// ParsedConnection is a normalized connection listing entry.
type ParsedConnection struct {
	LocalIP    string `json:"local_ip" yaml:"local_ip"`
	LocalPort  int    `json:"local_port" yaml:"local_port"`
	RemoteIP   string `json:"remote_ip" yaml:"remote_ip"`
	RemotePort int    `json:"remote_port" yaml:"remote_port"`
	Protocol   string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	State      string `json:"state,omitempty" yaml:"state,omitempty"`
	Process    string `json:"process,omitempty" yaml:"process,omitempty"`
}

// ParsedArpEntry is a normalized ARP table row.
type ParsedArpEntry struct {
	IPAddress  string `json:"ip_address" yaml:"ip_address"`
	MACAddress string `json:"mac_address" yaml:"mac_address"`
	Interface  string `json:"interface,omitempty" yaml:"interface,omitempty"`
	EntryType  string `json:"entry_type,omitempty" yaml:"entry_type,omitempty"`
	Vendor     string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
}

// ParsedRouteHop is a normalized traceroute hop.
type ParsedRouteHop struct {
	TraceID   string  `json:"trace_id" yaml:"trace_id"`
	HopNumber int     `json:"hop_number" yaml:"hop_number"`
	IPAddress string  `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Hostname  string  `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	RTTMs     float64 `json:"rtt_ms,omitempty" yaml:"rtt_ms,omitempty"`
}

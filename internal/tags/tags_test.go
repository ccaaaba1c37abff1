package tags

import (
	"reflect"
	"testing"

	"github.com/HerbHall/netcorrelate/pkg/models"
)

func TestForHost(t *testing.T) {
	h := &models.Host{
		IPAddress:  "10.0.0.5",
		MACAddress: "AA-BB-CC-DD-EE-01",
		Hostname:   "WEB01",
		FQDN:       "web01.Corp.Local.",
		Vendor:     "Dell Inc.",
		OSFamily:   "Linux",
		OSName:     "Ubuntu 22.04",
	}

	got := Default().ForHost(h)
	want := []string{
		"fqdn:web01.corp.local",
		"hostname:web01",
		"ip:10.0.0.5",
		"mac:aa:bb:cc:dd:ee:01",
		"os:ubuntu 22.04",
		"os_family:linux",
		"subnet:10.0.0.0/24",
		"vendor:dell inc.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ForHost() = %v, want %v", got, want)
	}
}

func TestForHost_EmptyFieldsYieldNoTags(t *testing.T) {
	got := Default().ForHost(&models.Host{Hostname: "   "})
	if len(got) != 0 {
		t.Errorf("ForHost(empty) = %v, want none", got)
	}
}

func TestForHost_IPv6(t *testing.T) {
	h := &models.Host{IPAddress: "192.168.1.10", IPv6Address: "FE80::1"}
	got := Default().ForHost(h)
	want := []string{
		"ip:192.168.1.10",
		"ip:fe80::1",
		"subnet:192.168.1.0/24",
		"subnet:fe80::/64",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ForHost() = %v, want %v", got, want)
	}
}

func TestForPort(t *testing.T) {
	p := &models.Port{
		PortNumber:     443,
		Protocol:       "TCP",
		State:          "open",
		ServiceName:    "https",
		ServiceProduct: "nginx",
	}
	got := Default().ForPort(p)
	want := []string{
		"port:443",
		"port_proto:443/tcp",
		"product:nginx",
		"protocol:tcp",
		"service:https",
		"state:open",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ForPort() = %v, want %v", got, want)
	}
}

func TestForConnection(t *testing.T) {
	c := &models.Connection{
		LocalIP:    "10.0.0.5",
		LocalPort:  22,
		RemoteIP:   "10.0.0.9",
		RemotePort: 51515,
		Protocol:   "tcp",
		State:      "ESTABLISHED",
		Process:    "sshd",
	}
	got := Default().ForConnection(c)
	want := []string{
		"local_ip:10.0.0.5",
		"local_port:22",
		"process:sshd",
		"protocol:tcp",
		"remote_ip:10.0.0.9",
		"remote_port:51515",
		"state:established",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ForConnection() = %v, want %v", got, want)
	}
}

func TestForArpEntry(t *testing.T) {
	a := &models.ArpEntry{
		IPAddress:  "10.0.0.1",
		MACAddress: "0011.2233.4455",
		Interface:  "eth0",
		EntryType:  models.ArpEntryDynamic,
	}
	got := Default().ForArpEntry(a)
	want := []string{
		"entry_type:dynamic",
		"interface:eth0",
		"ip:10.0.0.1",
		"mac:00:11:22:33:44:55",
		"subnet:10.0.0.0/24",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ForArpEntry() = %v, want %v", got, want)
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff"},
		{"AABBCCDDEEFF", "aa:bb:cc:dd:ee:ff"},
		{"", ""},
		{"not-a-mac", ""},
		{"aa:bb:cc:dd:ee", ""},
		{"gg:bb:cc:dd:ee:ff", ""},
		{"00:00:00:00:00:00", ""},
		{"FF:FF:FF:FF:FF:FF", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMAC(tt.in); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"10.0.0.5", "10.0.0.5"},
		{" 10.0.0.5 ", "10.0.0.5"},
		{"::ffff:10.0.0.5", "10.0.0.5"},
		{"2001:DB8::0001", "2001:db8::1"},
		{"Printer-Lobby", "printer-lobby"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeIP(tt.in); got != tt.want {
			t.Errorf("NormalizeIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubnet_CustomPrefix(t *testing.T) {
	d := New(16, 48)
	if got := d.Subnet("172.16.5.4"); got != "172.16.0.0/16" {
		t.Errorf("Subnet(v4) = %q, want 172.16.0.0/16", got)
	}
	if got := d.Subnet("2001:db8:1:2::5"); got != "2001:db8:1::/48" {
		t.Errorf("Subnet(v6) = %q, want 2001:db8:1::/48", got)
	}
	if got := d.Subnet("bogus"); got != "" {
		t.Errorf("Subnet(bogus) = %q, want empty", got)
	}
}

func TestValue(t *testing.T) {
	if v, ok := Value("hostname:web01", PrefixHostname); !ok || v != "web01" {
		t.Errorf("Value(hostname:web01) = %q, %v", v, ok)
	}
	if _, ok := Value("fqdn:web01.corp", PrefixHostname); ok {
		t.Error("Value matched the wrong prefix")
	}
	if _, ok := Value("hostname:", PrefixHostname); ok {
		t.Error("Value matched an empty value")
	}
}

func TestUnion(t *testing.T) {
	got := Union([]string{"b", "a"}, nil, []string{"a", "", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Union() = %v, want %v", got, want)
	}
}

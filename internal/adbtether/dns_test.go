package adbtether

import (
	"reflect"
	"testing"
)

func TestParseIpconfigDNS(t *testing.T) {
	output := "Windows IP Configuration\r\n" +
		"\r\n" +
		"Ethernet adapter Ethernet:\r\n" +
		"\r\n" +
		"   Connection-specific DNS Suffix  . : corp.example.com\r\n" +
		"   DNS Servers . . . . . . . . . . . : 10.0.0.53\r\n" +
		"                                       10.0.0.54\r\n" +
		"   NetBIOS over Tcpip. . . . . . . . : Enabled\r\n"

	got := parseIpconfigDNS(output)
	want := []string{"10.0.0.53", "10.0.0.54"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseIpconfigDNS() = %v, want %v", got, want)
	}
}

func TestParseResolvConf(t *testing.T) {
	content := "# generated by systemd-resolved\n" +
		"search lan\n" +
		"nameserver 192.168.1.1\n" +
		"nameserver 9.9.9.9\n" +
		"options edns0\n"

	got := parseResolvConf(content)
	want := []string{"192.168.1.1", "9.9.9.9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseResolvConf() = %v, want %v", got, want)
	}
}

func TestDedupeServers(t *testing.T) {
	got := dedupeServers([]string{"10.0.0.53", "9.9.9.9", "10.0.0.53"})
	want := []string{"10.0.0.53", "9.9.9.9"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupeServers() = %v, want %v", got, want)
	}
}

func TestDedupeServersFallback(t *testing.T) {
	got := dedupeServers(nil)
	want := []string{"8.8.8.8"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupeServers(nil) = %v, want %v", got, want)
	}
}

package adbtether

import (
	"regexp"
	"strings"
)

// The device-side VPN needs resolvers it can reach through the tether;
// the host's own DNS servers are the only safe choice. Harvesting is
// platform-specific (see dns_windows.go / dns_unix.go); the parsers
// live here so they stay unit-testable.

var (
	dnsServerLine   = regexp.MustCompile(`:\s*([\d.]+)`)
	dnsContinuation = regexp.MustCompile(`^\s+([\d.]+)\s*$`)
)

// parseIpconfigDNS pulls DNS server addresses out of `ipconfig /all`
// output. Secondary servers appear on deeply indented continuation
// lines below the "DNS Servers" line.
func parseIpconfigDNS(output string) []string {
	var servers []string
	inDNSSection := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.Contains(line, "DNS Servers"):
			inDNSSection = true
			if m := dnsServerLine.FindStringSubmatch(line); m != nil {
				servers = append(servers, m[1])
			}
		case inDNSSection:
			if m := dnsContinuation.FindStringSubmatch(line); m != nil {
				servers = append(servers, m[1])
			} else if strings.TrimSpace(line) != "" && !strings.HasPrefix(line, strings.Repeat(" ", 20)) {
				inDNSSection = false
			}
		}
	}
	return servers
}

// parseResolvConf extracts nameserver entries from resolv.conf content.
func parseResolvConf(content string) []string {
	var servers []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			servers = append(servers, parts[1])
		}
	}
	return servers
}

// dedupeServers removes duplicates preserving order and falls back to a
// public resolver when nothing was found.
func dedupeServers(servers []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, s := range servers {
		if seen[s] {
			continue
		}
		seen[s] = true
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return []string{"8.8.8.8"}
	}
	return unique
}

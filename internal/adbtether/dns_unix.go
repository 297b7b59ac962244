//go:build !windows

package adbtether

import "os"

// SystemDNSServers returns the host's configured DNS servers, falling
// back to a public resolver when none can be determined.
func SystemDNSServers() []string {
	content, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return dedupeServers(nil)
	}
	return dedupeServers(parseResolvConf(string(content)))
}

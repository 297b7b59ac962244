//go:build windows

package adbtether

import (
	"context"
	"os/exec"
	"time"
)

// SystemDNSServers returns the host's configured DNS servers, falling
// back to a public resolver when none can be determined.
func SystemDNSServers() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ipconfig", "/all").Output()
	if err != nil {
		return dedupeServers(nil)
	}
	return dedupeServers(parseIpconfigDNS(string(out)))
}

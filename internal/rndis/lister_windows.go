//go:build windows

package rndis

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type systemLister struct{}

// NewSystemLister enumerates adapters through PowerShell. Get-NetAdapter
// carries the interface description, which is where Windows reports the
// RNDIS driver name.
func NewSystemLister() AdapterLister {
	return systemLister{}
}

type netAdapterRecord struct {
	Name                 string `json:"Name"`
	InterfaceDescription string `json:"InterfaceDescription"`
	Status               string `json:"Status"`
}

type ipAddressRecord struct {
	InterfaceAlias string `json:"InterfaceAlias"`
	IPAddress      string `json:"IPAddress"`
}

func (systemLister) Adapters() ([]Adapter, error) {
	adapterOut, err := powershell(15*time.Second,
		`Get-NetAdapter | Select-Object Name, InterfaceDescription, Status | ConvertTo-Json -Compress`)
	if err != nil {
		return nil, err
	}
	var records []netAdapterRecord
	if err := decodeJSONList(adapterOut, &records); err != nil {
		return nil, fmt.Errorf("parsing adapter list: %w", err)
	}

	addrOut, err := powershell(15*time.Second,
		`Get-NetIPAddress -AddressFamily IPv4 | Select-Object InterfaceAlias, IPAddress | ConvertTo-Json -Compress`)
	if err != nil {
		return nil, err
	}
	var addrs []ipAddressRecord
	if err := decodeJSONList(addrOut, &addrs); err != nil {
		return nil, fmt.Errorf("parsing address list: %w", err)
	}

	byAlias := make(map[string][]string)
	for _, addr := range addrs {
		byAlias[addr.InterfaceAlias] = append(byAlias[addr.InterfaceAlias], addr.IPAddress)
	}

	adapters := make([]Adapter, 0, len(records))
	for _, r := range records {
		adapters = append(adapters, Adapter{
			Name:        r.Name,
			Description: r.InterfaceDescription,
			Up:          r.Status == "Up",
			IPs:         byAlias[r.Name],
		})
	}
	return adapters, nil
}

// decodeJSONList handles ConvertTo-Json emitting a bare object when the
// pipeline produced a single result.
func decodeJSONList[T any](data string, out *[]T) error {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil
	}
	if strings.HasPrefix(data, "[") {
		return json.Unmarshal([]byte(data), out)
	}
	var single T
	if err := json.Unmarshal([]byte(data), &single); err != nil {
		return err
	}
	*out = []T{single}
	return nil
}

func powershell(timeout time.Duration, script string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "powershell",
		"-NoProfile", "-NonInteractive", "-Command", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("powershell: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

//go:build !windows

package rndis

import "net"

type systemLister struct{}

// NewSystemLister enumerates adapters through the kernel interface
// table. There is no separate description on this platform, so matching
// happens on the interface name alone.
func NewSystemLister() AdapterLister {
	return systemLister{}
}

func (systemLister) Adapters() ([]Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	adapters := make([]Adapter, 0, len(ifaces))
	for _, iface := range ifaces {
		a := Adapter{
			Name:        iface.Name,
			Description: iface.Name,
			Up:          iface.Flags&net.FlagUp != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
					a.IPs = append(a.IPs, ipNet.IP.String())
				}
			}
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

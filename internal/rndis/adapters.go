package rndis

import "regexp"

// Adapter is a host network adapter as seen by the platform lister.
type Adapter struct {
	Name        string
	Description string
	Up          bool
	IPs         []string
}

// AdapterLister enumerates host adapters. The platform implementations
// live in lister_windows.go and lister_unix.go; tests substitute a fake.
type AdapterLister interface {
	Adapters() ([]Adapter, error)
}

// rndisPattern matches the adapter a tethered phone exposes. Windows
// reports "Remote NDIS based Internet Sharing Device" in the interface
// description; Linux names the interface usb0, usb1 and so on.
var rndisPattern = regexp.MustCompile(`(?i)rndis|remote ndis|^usb\d+$`)

// Adapter names flow into shell commands further down the stack, so
// anything outside this character set is ignored with a warning.
var safeAdapterName = regexp.MustCompile(`^[\w\s\-().#]+$`)

// HasIP reports whether the adapter currently carries the given address.
func (a Adapter) HasIP(ip string) bool {
	for _, addr := range a.IPs {
		if addr == ip {
			return true
		}
	}
	return false
}

func (a Adapter) isTether() bool {
	return rndisPattern.MatchString(a.Name) || rndisPattern.MatchString(a.Description)
}

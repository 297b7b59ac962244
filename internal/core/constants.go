package core

// Network constants for the USB local link. These are shared with the
// one-time privileged setup tooling and must match it exactly: the setup
// task assigns GatewayIP to the tethered adapter and may pre-create a
// persistent NAT rule named NatRuleName for SubnetPrefix.
const (
	SubnetPrefix = "192.168.137.0/24"
	GatewayIP    = "192.168.137.1"
	PrefixLength = 24
	NatRuleName  = "USBRelayNAT"
)

// Relay constants. The device-side VPN connects back through the reverse
// tunnel to the relay listening on RelayPort.
const (
	RelayPort         = 31416
	ReverseSocketName = "gnirehtet"
	RelayProcessName  = "gnirehtet"
)

// Device-side packages and intents.
const (
	VendorPackage       = "com.scan.mobile.ionic2"
	VendorRelayAction   = "com.scan.mobile.usbrelay.START"
	VendorRelayActivity = "com.scan.mobile.ionic2/com.scan.mobile.network.usbrelay.ScanUsbRelayActivity"
	GnirehtetAction     = "com.genymobile.gnirehtet.START"
)

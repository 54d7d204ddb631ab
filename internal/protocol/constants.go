package protocol

// LoginVersion must match the LoginApp or the login is rejected.
const LoginVersion uint32 = 51

const (
	// PortLogin is the default LoginApp port.
	PortLogin uint16 = 20013

	// DefaultPublicKeyPath is used when the caller gives no key path.
	DefaultPublicKeyPath = "loginapp.pubkey"

	// DefaultUpdateFrequency is the server tick rate until told otherwise.
	DefaultUpdateFrequency = 10
)

// Probe reply keys.
const (
	ProbeKeyHostName     = "hostName"
	ProbeKeyOwnerName    = "ownerName"
	ProbeKeyUsersCount   = "usersCount"
	ProbeKeyUniverseName = "universeName"
	ProbeKeySpaceName    = "spaceName"
	ProbeKeyBinaryID     = "binaryID"
)

// Entity message ids occupy 0x80..0xFE; 0x40 inside that range selects a
// property update rather than a method call. 0xFF is the reply id.
const (
	EntityMessageFirst  = 0x80
	EntityMessageLast   = 0xFE
	EntityMessageMask   = 0x7F
	EntityPropertyFlag  = 0x40
	ProxyMessageFlag    = 0xC0
	MaxEntityMessageIdx = EntityMessageLast - EntityMessageFirst
)

package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Address is an IPv4 endpoint as it travels on the wire.
// Salt disambiguates otherwise equal addresses (space entry ids reuse this layout).
type Address struct {
	IP   [4]byte
	Port uint16
	Salt uint16
}

// NewAddress builds an Address from an IPv4 and a port.
func NewAddress(ip net.IP, port uint16) Address {
	var a Address
	if v4 := ip.To4(); v4 != nil {
		copy(a.IP[:], v4)
	}
	a.Port = port
	return a
}

// AddressFromNet converts a net.Addr (UDP or IP) to an Address. Salt is zero.
func AddressFromNet(addr net.Addr) Address {
	switch v := addr.(type) {
	case *net.UDPAddr:
		return NewAddress(v.IP, uint16(v.Port))
	case *net.TCPAddr:
		return NewAddress(v.IP, uint16(v.Port))
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil || !ap.Addr().Is4() {
		return Address{}
	}
	return Address{IP: ap.Addr().As4(), Port: ap.Port()}
}

// ParseAddress parses "a.b.c.d:port".
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parsing address %q: %w", s, err)
	}
	if !ap.Addr().Is4() {
		return Address{}, fmt.Errorf("parsing address %q: not an IPv4 address", s)
	}
	return Address{IP: ap.Addr().As4(), Port: ap.Port()}, nil
}

// UDPAddr converts to a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: int(a.Port)}
}

// IPUint32 returns the address in network order as an integer.
func (a Address) IPUint32() uint32 {
	return binary.BigEndian.Uint32(a.IP[:])
}

// IsZero reports whether both IP and port are unset.
func (a Address) IsZero() bool {
	return a.IP == [4]byte{} && a.Port == 0
}

// WithoutSalt returns a copy with Salt cleared, for use as a map key.
func (a Address) WithoutSalt() Address {
	a.Salt = 0
	return a
}

func (a Address) String() string {
	return netip.AddrFrom4(a.IP).String() + ":" + strconv.Itoa(int(a.Port))
}

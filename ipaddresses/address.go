package ipaddresses

import (
	"fmt"
	"strconv"
	"strings"
)

const errInvalidIPAddrFmt = "invalid IP address: %s"
const errInvalidCIDRFmt = "invalid CIDR notation: %s"

// ParseIPAddress is a utility function that converts an IPv4 address
// from octet notation (*.*.*.*) to its 32-bit unsigned integer value.
func ParseIPAddress(ipAddr string) (ip uint32, err error) {
	octets := strings.Split(ipAddr, ".")
	if len(octets) != 4 {
		err = fmt.Errorf(errInvalidIPAddrFmt, ipAddr)
		return
	}

	for _, octet := range octets {
		var b int

		b, err = strconv.Atoi(octet)
		if err != nil || b < 0 || b > 255 {
			err = fmt.Errorf(errInvalidIPAddrFmt, ipAddr)
			return
		}

		ip <<= 8
		ip |= uint32(b)
	}

	return ip, nil
}

// ParsePrefix canonicalizes either a bare IPv4 address or a CIDR notation
// into the inclusive integer range it covers plus the prefix length. A bare
// address is treated as a /32.
func ParsePrefix(cidr string) (start uint32, end uint32, bits int, err error) {
	ipPart := cidr
	bits = 32

	if idx := strings.IndexByte(cidr, '/'); idx >= 0 {
		ipPart = cidr[:idx]
		bits, err = strconv.Atoi(cidr[idx+1:])
		if err != nil || bits < 0 || bits > 32 {
			err = fmt.Errorf(errInvalidCIDRFmt, cidr)
			return
		}
	}

	ip, err := ParseIPAddress(ipPart)
	if err != nil {
		err = fmt.Errorf(errInvalidCIDRFmt, cidr)
		return
	}

	var mask uint32
	if bits > 0 {
		mask = uint32(0xffffffff) << uint32(32-bits)
	}

	start = ip & mask
	end = start | ^mask
	return
}

// ToOctets converts a 32-bit unsigned integer into a readable string in
// "*.*.*.*" format.
func ToOctets(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip>>24, (ip>>16)&0xff, (ip>>8)&0xff, ip&0xff)
}

// BitAt returns the value of the bit at index i, counting from the most
// significant bit.
func BitAt(ip uint32, i int) int {
	return int((ip >> uint(31-i)) & 1)
}

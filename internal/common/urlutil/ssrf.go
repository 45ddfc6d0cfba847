package urlutil

import (
	"fmt"
	"net/netip"
)

// Ranges a render target must never point into that netip's own
// classifiers do not cover.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),     // "this" network
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT (RFC 6598)
}

// IsPrivateIP reports whether addr belongs to a loopback, private,
// link-local, multicast or otherwise reserved range. The zero Addr is not
// private.
func IsPrivateIP(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}

	// Normalize 4-in-6 mapped addresses and zoned literals before
	// classifying, so ::ffff:10.0.0.1 and fe80::1%eth0 are caught.
	addr = addr.Unmap().WithZone("")

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}

	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ValidateHostNotPrivateIP rejects hostnames that are IP literals in a
// blocked range. Domain names pass through unresolved; no DNS lookup
// happens here.
func ValidateHostNotPrivateIP(hostname string) error {
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		// Not an IP literal, so a domain name; allow it through
		return nil
	}

	if IsPrivateIP(addr) {
		return fmt.Errorf("host %s is in a private or reserved IP range", hostname)
	}
	return nil
}

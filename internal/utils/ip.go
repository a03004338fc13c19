package utils

import (
	"net"
)

// Allowlist is a set of networks parsed once at startup.
type Allowlist []*net.IPNet

// ParseAllowlist parses CIDR strings, skipping invalid ones.
func ParseAllowlist(cidrs []string) Allowlist {
	out := make(Allowlist, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, netblock, err := net.ParseCIDR(cidr)
		if err != nil {
			// Skip invalid CIDR
			continue
		}
		out = append(out, netblock)
	}
	return out
}

// Contains reports whether ip belongs to one of the networks.
func (a Allowlist) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, netblock := range a {
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}

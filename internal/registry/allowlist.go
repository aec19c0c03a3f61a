package registry

import "net"

// AllowList is the IP allow-list enforced on the /manifests route. An
// empty allow-list denies all requests. Immutable after construction —
// reconfiguring it means building a new server.
type AllowList struct {
	entries map[string]bool
}

// NewAllowList builds an AllowList from a set of configured IP strings.
// Entries that fail to parse as an IP are ignored — config validation is
// expected to have already rejected a malformed allow-list entry.
func NewAllowList(ips []string) AllowList {
	entries := make(map[string]bool, len(ips))

	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			continue
		}

		entries[ip.String()] = true
	}

	return AllowList{entries: entries}
}

// Allowed reports whether ip may access the allow-listed route. An empty
// allow-list denies every request, including localhost — this is a
// peer-to-peer discovery surface, not a loopback-only one.
func (a AllowList) Allowed(ip net.IP) bool {
	if len(a.entries) == 0 {
		return false
	}

	return a.entries[ip.String()]
}

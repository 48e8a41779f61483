package registry

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/marmos91/libfs/pkg/lookup"
)

// modifyingFlags are the flags that change the tree.
const modifyingFlags = lookup.FlagCreate | lookup.FlagLink | lookup.FlagUnlink

type accessList []netip.Prefix

func newAccessList(clients []string) (accessList, error) {
	var list accessList
	for _, c := range clients {
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid client address %q: %w", c, err)
			}
			list = append(list, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid client range %q: %w", c, err)
		}
		list = append(list, prefix.Masked())
	}
	return list, nil
}

func (l accessList) allows(addr netip.Addr) bool {
	if len(l) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range l {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Authorize checks whether a client at clientAddr may issue a lookup with
// flags on this device.
//
// Parameters:
//   - clientAddr: remote "ip:port" or bare IP; empty for in-process callers,
//     which are always allowed
//   - flags: the request flags
//
// Returns:
//   - lookup.StatusOK when allowed
//   - lookup.StatusAccess for a client outside AllowedClients or a
//     modifying request on a read-only device
func (m *Mount) Authorize(clientAddr string, flags lookup.Flags) lookup.Status {
	if m.ReadOnly && flags.Any(modifyingFlags) {
		return lookup.StatusAccess
	}
	if clientAddr == "" {
		return lookup.StatusOK
	}

	addr, err := parseClientAddr(clientAddr)
	if err != nil || !m.access.allows(addr) {
		return lookup.StatusAccess
	}
	return lookup.StatusOK
}

func parseClientAddr(s string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), nil
	}
	return netip.ParseAddr(s)
}

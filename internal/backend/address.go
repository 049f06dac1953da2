package backend

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

// Address identifies a backend server. It is immutable and comparable, so it
// can be used directly as a map key.
type Address struct {
	Host string
	Port int
}

// New returns the Address for host and port.
func New(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// String returns the address in host:port form, suitable for net.Dial.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Compare orders addresses by host, then by port.
func (a Address) Compare(other Address) int {
	if c := strings.Compare(a.Host, other.Host); c != 0 {
		return c
	}
	return a.Port - other.Port
}

// ParseAddress parses a host:port string. The port must be in 1-65535.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid backend address %q: %w", s, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("invalid backend port %q in %q", portStr, s)
	}

	if host == "" {
		return Address{}, fmt.Errorf("backend address %q has no host", s)
	}

	return Address{Host: host, Port: port}, nil
}

// ParseAddresses parses every entry, failing on the first invalid one.
// Duplicates are removed and the result is sorted.
func ParseAddresses(list []string) ([]Address, error) {
	addrs := make([]Address, 0, len(list))
	for _, s := range list {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}

	SortAddresses(addrs)
	return slices.Compact(addrs), nil
}

// PortRange returns one Address per port in [start, end] on host.
func PortRange(host string, start, end int) []Address {
	if end < start {
		return nil
	}

	addrs := make([]Address, 0, end-start+1)
	for port := start; port <= end; port++ {
		addrs = append(addrs, Address{Host: host, Port: port})
	}
	return addrs
}

// SortAddresses sorts addrs in place by host, then port.
func SortAddresses(addrs []Address) {
	slices.SortFunc(addrs, Address.Compare)
}

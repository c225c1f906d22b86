package connectivity

import (
	"context"
	"fmt"
	"net"
)

// Link is the network attachment the node publishes over.
type Link interface {
	Up() bool
	// Associate tries once to bring the link up.
	Associate(ctx context.Context) error
}

// InterfaceLink follows a host network interface (e.g. wlan0). Association
// itself is left to the OS network manager; Associate only reports whether
// the interface is usable.
type InterfaceLink struct {
	Name string
	// lookup is swapped in tests.
	lookup func(name string) (iface, error)
}

type iface interface {
	Flags() net.Flags
	Addrs() ([]net.Addr, error)
}

type netIface struct{ i *net.Interface }

func (n netIface) Flags() net.Flags           { return n.i.Flags }
func (n netIface) Addrs() ([]net.Addr, error) { return n.i.Addrs() }

func NewInterfaceLink(name string) *InterfaceLink {
	return &InterfaceLink{Name: name, lookup: func(name string) (iface, error) {
		i, err := net.InterfaceByName(name)
		if err != nil {
			return nil, err
		}
		return netIface{i}, nil
	}}
}

// Up reports the interface as up with at least one global unicast address.
func (l *InterfaceLink) Up() bool {
	return l.check() == nil
}

func (l *InterfaceLink) Associate(context.Context) error {
	return l.check()
}

func (l *InterfaceLink) check() error {
	i, err := l.lookup(l.Name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetworkUnavailable, l.Name, err)
	}
	if i.Flags()&net.FlagUp == 0 {
		return fmt.Errorf("%w: %s is down", ErrNetworkUnavailable, l.Name)
	}
	addrs, err := i.Addrs()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetworkUnavailable, l.Name, err)
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no address", ErrNetworkUnavailable, l.Name)
}

// AlwaysUp is a Link for hosts where the network is not managed by the node.
type AlwaysUp struct{}

func (AlwaysUp) Up() bool                        { return true }
func (AlwaysUp) Associate(context.Context) error { return nil }

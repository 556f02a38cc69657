package hypervisor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var portForwardPattern = regexp.MustCompile(`^\d+:\d+$`)

// PortForward maps a host TCP port to a guest TCP port.
// Its text form is "host:guest", e.g. "2222:22".
type PortForward struct {
	Host  int
	Guest int
}

// ParsePortForward parses a "host:guest" rule.
func ParsePortForward(s string) (PortForward, error) {
	if !portForwardPattern.MatchString(s) {
		return PortForward{}, fmt.Errorf("%w: %q", ErrInvalidPortForward, s)
	}
	host, guest, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(host)
	if err != nil {
		return PortForward{}, fmt.Errorf("%w: %q", ErrInvalidPortForward, s)
	}
	g, err := strconv.Atoi(guest)
	if err != nil {
		return PortForward{}, fmt.Errorf("%w: %q", ErrInvalidPortForward, s)
	}
	pf := PortForward{Host: h, Guest: g}
	if err := pf.Validate(); err != nil {
		return PortForward{}, fmt.Errorf("%w: %q", err, s)
	}
	return pf, nil
}

// ParsePortForwards parses rules in order.
func ParsePortForwards(rules []string) ([]PortForward, error) {
	out := make([]PortForward, 0, len(rules))
	for _, r := range rules {
		pf, err := ParsePortForward(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, nil
}

// Validate checks both ports are in 1..65535.
func (p PortForward) Validate() error {
	if p.Host < 1 || p.Host > 65535 || p.Guest < 1 || p.Guest > 65535 {
		return ErrPortOutOfRange
	}
	return nil
}

func (p PortForward) String() string {
	return fmt.Sprintf("%d:%d", p.Host, p.Guest)
}

// MarshalText implements encoding.TextMarshaler.
func (p PortForward) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PortForward) UnmarshalText(b []byte) error {
	pf, err := ParsePortForward(string(b))
	if err != nil {
		return err
	}
	*p = pf
	return nil
}

// hostfwd renders the qemu user-networking forward stanza.
func (p PortForward) hostfwd() string {
	return fmt.Sprintf("hostfwd=tcp::%d-:%d", p.Host, p.Guest)
}

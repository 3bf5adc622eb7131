// Package compose owns the container definition: the compose-style document
// the managed Windows container is declared in, the textual port-mapping
// grammar, and the port mapper that resolves guest ports to host ports.
package compose

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport protocols a port mapping can carry. Nothing else is representable.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// DefaultHostIP is materialized when the source text omits the host address.
const DefaultHostIP = "0.0.0.0"

// PortRange is an inclusive range of ports. Start == End for a single port.
type PortRange struct {
	Start uint16
	End   uint16
}

// Port returns a single-port range.
func Port(n uint16) PortRange {
	return PortRange{Start: n, End: n}
}

// Single reports whether the range covers exactly one port.
func (r PortRange) Single() bool {
	return r.Start == r.End
}

func (r PortRange) String() string {
	if r.Single() {
		return strconv.Itoa(int(r.Start))
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// PortSpec is one parsed port-mapping rule.
//
// Host == nil means "let the runtime pick an ephemeral port" (dynamic
// publish). It renders as an empty token, never as 0.
type PortSpec struct {
	HostIP   string
	Host     *PortRange
	Guest    PortRange
	Protocol string
}

// SpecOption configures a PortSpec built via MakePortSpec.
type SpecOption func(*PortSpec)

// WithHostIP overrides the default host address.
func WithHostIP(ip string) SpecOption {
	return func(s *PortSpec) {
		s.HostIP = ip
	}
}

// WithProtocol overrides the default tcp protocol.
func WithProtocol(proto string) SpecOption {
	return func(s *PortSpec) {
		s.Protocol = proto
	}
}

// MakePortSpec builds a spec from structured fields. host may be nil for
// dynamic publish. Defaults: hostIP 0.0.0.0, protocol tcp.
func MakePortSpec(host *PortRange, guest PortRange, opts ...SpecOption) *PortSpec {
	s := &PortSpec{
		HostIP:   DefaultHostIP,
		Host:     host,
		Guest:    guest,
		Protocol: ProtocolTCP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParsePortSpec parses the compact textual grammar
//
//	[[hostIP:]host:]guest[/protocol]
//
// Malformed input (unsupported protocol token, invalid IP literal, bad port
// number) fails here, never later and never silently.
func ParsePortSpec(text string) (*PortSpec, error) {
	spec := &PortSpec{
		HostIP:   DefaultHostIP,
		Protocol: ProtocolTCP,
	}

	body := text
	if slash := strings.IndexByte(text, '/'); slash >= 0 {
		proto := text[slash+1:]
		body = text[:slash]
		switch proto {
		case "":
			// trailing slash, protocol omitted
		case ProtocolTCP, ProtocolUDP:
			spec.Protocol = proto
		default:
			return nil, fmt.Errorf("port spec %q: unsupported protocol %q", text, proto)
		}
	}

	fields := strings.Split(body, ":")
	switch len(fields) {
	case 1:
		guest, err := parsePortRange(fields[0])
		if err != nil {
			return nil, fmt.Errorf("port spec %q: guest port: %w", text, err)
		}
		spec.Guest = guest

	case 2:
		if err := spec.setHostToken(fields[0]); err != nil {
			return nil, fmt.Errorf("port spec %q: host port: %w", text, err)
		}
		guest, err := parsePortRange(fields[1])
		if err != nil {
			return nil, fmt.Errorf("port spec %q: guest port: %w", text, err)
		}
		spec.Guest = guest

	default:
		// Last field is guest, second-to-last is host, the rest is the host
		// IP literal. An empty host token belongs to host (dynamic publish),
		// not to the IP.
		n := len(fields)
		guest, err := parsePortRange(fields[n-1])
		if err != nil {
			return nil, fmt.Errorf("port spec %q: guest port: %w", text, err)
		}
		spec.Guest = guest
		if err := spec.setHostToken(fields[n-2]); err != nil {
			return nil, fmt.Errorf("port spec %q: host port: %w", text, err)
		}

		ip := strings.Join(fields[:n-2], ":")
		if strings.HasPrefix(ip, "[") && strings.HasSuffix(ip, "]") {
			ip = ip[1 : len(ip)-1]
		}
		if net.ParseIP(ip) == nil {
			return nil, fmt.Errorf("port spec %q: invalid host IP %q", text, ip)
		}
		spec.HostIP = ip
	}

	return spec, nil
}

// setHostToken records the host endpoint from its textual token. The empty
// token is the runtime-assigned sentinel.
func (s *PortSpec) setHostToken(tok string) error {
	if tok == "" {
		s.Host = nil
		return nil
	}
	r, err := parsePortRange(tok)
	if err != nil {
		return err
	}
	s.Host = &r
	return nil
}

// String renders the canonical four-part form hostIP:host:guest/protocol.
// Defaults are materialized explicitly; a runtime-assigned host endpoint
// renders as an empty token. Re-parsing the result reproduces the spec.
func (s *PortSpec) String() string {
	hostIP := s.HostIP
	if hostIP == "" {
		hostIP = DefaultHostIP
	}
	if strings.Contains(hostIP, ":") {
		hostIP = "[" + hostIP + "]"
	}

	host := ""
	if s.Host != nil {
		host = s.Host.String()
	}

	proto := s.Protocol
	if proto == "" {
		proto = ProtocolTCP
	}

	return fmt.Sprintf("%s:%s:%s/%s", hostIP, host, s.Guest.String(), proto)
}

func parsePortRange(tok string) (PortRange, error) {
	if dash := strings.IndexByte(tok, '-'); dash >= 0 {
		start, err := parsePort(tok[:dash])
		if err != nil {
			return PortRange{}, err
		}
		end, err := parsePort(tok[dash+1:])
		if err != nil {
			return PortRange{}, err
		}
		if start > end {
			return PortRange{}, fmt.Errorf("range %q: start exceeds end", tok)
		}
		return PortRange{Start: start, End: end}, nil
	}
	p, err := parsePort(tok)
	if err != nil {
		return PortRange{}, err
	}
	return Port(p), nil
}

func parsePort(tok string) (uint16, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", tok)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return uint16(n), nil
}

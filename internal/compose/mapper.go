package compose

import (
	"fmt"
	"net"
	"sync"
)

// PortDecl is one declared port mapping from the container definition.
// Exactly one of Short (compact text token) or Long (structured mapping,
// kept opaque) is set.
type PortDecl struct {
	Short string
	Long  map[string]interface{}
}

// PortMapper owns the ordered port-mapping collection for one container
// definition. Short-form entries are parsed and mutable through SetMapping;
// long-form entries pass through undecomposed.
//
// The mapper is rebuilt whenever the definition is reloaded. The daemon API
// reaches it from concurrent requests, so mutation and reads are
// mutex-guarded.
type PortMapper struct {
	mu      sync.Mutex
	entries []*PortSpec
	long    []map[string]interface{}
}

// NewPortMapper parses the declared port list in order. Any malformed
// short-form entry makes construction fail; a mapper is never built from a
// partially parsed definition.
func NewPortMapper(decls []PortDecl) (*PortMapper, error) {
	m := &PortMapper{}
	for i, d := range decls {
		if d.Long != nil {
			m.long = append(m.long, d.Long)
			continue
		}
		spec, err := ParsePortSpec(d.Short)
		if err != nil {
			return nil, fmt.Errorf("port declaration %d: %w", i, err)
		}
		m.entries = append(m.entries, spec)
	}
	return m, nil
}

// Lookup returns the first short-form entry whose guest endpoint is a
// concrete port equal to guestPort with a matching protocol. Range-valued
// guest endpoints never match. A miss returns found=false, never an error.
// proto defaults to tcp when empty.
func (m *PortMapper) Lookup(guestPort uint16, proto string) (PortSpec, bool) {
	if proto == "" {
		proto = ProtocolTCP
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Guest.Single() && e.Guest.Start == guestPort && e.Protocol == proto {
			return copySpec(e), true
		}
	}
	return PortSpec{}, false
}

// copySpec returns a detached copy so callers cannot mutate mapper state
// outside the lock.
func copySpec(e *PortSpec) PortSpec {
	out := *e
	if e.Host != nil {
		h := *e.Host
		out.Host = &h
	}
	return out
}

// HasMapping reports whether Lookup would succeed.
func (m *PortMapper) HasMapping(guestPort uint16, proto string) bool {
	_, ok := m.Lookup(guestPort, proto)
	return ok
}

// SetMapping records host as the endpoint for (guestPort, protocol). An
// existing entry is overwritten in place, keeping its collection position;
// otherwise a new entry is appended. The operation always succeeds
// structurally; whether the chosen host port is actually free is the
// caller's concern (see IsPortOpen).
func (m *PortMapper) SetMapping(guestPort uint16, host PortRange, opts ...SpecOption) {
	spec := MakePortSpec(&host, Port(guestPort), opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.Guest.Single() && e.Guest.Start == guestPort && e.Protocol == spec.Protocol {
			m.entries[i] = spec
			return
		}
	}
	m.entries = append(m.entries, spec)
}

// Serialize renders every short-form entry in collection order. Long-form
// entries are not rendered here; the definition layer round-trips them.
func (m *PortMapper) Serialize() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.String()
	}
	return out
}

// Entries returns a snapshot of the short-form entries, for callers that
// need range inspection beyond Lookup's concrete-port matching.
func (m *PortMapper) Entries() []PortSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PortSpec, len(m.entries))
	for i, e := range m.entries {
		out[i] = copySpec(e)
	}
	return out
}

// LongForm returns the opaque long-form declarations in order.
func (m *PortMapper) LongForm() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.long))
	copy(out, m.long)
	return out
}

// Decls rebuilds the full declaration list (short-form entries rendered,
// long-form passed through) for persisting the definition.
func (m *PortMapper) Decls() []PortDecl {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PortDecl, 0, len(m.entries)+len(m.long))
	for _, e := range m.entries {
		out = append(out, PortDecl{Short: e.String()})
	}
	for _, l := range m.long {
		out = append(out, PortDecl{Long: l})
	}
	return out
}

// IsPortOpen probes whether port can be bound on all interfaces right now.
// It binds and immediately closes a listener, so the answer is advisory:
// another process can claim the port between the probe and real use.
func IsPortOpen(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

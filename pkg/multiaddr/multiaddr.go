// Package multiaddr implements a composable, self-describing network
// address: an ordered sequence of (protocol, value) components such as
// "/ip4/1.2.3.4/tcp/4001/p2p/<peer-id>".
//
// The binary form is a simple canonical encoding (varint protocol code +
// varint-length-prefixed value per component); it is not required to be
// wire-compatible with any external multiaddr implementation, only
// internally canonical for Equal/Bytes.
package multiaddr

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	varint "github.com/multiformats/go-varint"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// Protocol codes. Values loosely track the multicodec table used by the
// wider multiaddr ecosystem but are not required to match it exactly.
const (
	P_IP4           = 0x04
	P_TCP           = 0x06
	P_UDP           = 0x0111
	P_IP6           = 0x29
	P_DNS4          = 0x36
	P_DNS6          = 0x37
	P_DNSADDR       = 0x38
	P_QUIC_V1       = 0x1CD
	P_WEBTRANSPORT  = 0x1D2
	P_WS            = 0x1DD
	P_WSS           = 0x1DE
	P_P2P           = 0x1A5
	P_P2P_CIRCUIT   = 0x122
)

var codeToName = map[int]string{
	P_IP4: "ip4", P_TCP: "tcp", P_UDP: "udp", P_IP6: "ip6",
	P_DNS4: "dns4", P_DNS6: "dns6", P_DNSADDR: "dnsaddr",
	P_QUIC_V1: "quic-v1", P_WEBTRANSPORT: "webtransport",
	P_WS: "ws", P_WSS: "wss", P_P2P: "p2p", P_P2P_CIRCUIT: "p2p-circuit",
}

var nameToCode = func() map[string]int {
	m := make(map[string]int, len(codeToName))
	for c, n := range codeToName {
		m[n] = c
	}
	return m
}()

// isTextValue protocols whose value is carried as opaque text (hostnames,
// base58 peer ids) rather than fixed-size binary (addresses, ports).
func isTextValue(code int) bool {
	switch code {
	case P_DNS4, P_DNS6, P_DNSADDR, P_P2P:
		return true
	default:
		return false
	}
}

// hasValue reports whether a protocol component carries a value at all
// (ws/wss/quic-v1/webtransport/p2p-circuit are value-less tags).
func hasValue(code int) bool {
	switch code {
	case P_WS, P_WSS, P_QUIC_V1, P_WEBTRANSPORT, P_P2P_CIRCUIT:
		return false
	default:
		return true
	}
}

// Component is a single (protocol, value) pair.
type Component struct {
	Code  int
	Value string // decoded textual/numeric value; "" if hasValue(Code) is false
}

// Multiaddr is an ordered, immutable sequence of Components.
type Multiaddr struct {
	comps []Component
}

var (
	ErrEmpty          = errors.New("multiaddr: empty string")
	ErrMissingLeadSep  = errors.New("multiaddr: must start with '/'")
	ErrUnknownProtocol = errors.New("multiaddr: unknown protocol")
	ErrMissingValue    = errors.New("multiaddr: missing protocol value")
)

// NewMultiaddr parses the string form "/proto/value/proto/value/...".
func NewMultiaddr(s string) (Multiaddr, error) {
	if s == "" {
		return Multiaddr{}, ErrEmpty
	}
	if !strings.HasPrefix(s, "/") {
		return Multiaddr{}, ErrMissingLeadSep
	}
	parts := strings.Split(s, "/")[1:] // drop leading empty element
	var comps []Component
	i := 0
	for i < len(parts) {
		name := parts[i]
		code, ok := nameToCode[name]
		if !ok {
			return Multiaddr{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
		}
		i++
		c := Component{Code: code}
		if hasValue(code) {
			if i >= len(parts) || parts[i] == "" {
				return Multiaddr{}, fmt.Errorf("%w: %s", ErrMissingValue, name)
			}
			c.Value = parts[i]
			i++
		}
		comps = append(comps, c)
	}
	return Multiaddr{comps: comps}, nil
}

// MustMultiaddr parses s and panics on error; for literals in tests.
func MustMultiaddr(s string) Multiaddr {
	m, err := NewMultiaddr(s)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMultiaddrBytes decodes the canonical binary form produced by Bytes.
func NewMultiaddrBytes(b []byte) (Multiaddr, error) {
	var comps []Component
	for len(b) > 0 {
		code, n, err := varint.FromUvarint(b)
		if err != nil {
			return Multiaddr{}, err
		}
		b = b[n:]
		c := Component{Code: int(code)}
		if hasValue(int(code)) {
			vlen, n, err := varint.FromUvarint(b)
			if err != nil {
				return Multiaddr{}, err
			}
			b = b[n:]
			if uint64(len(b)) < vlen {
				return Multiaddr{}, errors.New("multiaddr: truncated component")
			}
			c.Value = string(b[:vlen])
			b = b[vlen:]
		}
		comps = append(comps, c)
	}
	return Multiaddr{comps: comps}, nil
}

// Bytes returns the canonical binary encoding.
func (m Multiaddr) Bytes() []byte {
	var buf bytes.Buffer
	for _, c := range m.comps {
		buf.Write(varint.ToUvarint(uint64(c.Code)))
		if hasValue(c.Code) {
			buf.Write(varint.ToUvarint(uint64(len(c.Value))))
			buf.WriteString(c.Value)
		}
	}
	return buf.Bytes()
}

// String renders the "/proto/value/..." textual form.
func (m Multiaddr) String() string {
	var b strings.Builder
	for _, c := range m.comps {
		b.WriteByte('/')
		b.WriteString(codeToName[c.Code])
		if hasValue(c.Code) {
			b.WriteByte('/')
			b.WriteString(c.Value)
		}
	}
	return b.String()
}

// Equal compares by canonical byte form.
func (m Multiaddr) Equal(other Multiaddr) bool {
	return bytes.Equal(m.Bytes(), other.Bytes())
}

// IsZero reports whether this is the empty-value Multiaddr.
func (m Multiaddr) IsZero() bool { return len(m.comps) == 0 }

// Protocols returns the component list, in order.
func (m Multiaddr) Protocols() []Component {
	out := make([]Component, len(m.comps))
	copy(out, m.comps)
	return out
}

// ValueForProtocol returns the value of the first component matching code.
func (m Multiaddr) ValueForProtocol(code int) (string, error) {
	for _, c := range m.comps {
		if c.Code == code {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("multiaddr: protocol %d not present", code)
}

// Encapsulate appends other's components to a copy of m.
func (m Multiaddr) Encapsulate(other Multiaddr) Multiaddr {
	out := make([]Component, 0, len(m.comps)+len(other.comps))
	out = append(out, m.comps...)
	out = append(out, other.comps...)
	return Multiaddr{comps: out}
}

// NetworkProtocol returns the transport-layer tag ("tcp", "quic-v1", ...),
// i.e. the last non-p2p component's protocol name.
func (m Multiaddr) NetworkProtocol() string {
	for i := len(m.comps) - 1; i >= 0; i-- {
		if m.comps[i].Code != P_P2P {
			return codeToName[m.comps[i].Code]
		}
	}
	return ""
}

// HostName renders "host:port" (or "host" if no port component), suitable
// for net.Dial. DNS components pass the hostname through unresolved.
func (m Multiaddr) HostName() string {
	var host, port string
	for _, c := range m.comps {
		switch c.Code {
		case P_IP4, P_IP6, P_DNS4, P_DNS6, P_DNSADDR:
			host = c.Value
		case P_TCP, P_UDP:
			port = c.Value
		}
	}
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

// IsIP6LinkLocal reports whether the address component is an IPv6
// link-local address (fe80::/10), used by the swarm's undialable filter.
func (m Multiaddr) IsIP6LinkLocal() bool {
	for _, c := range m.comps {
		if c.Code == P_IP6 {
			ip := net.ParseIP(c.Value)
			return ip != nil && ip.IsLinkLocalUnicast()
		}
	}
	return false
}

// IsPublic reports whether the embedded IP (if any) is globally routable —
// neither loopback, link-local, nor private (RFC1918/ULA).
func (m Multiaddr) IsPublic() bool {
	ip := m.ipValue()
	if ip == nil {
		return true // DNS names are treated as public/unknown-good
	}
	return !(ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || isPrivateIP(ip))
}

// IsLoopback reports whether the embedded IP is loopback.
func (m Multiaddr) IsLoopback() bool {
	ip := m.ipValue()
	return ip != nil && ip.IsLoopback()
}

// IsPrivate reports whether the embedded IP is RFC1918/ULA private space.
func (m Multiaddr) IsPrivate() bool {
	ip := m.ipValue()
	return ip != nil && isPrivateIP(ip)
}

func (m Multiaddr) ipValue() net.IP {
	for _, c := range m.comps {
		if c.Code == P_IP4 || c.Code == P_IP6 {
			return net.ParseIP(c.Value)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	for _, cidr := range []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// WithPeerID returns a copy with any trailing /p2p/<id> component replaced
// by one carrying the given peer id (base58, matching the /p2p convention).
func (m Multiaddr) WithPeerID(id types.PeerID) Multiaddr {
	base := m.WithoutPeerID()
	out := make([]Component, len(base.comps), len(base.comps)+1)
	copy(out, base.comps)
	out = append(out, Component{Code: P_P2P, Value: base58.Encode(id.Bytes())})
	return Multiaddr{comps: out}
}

// WithoutPeerID strips a trailing /p2p/<id> component, if present.
func (m Multiaddr) WithoutPeerID() Multiaddr {
	if len(m.comps) == 0 || m.comps[len(m.comps)-1].Code != P_P2P {
		return m
	}
	out := make([]Component, len(m.comps)-1)
	copy(out, m.comps[:len(m.comps)-1])
	return Multiaddr{comps: out}
}

// PeerID extracts the trailing /p2p/<id> suffix, if any.
func (m Multiaddr) PeerID() (types.PeerID, bool) {
	for _, c := range m.comps {
		if c.Code == P_P2P {
			raw, err := base58.Decode(c.Value)
			if err != nil {
				return types.EmptyPeerID, false
			}
			return types.PeerID(raw), true
		}
	}
	return types.EmptyPeerID, false
}

// Port returns the numeric tcp/udp port, if present.
func (m Multiaddr) Port() (int, bool) {
	for _, c := range m.comps {
		if c.Code == P_TCP || c.Code == P_UDP {
			p, err := strconv.Atoi(c.Value)
			if err != nil {
				return 0, false
			}
			return p, true
		}
	}
	return 0, false
}

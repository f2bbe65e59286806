package types

import "time"

// Direction is the initiator/responder role of a connection or stream.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// EvtLocalProtocolsUpdated fires when setStreamHandler/removeStreamHandler
// changes the set of protocols this host advertises.
type EvtLocalProtocolsUpdated struct {
	Added   []ProtocolID
	Removed []ProtocolID
}

// EvtPeerProtocolsUpdated fires when an identify push reveals a remote
// peer's protocol set has changed.
type EvtPeerProtocolsUpdated struct {
	Peer    PeerID
	Added   []ProtocolID
	Removed []ProtocolID
}

// EvtPeerIdentificationFailed fires when identify fails or times out.
type EvtPeerIdentificationFailed struct {
	Peer   PeerID
	Conn   ConnID
	Reason error
}

// EvtPeerConnectednessChanged fires on first-connection and
// last-disconnection transitions for a peer.
type EvtPeerConnectednessChanged struct {
	Peer        PeerID
	Connected   bool
	Timestamp   time.Time
}

// ConnID is a process-local, monotonically increasing connection
// identifier assigned by the Swarm.
type ConnID uint64

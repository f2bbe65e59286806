package identify

import (
	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// consumeMessage runs the message-consumption algorithm of spec §4.4:
// diff protocols, record the observed address, resolve the remote's
// listen addresses (preferring a valid signed peer record), re-TTL
// them, and store protocol-version/agent-version/public-key metadata.
func consumeMessage(ps interfaces.Peerstore, bus interfaces.EventBus, obs *ObservedAddrManager, conn interfaces.Connection, msg *Message, isPush bool, connected bool) {
	remote := conn.RemotePeer()

	// 1. diff protocols, publish on push.
	next := types.NewProtocolIDSet(msg.protocolIDs())
	if isPush {
		current := types.NewProtocolIDSet(ps.GetProtocols(remote))
		added, removed := current.Diff(next)
		if len(added) > 0 || len(removed) > 0 {
			publishProtocolsUpdated(bus, remote, added, removed)
		}
	}
	ps.SetProtocols(remote, next.Slice()...)

	// 2. observed address.
	if len(msg.ObservedAddr) > 0 {
		if observed, err := multiaddr.NewMultiaddrBytes(msg.ObservedAddr); err == nil {
			obs.Record(conn.LocalMultiaddr(), observed, remote)
		} else {
			logger.Warnw("failed to parse observed address", "peer", remote.ShortString(), "err", err)
		}
	}

	// 3/4. re-TTL semantics: downgrade any previously Connected/
	// RecentlyConnected addresses to Temp before merging in the newly
	// offered set, preferring a valid signed record over the raw
	// listen-address list, then expire whatever is left at Temp.
	ttl := peerstore.RecentlyConnectedAddrTTL
	if connected {
		ttl = peerstore.ConnectedAddrTTL
	}

	ps.UpdateAddrs(remote, peerstore.RecentlyConnectedAddrTTL, peerstore.TempAddrTTL)
	ps.UpdateAddrs(remote, peerstore.ConnectedAddrTTL, peerstore.TempAddrTTL)

	usedRecord := false
	if len(msg.SignedPeerRecord) > 0 {
		if env, err := crypto.UnmarshalEnvelope(msg.SignedPeerRecord); err == nil {
			if ok, err := ps.ConsumePeerRecord(env, ttl); err == nil && ok {
				usedRecord = true
			} else if err != nil {
				logger.Warnw("rejected signed peer record", "peer", remote.ShortString(), "err", err)
			}
		} else {
			logger.Warnw("failed to parse signed peer record envelope", "peer", remote.ShortString(), "err", err)
		}
	}
	if !usedRecord {
		var resolved []multiaddr.Multiaddr
		for _, raw := range msg.ListenAddrs {
			a, err := multiaddr.NewMultiaddrBytes(raw)
			if err != nil {
				logger.Warnw("skipping unparseable listen address", "peer", remote.ShortString(), "err", err)
				continue
			}
			resolved = append(resolved, a)
		}
		filtered := filterByReachability(conn.RemoteMultiaddr(), resolved)
		ps.AddAddrs(remote, filtered, ttl)
	}

	ps.UpdateAddrs(remote, peerstore.TempAddrTTL, 0)

	// 5. version metadata.
	if msg.ProtocolVersion != "" {
		_ = ps.Put(remote, "ProtocolVersion", msg.ProtocolVersion)
	}
	if msg.AgentVersion != "" {
		_ = ps.Put(remote, "AgentVersion", msg.AgentVersion)
	}

	// 6. public key.
	if len(msg.PublicKey) > 0 {
		if pub, err := crypto.UnmarshalPublicKeyBytes(msg.PublicKey); err == nil {
			if !crypto.MatchesPublicKey(remote, pub) {
				logger.Errorw("remote public key does not derive the connection's peer id", "peer", remote.ShortString())
			} else if existing, err := ps.RemoteIdentity(remote); err != nil || existing == nil {
				_ = ps.AddRemoteIdentity(remote, pub)
			} else if !existing.Equals(pub) {
				logger.Errorw("remote offered a different public key than previously stored; keeping the original", "peer", remote.ShortString())
			}
		} else {
			logger.Warnw("failed to parse remote public key", "peer", remote.ShortString(), "err", err)
		}
	}
}

func publishProtocolsUpdated(bus interfaces.EventBus, p types.PeerID, added, removed []types.ProtocolID) {
	if bus == nil {
		return
	}
	em, err := bus.Emitter(new(types.EvtPeerProtocolsUpdated))
	if err != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(types.EvtPeerProtocolsUpdated{Peer: p, Added: added, Removed: removed})
}

package peerstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func genIdentity(t *testing.T) (crypto.PrivateKey, types.PeerID) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPrivateKey(priv)
	require.NoError(t, err)
	return priv, id
}

func TestNewWithoutOptionsUsesInMemoryStore(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	require.NotNil(t, ps)
}

func TestPeerstoreComposesAddrBookProtoBookMetadata(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	_, id := genIdentity(t)

	ps.AddAddr(id, mustAddr(t, "/ip4/1.2.3.4/tcp/4001"), time.Minute)
	ps.AddProtocols(id, "/a/1.0.0")
	require.NoError(t, ps.Put(id, "agent", "go-meshlayer/0.1.0"))

	require.Len(t, ps.Addrs(id), 1)
	require.Equal(t, []types.ProtocolID{"/a/1.0.0"}, ps.GetProtocols(id))
	v, err := ps.Get(id, "agent")
	require.NoError(t, err)
	require.Equal(t, "go-meshlayer/0.1.0", v)
}

func TestPeersReturnsUnionAcrossSubStores(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	_, p1 := genIdentity(t)
	_, p2 := genIdentity(t)
	_, p3 := genIdentity(t)

	ps.AddAddr(p1, mustAddr(t, "/ip4/1.2.3.4/tcp/4001"), time.Minute)
	ps.AddProtocols(p2, "/a/1.0.0")
	require.NoError(t, ps.Put(p3, "k", "v"))

	require.ElementsMatch(t, []types.PeerID{p1, p2, p3}, ps.Peers())
}

func TestRemovePeerDropsProtocolsMetadataAndMetricsButNotAddrs(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	_, id := genIdentity(t)

	ps.AddAddr(id, mustAddr(t, "/ip4/1.2.3.4/tcp/4001"), time.Hour)
	ps.AddProtocols(id, "/a/1.0.0")
	require.NoError(t, ps.Put(id, "k", "v"))
	ps.RecordLatency(id, 10*time.Millisecond)

	ps.RemovePeer(id)

	require.Empty(t, ps.GetProtocols(id))
	_, err = ps.Get(id, "k")
	require.Error(t, err)
	require.Zero(t, ps.LatencyEWMA(id))
	require.Len(t, ps.Addrs(id), 1, "address book entries survive RemovePeer, expiring only by TTL")
}

func TestKeyBookThroughFacade(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	priv, id := genIdentity(t)

	require.NoError(t, ps.AddLocalIdentity(id, priv))
	got, err := ps.LocalIdentity(id)
	require.NoError(t, err)
	require.True(t, got.Equals(priv))
}

func TestConsumePeerRecordThroughFacade(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)
	priv, id := genIdentity(t)
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	rec := &crypto.PeerRecord{PeerID: id, Seq: 1, Addrs: [][]byte{addr.Bytes()}}
	env, err := crypto.Seal(priv, crypto.PeerRecordPayloadType, rec.Marshal())
	require.NoError(t, err)

	applied, err := ps.ConsumePeerRecord(env, time.Minute)
	require.NoError(t, err)
	require.True(t, applied)
	require.NotNil(t, ps.GetPeerRecord(id))
}

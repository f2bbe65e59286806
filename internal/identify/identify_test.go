package identify

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	in := &Message{
		ProtocolVersion:  "meshlayer/1.0.0",
		AgentVersion:     "go-meshlayer/0.1.0",
		PublicKey:        []byte{1, 2, 3},
		ListenAddrs:      [][]byte{{4, 5}, {6, 7, 8}},
		ObservedAddr:     []byte{9, 9},
		Protocols:        []string{"/a/1.0.0", "/b/1.0.0"},
		SignedPeerRecord: []byte{10, 11, 12, 13},
	}
	data, err := in.Marshal()
	require.NoError(t, err)

	out := &Message{}
	require.NoError(t, out.Unmarshal(data))
	require.True(t, in.equalIgnoringSequence(out))
}

func TestMessageUnmarshalSkipsUnknownFields(t *testing.T) {
	// field 7 doesn't exist in this wire format; it should be skipped
	// rather than rejected, for forward compatibility.
	m := &Message{ProtocolVersion: "v1"}
	data, err := m.Marshal()
	require.NoError(t, err)

	unknown := appendStringField(nil, 7, "future-field")
	data = append(data, unknown...)

	out := &Message{}
	require.NoError(t, out.Unmarshal(data))
	require.Equal(t, "v1", out.ProtocolVersion)
}

func TestWriteChunkedSingleFrameUnderLegacySize(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{ProtocolVersion: "v1", AgentVersion: "a1"}
	require.NoError(t, writeChunked(&buf, msg))

	got, err := readChunked(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.True(t, msg.equalIgnoringSequence(got))
}

func TestWriteChunkedSplitsSignedPeerRecord(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{
		ProtocolVersion:  "v1",
		SignedPeerRecord: []byte(strings.Repeat("x", 100)),
	}
	require.NoError(t, writeChunked(&buf, msg))

	// two frames were written: the body, then the record alone.
	got, err := readChunked(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.True(t, msg.equalIgnoringSequence(got))
}

func TestReadChunkedRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	big := &Message{SignedPeerRecord: bytes.Repeat([]byte{0}, SignedIdSize+1)}
	require.NoError(t, writeMessage(&buf, big))

	_, err := readChunked(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestFilterByReachability(t *testing.T) {
	loopback := mustAddr(t, "/ip4/127.0.0.1/tcp/4001")
	private := mustAddr(t, "/ip4/192.168.1.5/tcp/4001")
	public := mustAddr(t, "/ip4/8.8.8.8/tcp/4001")
	candidates := []multiaddr.Multiaddr{loopback, private, public}

	fromLoopback := filterByReachability(loopback, candidates)
	require.Len(t, fromLoopback, 3)

	fromPrivate := filterByReachability(private, candidates)
	require.Len(t, fromPrivate, 2)
	for _, a := range fromPrivate {
		require.False(t, a.IsLoopback())
	}

	fromPublic := filterByReachability(public, candidates)
	require.Len(t, fromPublic, 1)
	require.True(t, fromPublic[0].IsPublic())
}

func TestObservedAddrManagerRequiresActivationThreshold(t *testing.T) {
	m := NewObservedAddrManager()
	local := mustAddr(t, "/ip4/0.0.0.0/tcp/4001")
	observed := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	for i := 0; i < activationThresh-1; i++ {
		m.Record(local, observed, types.PeerID(strings.Repeat(string(rune('a'+i)), 32)))
	}
	require.Empty(t, m.Reliable(local))

	m.Record(local, observed, types.PeerID(strings.Repeat("z", 32)))
	reliable := m.Reliable(local)
	require.Len(t, reliable, 1)
	require.Equal(t, observed.Bytes(), reliable[0].Bytes())
}

func TestSnapshotTrackerBumpsSequenceOnlyOnChange(t *testing.T) {
	tr := NewSnapshotTracker()
	var notified int
	tr.OnChange(func(*Snapshot) { notified++ })

	addrs := []multiaddr.Multiaddr{mustAddr(t, "/ip4/1.2.3.4/tcp/4001")}
	protos := []types.ProtocolID{"/a/1.0.0"}

	tr.Update("v1", "a1", nil, addrs, protos)
	require.Equal(t, 1, notified)
	require.Equal(t, uint64(1), tr.Current().Sequence)

	// identical content: no bump, no notification.
	tr.Update("v1", "a1", nil, addrs, protos)
	require.Equal(t, 1, notified)
	require.Equal(t, uint64(1), tr.Current().Sequence)

	// changed content: bump and notify.
	tr.Update("v1", "a2", nil, addrs, protos)
	require.Equal(t, 2, notified)
	require.Equal(t, uint64(2), tr.Current().Sequence)
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"seedmesh/net/transport"
	"seedmesh/peerid"
	"seedmesh/swarm/protocol"

	"github.com/stretchr/testify/require"
)

// replyWith serves every request with resp until the test ends.
func replyWith(t *testing.T, resp *protocol.Response) peerid.PeerID {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := transport.HandlerFunc(func(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error) {
		return resp, nil
	})
	srv := transport.NewServer(l, h, transport.Options{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return peerid.New("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
}

var self = peerid.New("127.0.0.1", 5001)

func TestAcksAreChecked(t *testing.T) {
	c := New(time.Second)
	ctx := context.Background()

	ack := replyWith(t, protocol.OK(protocol.MessageAck))
	connected := replyWith(t, protocol.OK(protocol.MessageConnected))
	pong := replyWith(t, protocol.OK(protocol.MessagePong))

	require.NoError(t, c.Register(ctx, ack, self))
	require.NoError(t, c.Connect(ctx, connected, self))
	require.NoError(t, c.Ping(ctx, pong, self))

	// The wrong ack text is a rejection, not a success.
	require.ErrorIs(t, c.Register(ctx, connected, self), ErrRejected)
	require.ErrorIs(t, c.Connect(ctx, ack, self), ErrRejected)
	require.ErrorIs(t, c.Ping(ctx, ack, self), ErrRejected)
}

func TestRemoteErrorIsReturned(t *testing.T) {
	c := New(time.Second)
	seed := replyWith(t, protocol.Errorf("no"))

	err := c.Heartbeat(context.Background(), seed, self, 0)
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
}

func TestUnreachablePeer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gone := peerid.New("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	c := New(500 * time.Millisecond)
	require.Error(t, c.Ping(context.Background(), gone, self))
	require.Error(t, c.Gossip(context.Background(), gone, "x"))
}

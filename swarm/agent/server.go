package agent

import (
	"context"
	"errors"
	"fmt"
	"net"

	"seedmesh/net/transport"
	"seedmesh/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnsupported = errors.New("unsupported request for a peer")
	ErrSelfConnect = errors.New("connect from own address")
)

var _ transport.Handler = (*Agent)(nil)

// Handle dispatches one peer-facing request.
func (a *Agent) Handle(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error) {
	resp, err := a.dispatch(ctx, msg)

	status := protocol.StatusOK
	if err != nil {
		status = protocol.StatusError
	}
	a.Metrics.Requests.WithLabelValues(msg.Kind().String(), status).Inc()

	return resp, err
}

func (a *Agent) dispatch(ctx context.Context, msg protocol.Message) (*protocol.Response, error) {
	switch m := msg.(type) {
	case *protocol.Connect:
		return a.connect(m)
	case *protocol.Ping:
		// An unknown prober is still answered.
		if !m.From.IsZero() {
			a.Table.RecordSuccess(m.From)
		}
		return protocol.OK(protocol.MessagePong), nil
	case *protocol.Gossip:
		a.Gossip.Receive(ctx, m.Payload)
		return nil, nil
	case *protocol.Register, *protocol.GetPeers, *protocol.Heartbeat, *protocol.DeadNode, *protocol.Response:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, msg.Kind())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, msg)
	}
}

// connect accepts the requester as a neighbor. The edge is symmetric: the
// requester adds us when it sees the ack, so no second handshake is made.
func (a *Agent) connect(m *protocol.Connect) (*protocol.Response, error) {
	if m.Peer == a.Self {
		return nil, ErrSelfConnect
	}

	if a.Table.Add(m.Peer) {
		log.WithField("peer", m.Peer.String()).Info("Server.Connect: new inbound neighbor")
	}
	a.Builder.Bump(m.Peer)

	return protocol.OK(protocol.MessageConnected), nil
}

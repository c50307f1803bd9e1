package registry

import (
	"context"
	"errors"
	"fmt"
	"net"

	"seedmesh/net/transport"
	"seedmesh/peerid"
	"seedmesh/swarm/protocol"
)

var ErrUnsupported = errors.New("unsupported request for a seed")

var _ transport.Handler = (*Registry)(nil)

// Handle dispatches one seed-facing request.
func (r *Registry) Handle(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error) {
	resp, err := r.dispatch(msg)

	status := protocol.StatusOK
	if err != nil {
		status = protocol.StatusError
	}
	r.metrics.Requests.WithLabelValues(msg.Kind().String(), status).Inc()

	return resp, err
}

func (r *Registry) dispatch(msg protocol.Message) (*protocol.Response, error) {
	switch m := msg.(type) {
	case *protocol.Register:
		r.Register(m.Peer)
		return protocol.OK(protocol.MessageAck), nil
	case *protocol.GetPeers:
		return r.peersResponse(), nil
	case *protocol.Heartbeat:
		r.Heartbeat(m.Peer, m.Degree)
		return protocol.OK("heartbeat received"), nil
	case *protocol.DeadNode:
		r.ReportDead(m.Peer)
		return nil, nil
	case *protocol.Connect, *protocol.Ping, *protocol.Gossip, *protocol.Response:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, msg.Kind())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, msg)
	}
}

// peersResponse lists the members with their last reported degrees.
func (r *Registry) peersResponse() *protocol.Response {
	records := r.Records()
	resp := &protocol.Response{
		Status:  protocol.StatusOK,
		Peers:   make([]peerid.PeerID, 0, len(records)),
		Degrees: make([]int, 0, len(records)),
	}
	for _, rec := range records {
		resp.Peers = append(resp.Peers, rec.ID)
		resp.Degrees = append(resp.Degrees, rec.Degree)
	}
	return resp
}

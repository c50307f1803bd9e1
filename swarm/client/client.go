// Package client wraps every request of the protocol in a typed call.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seedmesh/net/transport"
	"seedmesh/peerid"
	"seedmesh/swarm/protocol"
)

var ErrRejected = errors.New("request rejected")

type Client struct {
	rpc *transport.Client
}

func New(timeout time.Duration) *Client {
	return &Client{rpc: transport.NewClient(timeout)}
}

// Seed-facing calls

func (c *Client) Register(ctx context.Context, seed, self peerid.PeerID) error {
	resp, err := c.rpc.Call(ctx, seed.String(), &protocol.Register{Peer: self})
	if err != nil {
		return err
	}
	if resp.Message != protocol.MessageAck {
		return fmt.Errorf("register with %s: %w: %q", seed, ErrRejected, resp.Message)
	}
	return nil
}

func (c *Client) GetPeers(ctx context.Context, seed peerid.PeerID) ([]peerid.PeerID, error) {
	peers, _, err := c.Members(ctx, seed)
	return peers, err
}

// Members lists the seed's members with the neighbor counts they last
// reported. Degrees is nil when the seed sent none.
func (c *Client) Members(ctx context.Context, seed peerid.PeerID) ([]peerid.PeerID, []int, error) {
	resp, err := c.rpc.Call(ctx, seed.String(), &protocol.GetPeers{})
	if err != nil {
		return nil, nil, err
	}
	return resp.Peers, resp.Degrees, nil
}

// Heartbeat refreshes self at seed and reports its neighbor count.
func (c *Client) Heartbeat(ctx context.Context, seed, self peerid.PeerID, degree int) error {
	_, err := c.rpc.Call(ctx, seed.String(), &protocol.Heartbeat{Peer: self, Degree: degree})
	return err
}

// ReportDead does not wait for the seed to process the report.
func (c *Client) ReportDead(ctx context.Context, seed, dead peerid.PeerID) error {
	return c.rpc.Send(ctx, seed.String(), &protocol.DeadNode{Peer: dead})
}

// Peer-facing calls

// Connect succeeds only on an explicit ack from peer.
func (c *Client) Connect(ctx context.Context, peer, self peerid.PeerID) error {
	resp, err := c.rpc.Call(ctx, peer.String(), &protocol.Connect{Peer: self})
	if err != nil {
		return err
	}
	if resp.Message != protocol.MessageConnected {
		return fmt.Errorf("connect to %s: %w: %q", peer, ErrRejected, resp.Message)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context, peer, self peerid.PeerID) error {
	resp, err := c.rpc.Call(ctx, peer.String(), &protocol.Ping{From: self})
	if err != nil {
		return err
	}
	if resp.Message != protocol.MessagePong {
		return fmt.Errorf("ping %s: %w: %q", peer, ErrRejected, resp.Message)
	}
	return nil
}

func (c *Client) Gossip(ctx context.Context, peer peerid.PeerID, payload string) error {
	return c.rpc.Send(ctx, peer.String(), &protocol.Gossip{Payload: payload})
}

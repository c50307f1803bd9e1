// Package transport carries one request and at most one response per TCP
// connection.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"seedmesh/net/wirecodec"
	"seedmesh/swarm/protocol"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 5 * time.Second

// Handler serves one decoded request. A nil response with a nil error
// means the request kind takes no reply. A non-nil error is sent back as
// a protocol error.
type Handler interface {
	Handle(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error)
}

type HandlerFunc func(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, remote net.Addr, msg protocol.Message) (*protocol.Response, error) {
	return f(ctx, remote, msg)
}

type Options struct {
	// Timeout bounds the whole exchange on one connection.
	Timeout time.Duration
	// MaxConns caps connections being served at once. 0 means unbounded.
	MaxConns int
	// AcceptRate limits accepted connections per second. 0 means unlimited.
	AcceptRate  float64
	AcceptBurst int
}

type Server struct {
	listener net.Listener
	handler  Handler
	timeout  time.Duration
	limiter  *rate.Limiter
	conns    sync.WaitGroup
}

func NewServer(listener net.Listener, handler Handler, opts Options) *Server {
	srv := &Server{
		listener: listener,
		handler:  handler,
		timeout:  opts.Timeout,
	}
	if srv.timeout <= 0 {
		srv.timeout = DefaultTimeout
	}
	if opts.MaxConns > 0 {
		srv.listener = netutil.LimitListener(listener, opts.MaxConns)
	}
	if opts.AcceptRate > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), max(opts.AcceptBurst, 1))
	}
	return srv
}

func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Serve accepts until ctx is cancelled, then waits for in-flight
// connections to finish before returning.
func (srv *Server) Serve(ctx context.Context) error {
	defer srv.conns.Wait()

	// Closing the listener unblocks Accept.
	stop := context.AfterFunc(ctx, func() {
		log.Infof("transport.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("transport.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	})
	defer stop()

	var tempDelay time.Duration
	for {
		if srv.limiter != nil {
			if err := srv.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		rw, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("transport.Server: listener %s shut down", srv.listener.Addr())
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.Errorf("transport.Server: listener %s closed underneath. Server stopping.", srv.listener.Addr())
				return err
			}

			// Anything else (timeouts, EMFILE, aborted handshakes) is
			// retried with backoff.
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			log.Warnf("transport.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(tempDelay):
			}
			continue
		}

		tempDelay = 0
		srv.conns.Add(1)
		go func() {
			defer srv.conns.Done()
			srv.serveConn(ctx, rw)
		}()
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr()
	if err := conn.SetDeadline(time.Now().Add(srv.timeout)); err != nil {
		log.Debugf("transport.Server: set deadline for %s: %v", remote, err)
	}

	msg, err := wirecodec.Read(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debugf("transport.Server: %s closed without a request", remote)
			return
		}
		log.Warnf("transport.Server: rejecting request from %s: %v", remote, err)
		srv.reply(conn, protocol.Errorf("%v", err))
		return
	}

	resp, err := srv.call(ctx, remote, msg)
	if err != nil {
		log.Warnf("transport.Server: %s from %s failed: %v", msg.Kind(), remote, err)
		resp = protocol.Errorf("%v", err)
	}
	if resp == nil {
		return
	}
	srv.reply(conn, resp)
}

func (srv *Server) call(ctx context.Context, remote net.Addr, msg protocol.Message) (resp *protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("transport.Server: panic while handling %s from %s: %v", msg.Kind(), remote, r)
			resp, err = nil, fmt.Errorf("internal error handling %s", msg.Kind())
		}
	}()
	return srv.handler.Handle(ctx, remote, msg)
}

func (srv *Server) reply(conn net.Conn, resp *protocol.Response) {
	if err := wirecodec.Write(conn, resp); err != nil {
		log.Debugf("transport.Server: error writing response to %s: %v", conn.RemoteAddr(), err)
	}
}

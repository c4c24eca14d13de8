package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// LocalProxy implements spec.md §4.7: accept a client, run the
// appropriate negotiator, dial the remote proxy (retrying per config),
// frame the connection in a Cipher, send the AddrHeader, and relay.
type LocalProxy struct {
	Config   *Config
	Registry *ConnRegistry
	Log      *zap.SugaredLogger

	socks5 Socks5Negotiator
	http   HttpConnectNegotiator
}

func NewLocalProxy(cfg *Config, reg *ConnRegistry, logger *zap.SugaredLogger) *LocalProxy {
	connectTimeout := time.Duration(cfg.ConnectTimeoutSec) * time.Second
	return &LocalProxy{
		Config:   cfg,
		Registry: reg,
		Log:      logger,
		socks5:   Socks5Negotiator{ConnectTimeout: connectTimeout},
		http:     HttpConnectNegotiator{ConnectTimeout: connectTimeout},
	}
}

// ServeSocks5 accepts connections on ln and runs the SOCKS5 negotiator on
// each, until ln is closed.
func (p *LocalProxy) ServeSocks5(ln net.Listener) error {
	return p.acceptLoop(ln, func(c net.Conn) (NegotiationResult, error) {
		return p.socks5.Negotiate(c)
	}, nil)
}

// ServeHTTP accepts connections on ln and runs the HTTP-CONNECT/plain-HTTP
// negotiator on each, until ln is closed.
func (p *LocalProxy) ServeHTTP(ln net.Listener) error {
	return p.acceptLoop(ln, func(c net.Conn) (NegotiationResult, error) {
		return p.http.Negotiate(c)
	}, func(c net.Conn) error {
		return p.http.WriteConnectEstablished(c)
	})
}

func (p *LocalProxy) acceptLoop(ln net.Listener, negotiate func(net.Conn) (NegotiationResult, error), onTunnelUp func(net.Conn) error) error {
	for {
		client, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.Log.Warnw("accept failed", "error", err)
			continue
		}

		// Admission control (spec.md §4.7, §7 AdmissionDenied): reject
		// silently before any negotiation.
		conn, ok := p.Registry.Admit(client.RemoteAddr().String(), p.Config.MaxConnections)
		if !ok {
			p.Log.Infow("admission denied: max_connections reached", "client", client.RemoteAddr())
			client.Close()
			continue
		}

		go p.handle(client, conn, negotiate, onTunnelUp)
	}
}

func (p *LocalProxy) handle(client net.Conn, conn *Connection, negotiate func(net.Conn) (NegotiationResult, error), onTunnelUp func(net.Conn) error) {
	defer client.Close()
	defer p.Registry.Remove(conn)

	log := p.Log.With("conn_id", conn.ID, "client", conn.ClientAddr)
	conn.SetCloser(client)

	result, err := negotiate(client)
	if err != nil {
		log.Debugw("negotiation failed", "error", err)
		return
	}
	conn.SetTarget(result.Host, result.Port)

	conn.SetState(StateConnecting)
	remote, err := p.dialRemoteWithRetry(log)
	if err != nil {
		log.Warnw("dial remote failed", "error", err)
		return
	}
	defer remote.Close()
	conn.SetCloser(multiCloser{client, remote})

	cipher, err := NewCipher(p.Config.Password, p.Config.Method)
	if err != nil {
		log.Errorw("cipher init failed", "error", err)
		return
	}
	// Byte accounting happens at the Relay layer (spec.md §4.6), which
	// counts every direction exactly once regardless of which side is
	// framed; FramedStream's own Counter hook (spec.md §4.2) is left
	// unused here to avoid double-counting the encrypted side.
	framed := NewFramedStream(remote, cipher, nil)

	header, err := result.AddrHeader.Encode()
	if err != nil {
		log.Errorw("encode addr header failed", "error", err)
		return
	}
	if _, err := framed.Write(header); err != nil {
		log.Warnw("write addr header failed", "error", err)
		return
	}
	if len(result.LeadPayload) > 0 {
		if _, err := framed.Write(result.LeadPayload); err != nil {
			log.Warnw("write lead payload failed", "error", err)
			return
		}
	}

	// Only a CONNECT request gets a tunnel-up reply; a plain-HTTP request
	// travels on as LeadPayload and the origin's own response answers it.
	if onTunnelUp != nil && len(result.LeadPayload) == 0 {
		if err := onTunnelUp(client); err != nil {
			log.Warnw("tunnel-up reply failed", "error", err)
			return
		}
	}

	conn.SetState(StateRelaying)
	relay := Relay{IdleTimeout: time.Duration(p.Config.TimeoutSec) * time.Second, Counter: p.Registry.Counter(conn)}
	relay.Run(client, framed)
}

func (p *LocalProxy) dialRemoteWithRetry(log *zap.SugaredLogger) (net.Conn, error) {
	target := net.JoinHostPort(p.Config.ServerHost, fmt.Sprintf("%d", p.Config.ServerPort))
	connectTimeout := time.Duration(p.Config.ConnectTimeoutSec) * time.Second

	attempts := 1
	if p.Config.AutoReconnect {
		attempts = p.Config.RetryTimes + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Infow("retrying remote dial", "attempt", i+1, "target", target)
			time.Sleep(time.Duration(p.Config.RetryIntervalSec) * time.Second)
		}

		dialer := net.Dialer{Timeout: connectTimeout, Control: setSocketOptions}
		conn, err := dialer.Dial("tcp", target)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, target, lastErr)
}

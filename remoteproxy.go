package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// RemoteProxy implements spec.md §4.8: accept a framed connection, read
// the IV and AddrHeader, dial the real origin (optionally through the
// egress pool, SPEC_FULL.md §4.10), and relay. It performs no
// authentication beyond "decryption produced a sane AddrHeader"
// (spec.md §4.8).
type RemoteProxy struct {
	Config   *Config
	Registry *ConnRegistry
	Egress   *EgressPool
	Log      *zap.SugaredLogger
}

func NewRemoteProxy(cfg *Config, reg *ConnRegistry, egress *EgressPool, logger *zap.SugaredLogger) *RemoteProxy {
	return &RemoteProxy{Config: cfg, Registry: reg, Egress: egress, Log: logger}
}

// Serve accepts connections on ln until it is closed.
func (p *RemoteProxy) Serve(ln net.Listener) error {
	for {
		client, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.Log.Warnw("accept failed", "error", err)
			continue
		}

		conn, ok := p.Registry.Admit(client.RemoteAddr().String(), p.Config.MaxConnections)
		if !ok {
			p.Log.Infow("admission denied: max_connections reached", "client", client.RemoteAddr())
			client.Close()
			continue
		}

		go p.handle(client, conn)
	}
}

func (p *RemoteProxy) handle(client net.Conn, conn *Connection) {
	defer client.Close()
	defer p.Registry.Remove(conn)

	log := p.Log.With("conn_id", conn.ID, "client", conn.ClientAddr)
	conn.SetCloser(client)

	cipher, err := NewCipher(p.Config.Password, p.Config.Method)
	if err != nil {
		log.Errorw("cipher init failed", "error", err)
		return
	}
	// See localproxy.go: Relay does all byte accounting, so FramedStream's
	// own Counter hook is left unused here.
	framed := NewFramedStream(client, cipher, nil)

	client.SetDeadline(time.Now().Add(time.Duration(p.Config.ConnectTimeoutSec) * time.Second))
	header, err := DecodeAddrHeader(framed)
	if err != nil {
		// Garbled header — e.g. a password mismatch — is the rejection
		// signal (spec.md §4.8); log and close, no reply to the peer.
		log.Debugw("addr header rejected", "error", err)
		return
	}
	client.SetDeadline(time.Time{})

	conn.SetTarget(header.Host, header.Port)
	conn.SetState(StateConnecting)

	origin, err := p.dialOrigin(header)
	if err != nil {
		log.Warnw("dial origin failed", "error", err)
		return
	}
	defer origin.Close()
	conn.SetCloser(multiCloser{client, origin})

	conn.SetState(StateRelaying)
	relay := Relay{IdleTimeout: time.Duration(p.Config.TimeoutSec) * time.Second, Counter: p.Registry.Counter(conn)}
	relay.Run(framed, origin)
}

func (p *RemoteProxy) dialOrigin(header AddrHeader) (net.Conn, error) {
	target := net.JoinHostPort(header.Host, fmt.Sprintf("%d", header.Port))
	connectTimeout := time.Duration(p.Config.ConnectTimeoutSec) * time.Second

	dialer := net.Dialer{Timeout: connectTimeout, Control: setSocketOptions}
	if egressIP := p.Egress.Next(); egressIP != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: egressIP}
	}

	conn, err := dialer.Dial("tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, target, err)
	}
	return conn, nil
}

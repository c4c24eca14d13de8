package main

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// SOCKS5 protocol constants (RFC 1928), carried from the teacher's proxy.go.
const (
	socks5Version = 0x05

	authNone         = 0x00
	authNoAcceptable = 0xFF

	cmdConnect = 0x01

	repSuccess              = 0x00
	repCommandNotSupported  = 0x07
	repAddrTypeNotSupported = 0x08
)

// NegotiationResult is what a negotiator hands back to LocalProxy: the
// parsed target plus the AddrHeader record that LocalProxy encodes and
// forwards to the remote side, and any request bytes that must be replayed into the
// tunnel as the first payload (used by HttpConnectNegotiator's plain-HTTP
// path; always empty for SOCKS5).
type NegotiationResult struct {
	Host        string
	Port        uint16
	AddrHeader  AddrHeader
	LeadPayload []byte
}

// Socks5Negotiator implements spec.md §4.3: greeting, no-auth-only method
// selection, CONNECT-only request parsing, and the zero-filled BND reply.
type Socks5Negotiator struct {
	ConnectTimeout time.Duration
}

// Negotiate drives the handshake over conn. On success it has already sent
// the success reply; on failure it has sent the appropriate SOCKS5 error
// reply (where the protocol defines one) and the caller should close conn.
func (n Socks5Negotiator) Negotiate(conn net.Conn) (NegotiationResult, error) {
	deadline := time.Now().Add(n.ConnectTimeout)
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	// --- Greeting: VER | NMETHODS | METHODS... ---
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return NegotiationResult{}, ErrHandshakeTruncated
	}
	if hdr[0] != socks5Version {
		return NegotiationResult{}, ErrMalformedRequest
	}

	nmethods := int(hdr[1])
	if nmethods == 0 {
		return NegotiationResult{}, ErrMalformedRequest
	}
	methods := make([]byte, nmethods)
	if _, err := io.ReadFull(conn, methods); err != nil {
		return NegotiationResult{}, ErrHandshakeTruncated
	}

	hasNoAuth := false
	for _, m := range methods {
		if m == authNone {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		conn.Write([]byte{socks5Version, authNoAcceptable})
		return NegotiationResult{}, ErrMalformedRequest
	}
	if _, err := conn.Write([]byte{socks5Version, authNone}); err != nil {
		return NegotiationResult{}, err
	}

	// --- Request: VER | CMD | RSV | ATYP ---
	var reqHdr [4]byte
	if _, err := io.ReadFull(conn, reqHdr[:]); err != nil {
		return NegotiationResult{}, ErrHandshakeTruncated
	}
	if reqHdr[0] != socks5Version {
		return NegotiationResult{}, ErrMalformedRequest
	}
	if reqHdr[1] != cmdConnect {
		sendSocks5Reply(conn, repCommandNotSupported)
		return NegotiationResult{}, ErrUnsupportedCommand
	}

	atyp := reqHdr[3]
	var host string

	switch atyp {
	case atypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(conn, addr[:]); err != nil {
			return NegotiationResult{}, ErrHandshakeTruncated
		}
		host = net.IP(addr[:]).String()

	case atypDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return NegotiationResult{}, ErrHandshakeTruncated
		}
		if lenBuf[0] == 0 {
			sendSocks5Reply(conn, repAddrTypeNotSupported)
			return NegotiationResult{}, ErrUnsupportedAddrType
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return NegotiationResult{}, ErrHandshakeTruncated
		}
		host = string(domain)

	case atypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(conn, addr[:]); err != nil {
			return NegotiationResult{}, ErrHandshakeTruncated
		}
		host = net.IP(addr[:]).String()

	default:
		sendSocks5Reply(conn, repAddrTypeNotSupported)
		return NegotiationResult{}, ErrUnsupportedAddrType
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(conn, portBuf[:]); err != nil {
		return NegotiationResult{}, ErrHandshakeTruncated
	}
	port := binary.BigEndian.Uint16(portBuf[:])

	// Success reply: zero-filled BND address — the real egress happens on
	// the remote side and the client never learns it (spec.md §4.3 step 5).
	if err := sendSocks5Reply(conn, repSuccess); err != nil {
		return NegotiationResult{}, err
	}

	header := AddrHeader{ATYP: atyp, Host: host, Port: port}
	return NegotiationResult{Host: host, Port: port, AddrHeader: header}, nil
}

// sendSocks5Reply writes the 10-byte "VER REP RSV ATYP 0.0.0.0:0" reply.
func sendSocks5Reply(conn net.Conn, rep byte) error {
	buf := [10]byte{socks5Version, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(buf[:])
	return err
}

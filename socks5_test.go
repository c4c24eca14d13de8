package main

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func TestSocks5NegotiateIPv4Connect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	resultCh := make(chan NegotiationResult, 1)
	errCh := make(chan error, 1)
	go func() {
		n := Socks5Negotiator{ConnectTimeout: 2 * time.Second}
		res, err := n.Negotiate(server)
		resultCh <- res
		errCh <- err
	}()

	// Greeting: version 5, one method, no-auth.
	client.Write([]byte{0x05, 0x01, 0x00})
	greetReply := make([]byte, 2)
	io.ReadFull(client, greetReply)
	if greetReply[0] != 0x05 || greetReply[1] != 0x00 {
		t.Fatalf("unexpected greeting reply: % x", greetReply)
	}

	// CONNECT request to 93.184.216.34:80.
	req := []byte{0x05, 0x01, 0x00, atypIPv4, 93, 184, 216, 34, 0x00, 0x50}
	client.Write(req)

	reply := make([]byte, 10)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply[1] != repSuccess {
		t.Fatalf("expected success reply, got REP=0x%02x", reply[1])
	}

	res := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("Negotiate returned error: %v", err)
	}
	if res.Host != "93.184.216.34" {
		t.Errorf("got host %q want 93.184.216.34", res.Host)
	}
	if res.Port != 80 {
		t.Errorf("got port %d want 80", res.Port)
	}
	if res.AddrHeader.ATYP != atypIPv4 {
		t.Errorf("got ATYP 0x%02x want 0x%02x", res.AddrHeader.ATYP, atypIPv4)
	}
}

func TestSocks5NegotiateDomain(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	resultCh := make(chan NegotiationResult, 1)
	errCh := make(chan error, 1)
	go func() {
		n := Socks5Negotiator{ConnectTimeout: 2 * time.Second}
		res, err := n.Negotiate(server)
		resultCh <- res
		errCh <- err
	}()

	client.Write([]byte{0x05, 0x01, 0x00})
	greetReply := make([]byte, 2)
	io.ReadFull(client, greetReply)

	host := "example.com"
	req := []byte{0x05, 0x01, 0x00, atypDomain, byte(len(host))}
	req = append(req, host...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, 443)
	req = append(req, portBuf...)
	client.Write(req)

	reply := make([]byte, 10)
	io.ReadFull(client, reply)

	res := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("Negotiate returned error: %v", err)
	}
	if res.Host != host {
		t.Errorf("got host %q want %q", res.Host, host)
	}
	if res.Port != 443 {
		t.Errorf("got port %d want 443", res.Port)
	}
}

func TestSocks5NegotiateRejectsNonConnectCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		n := Socks5Negotiator{ConnectTimeout: 2 * time.Second}
		_, err := n.Negotiate(server)
		errCh <- err
	}()

	client.Write([]byte{0x05, 0x01, 0x00})
	greetReply := make([]byte, 2)
	io.ReadFull(client, greetReply)

	// BIND (0x02) instead of CONNECT; the negotiator rejects as soon as it
	// reads the 4-byte request header, before reading any address bytes, so
	// only write that much (net.Pipe's Write blocks until every byte given
	// to it has been read by the peer).
	client.Write([]byte{0x05, 0x02, 0x00, atypIPv4})

	reply := make([]byte, 10)
	io.ReadFull(client, reply)
	if reply[1] != repCommandNotSupported {
		t.Fatalf("got REP=0x%02x want command-not-supported", reply[1])
	}
	if err := <-errCh; err != ErrUnsupportedCommand {
		t.Fatalf("got err %v want ErrUnsupportedCommand", err)
	}
}

func TestSocks5NegotiateNoAcceptableMethods(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errCh := make(chan error, 1)
	go func() {
		n := Socks5Negotiator{ConnectTimeout: 2 * time.Second}
		_, err := n.Negotiate(server)
		errCh <- err
	}()

	// Offer only username/password auth (0x02), no no-auth method.
	client.Write([]byte{0x05, 0x01, 0x02})
	reply := make([]byte, 2)
	io.ReadFull(client, reply)
	if reply[1] != authNoAcceptable {
		t.Fatalf("got method reply 0x%02x want no-acceptable", reply[1])
	}
	if err := <-errCh; err != ErrMalformedRequest {
		t.Fatalf("got err %v", err)
	}
}

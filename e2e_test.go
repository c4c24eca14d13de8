package main

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// startEchoOrigin starts a plain TCP listener that upper-cases whatever it
// reads back to the caller, standing in for "the real origin server" at the
// far end of the tunnel.
func startEchoOrigin(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen origin: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						out := make([]byte, n)
						for i, b := range buf[:n] {
							if b >= 'a' && b <= 'z' {
								b -= 'a' - 'A'
							}
							out[i] = b
						}
						if _, werr := c.Write(out); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// TestEndToEndSocks5ToOrigin exercises scenario 1 from spec.md §8: a SOCKS5
// client connects to LocalProxy, which tunnels through RemoteProxy to a real
// origin, end to end through both cipher directions.
func TestEndToEndSocks5ToOrigin(t *testing.T) {
	originLn := startEchoOrigin(t)
	defer originLn.Close()
	originHost, originPortStr, _ := net.SplitHostPort(originLn.Addr().String())
	originPort := mustAtoi(t, originPortStr)

	logger := zap.NewNop().Sugar()
	remoteReg := NewConnRegistry()
	remoteCfg := &Config{Password: "e2e-password", Method: MethodAES256CFB, ConnectTimeoutSec: 5, TimeoutSec: 5, MaxConnections: 10}
	remoteProxy := NewRemoteProxy(remoteCfg, remoteReg, nil, logger)
	remoteLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen remote: %v", err)
	}
	defer remoteLn.Close()
	go remoteProxy.Serve(remoteLn)

	remoteHost, remotePortStr, _ := net.SplitHostPort(remoteLn.Addr().String())
	remotePort := mustAtoi(t, remotePortStr)

	localReg := NewConnRegistry()
	localCfg := &Config{
		Password: "e2e-password", Method: MethodAES256CFB,
		ServerHost: remoteHost, ServerPort: remotePort,
		ConnectTimeoutSec: 5, TimeoutSec: 5, MaxConnections: 10,
	}
	localProxy := NewLocalProxy(localCfg, localReg, logger)
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	defer localLn.Close()
	go localProxy.ServeSocks5(localLn)

	client, err := net.Dial("tcp", localLn.Addr().String())
	if err != nil {
		t.Fatalf("dial local proxy: %v", err)
	}
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	greet := make([]byte, 2)
	if _, err := io.ReadFull(client, greet); err != nil {
		t.Fatalf("read greeting reply: %v", err)
	}

	req := []byte{0x05, 0x01, 0x00, atypIPv4}
	req = append(req, net.ParseIP(originHost).To4()...)
	req = append(req, byte(originPort>>8), byte(originPort))
	client.Write(req)

	reply := make([]byte, 10)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if reply[1] != repSuccess {
		t.Fatalf("expected success reply, got REP=0x%02x", reply[1])
	}

	if _, err := client.Write([]byte("hello tunnel\n")); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if line != "HELLO TUNNEL\n" {
		t.Fatalf("got %q want %q", line, "HELLO TUNNEL\n")
	}

	time.Sleep(50 * time.Millisecond)
	snap := localReg.Snapshot()
	if snap.TotalBytesOut == 0 {
		t.Error("expected nonzero bytes_out on the local registry after relaying")
	}
}

// TestEndToEndPasswordMismatchIsRejected exercises scenario 5: a local side
// and remote side with different passwords must fail the handshake, not
// silently relay garbage.
func TestEndToEndPasswordMismatchIsRejected(t *testing.T) {
	originLn := startEchoOrigin(t)
	defer originLn.Close()

	logger := zap.NewNop().Sugar()
	remoteReg := NewConnRegistry()
	remoteCfg := &Config{Password: "remote-side-password", Method: MethodAES256CFB, ConnectTimeoutSec: 1, TimeoutSec: 1, MaxConnections: 10}
	remoteProxy := NewRemoteProxy(remoteCfg, remoteReg, nil, logger)
	remoteLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen remote: %v", err)
	}
	defer remoteLn.Close()
	go remoteProxy.Serve(remoteLn)

	remoteHost, remotePortStr, _ := net.SplitHostPort(remoteLn.Addr().String())
	remotePort := mustAtoi(t, remotePortStr)

	localReg := NewConnRegistry()
	localCfg := &Config{
		Password: "local-side-password", Method: MethodAES256CFB,
		ServerHost: remoteHost, ServerPort: remotePort,
		ConnectTimeoutSec: 1, TimeoutSec: 1, MaxConnections: 10,
	}
	localProxy := NewLocalProxy(localCfg, localReg, logger)
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	defer localLn.Close()
	go localProxy.ServeSocks5(localLn)

	client, err := net.Dial("tcp", localLn.Addr().String())
	if err != nil {
		t.Fatalf("dial local proxy: %v", err)
	}
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	greet := make([]byte, 2)
	io.ReadFull(client, greet)

	originHost, originPortStr, _ := net.SplitHostPort(originLn.Addr().String())
	originPort := mustAtoi(t, originPortStr)
	req := []byte{0x05, 0x01, 0x00, atypIPv4}
	req = append(req, net.ParseIP(originHost).To4()...)
	req = append(req, byte(originPort>>8), byte(originPort))
	client.Write(req)

	reply := make([]byte, 10)
	io.ReadFull(client, reply)

	// The remote side decrypts the AddrHeader with the wrong key, gets
	// garbage, and closes without relaying; the client should observe its
	// end of the tunnel closing rather than getting an echoed reply.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte("this should never reach the origin\n")); err != nil {
		return // connection already torn down, which is also an acceptable outcome
	}
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected no echoed data on password mismatch, got %q", buf[:n])
	}
}

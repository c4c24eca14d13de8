package main

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// testCounter records every AddIn/AddOut call for assertions.
type testCounter struct {
	in, out int
}

func (c *testCounter) AddIn(n int)  { c.in += n }
func (c *testCounter) AddOut(n int) { c.out += n }

func TestFramedStreamRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCipher, err := NewCipher("shared-password", MethodAES256CFB)
	if err != nil {
		t.Fatalf("new client cipher: %v", err)
	}
	serverCipher, err := NewCipher("shared-password", MethodAES256CFB)
	if err != nil {
		t.Fatalf("new server cipher: %v", err)
	}

	clientCounter := &testCounter{}
	serverCounter := &testCounter{}
	clientStream := NewFramedStream(clientConn, clientCipher, clientCounter)
	serverStream := NewFramedStream(serverConn, serverCipher, serverCounter)

	payload := []byte("hello over the framed link")
	errCh := make(chan error, 1)
	go func() {
		_, err := clientStream.Write(payload)
		errCh <- err
	}()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("got %q want %q", buf, payload)
	}
	if clientCounter.out != len(payload) {
		t.Errorf("client AddOut: got %d want %d", clientCounter.out, len(payload))
	}
	if serverCounter.in != len(payload) {
		t.Errorf("server AddIn: got %d want %d", serverCounter.in, len(payload))
	}

	// Reverse direction: server's own IV is independent of the client's.
	reply := []byte("hello back")
	go func() {
		_, err := serverStream.Write(reply)
		errCh <- err
	}()
	replyBuf := make([]byte, len(reply))
	if _, err := io.ReadFull(clientStream, replyBuf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server write: %v", err)
	}
	if !bytes.Equal(replyBuf, reply) {
		t.Fatalf("got %q want %q", replyBuf, reply)
	}
}

func TestFramedStreamNilCounterIsSafe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCipher, _ := NewCipher("pw", MethodLegacyTable)
	serverCipher, _ := NewCipher("pw", MethodLegacyTable)

	clientStream := NewFramedStream(clientConn, clientCipher, nil)
	serverStream := NewFramedStream(serverConn, serverCipher, nil)

	payload := []byte("no counter wired")
	go clientStream.Write(payload)

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("got %q want %q", buf, payload)
	}
}

func TestFramedStreamTruncatedIVFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cipher, err := NewCipher("pw", MethodAES256CFB)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	stream := NewFramedStream(serverConn, cipher, nil)

	// spec.md §8: exactly 16 bytes of IV succeeds; 15 bytes then EOF must
	// surface as ErrHandshakeTruncated.
	go func() {
		clientConn.Write(make([]byte, 15))
		clientConn.Close()
	}()

	buf := make([]byte, 1)
	_, err = stream.Read(buf)
	if err != ErrHandshakeTruncated {
		t.Fatalf("got %v want ErrHandshakeTruncated", err)
	}
}

func TestFramedStreamDeadlinesPassThrough(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cipher, _ := NewCipher("pw", MethodAES256CFB)
	stream := NewFramedStream(clientConn, cipher, nil)

	if err := stream.SetDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
	buf := make([]byte, 1)
	_, err := stream.Read(buf)
	if err == nil {
		t.Fatal("expected a deadline-exceeded error")
	}
	_ = serverConn
}

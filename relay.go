package main

import (
	"io"
	"net"
	"sync"
	"time"
)

// relayBufSize is the per-direction buffer size mandated by spec.md §4.6.
const relayBufSize = 8 * 1024

// relayBufPool pools relay buffers, carried from the teacher's bufPool in
// proxy.go (there sized 32KiB for splice fallback; here fixed at the
// spec-mandated 8KiB since framed streams can't use splice).
var relayBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, relayBufSize)
		return &buf
	},
}

// halfCloser is implemented by both *net.TCPConn and *FramedStream; Relay
// uses it to propagate shutdown-write without tearing down the whole
// connection on a clean EOF from one side (spec.md §4.6).
type halfCloser interface {
	CloseWrite() error
}

// Relay implements spec.md §4.6's full-duplex pump: readiness-driven
// forwarding with an idle timeout, half-close propagation on clean EOF, and
// fail-fast teardown on any other error. a is the client-facing stream, b
// is the origin/tunnel-facing stream.
type Relay struct {
	IdleTimeout time.Duration
	Counter     Counter
}

// Run pumps bytes in both directions until both sides are drained or the
// idle timeout elapses, then closes both streams. It blocks until the
// relay is finished.
func (r Relay) Run(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.pump(b, a, r.Counter.AddOut)
	}()
	go func() {
		defer wg.Done()
		r.pump(a, b, r.Counter.AddIn)
	}()

	wg.Wait()
	a.Close()
	b.Close()
}

// pump copies from src to dst, extending src's read deadline by
// IdleTimeout before each read. On clean EOF it half-closes dst's write
// side and returns; when the read deadline expires it returns, ending only
// this direction; on a write error or any other read error it closes both
// streams and returns (fail-fast: spec.md §4.6 accepts that the opposite
// half may lose in-flight data).
func (r Relay) pump(dst net.Conn, src net.Conn, account func(int)) {
	bufp := relayBufPool.Get().(*[]byte)
	defer relayBufPool.Put(bufp)
	buf := *bufp

	for {
		if r.IdleTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(r.IdleTimeout))
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				src.Close()
				dst.Close()
				return
			}
			account(n)
		}
		if err != nil {
			if err == io.EOF {
				if hc, ok := dst.(halfCloser); ok {
					hc.CloseWrite()
				}
			} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				src.Close()
				dst.Close()
			}
			return
		}
	}
}

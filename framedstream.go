package main

import (
	"io"
	"net"
	"time"
)

// Counter receives byte counts as they cross a FramedStream, mapped onto a
// Connection's bytes_in/bytes_out (spec.md §4.2, §3).
type Counter interface {
	AddIn(n int)
	AddOut(n int)
}

// FramedStream wraps a net.Conn with a Cipher, implementing spec.md §4.2:
// the first outbound write prepends the local IV in the clear ahead of the
// ciphertext, the first inbound read withholds bytes from the caller until
// the peer IV has been consumed, and every subsequent read/write is a
// transparent encrypt/decrypt pass-through.
type FramedStream struct {
	conn    net.Conn
	cipher  Cipher
	counter Counter

	ivConsumed bool
}

// NewFramedStream wraps conn with cipher. counter may be nil to discard
// byte accounting (used by tests that don't care about Connection stats).
func NewFramedStream(conn net.Conn, c Cipher, counter Counter) *FramedStream {
	return &FramedStream{conn: conn, cipher: c, counter: counter}
}

// Write encrypts p and sends it, prepending the local IV ahead of the
// ciphertext on the very first call.
func (f *FramedStream) Write(p []byte) (int, error) {
	ciphertext := f.cipher.Encrypt(p)

	if iv := f.cipher.IVToSend(); iv != nil {
		if _, err := f.conn.Write(iv); err != nil {
			return 0, err
		}
	}

	n, err := f.conn.Write(ciphertext)
	if f.counter != nil && n > 0 {
		f.counter.AddOut(n)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Read consumes the peer IV (if not already consumed) before returning any
// plaintext to the caller, then decrypts in place.
func (f *FramedStream) Read(p []byte) (int, error) {
	if err := f.ensurePeerIV(); err != nil {
		return 0, err
	}

	n, err := f.conn.Read(p)
	if n > 0 {
		plain := f.cipher.Decrypt(p[:n])
		copy(p[:n], plain)
		if f.counter != nil {
			f.counter.AddIn(n)
		}
	}
	return n, err
}

func (f *FramedStream) ensurePeerIV() error {
	if f.ivConsumed || !f.cipher.NeedsPeerIV() {
		f.ivConsumed = true
		return nil
	}

	ivLen := f.cipher.IVLen()
	if ivLen == 0 {
		f.ivConsumed = true
		return nil
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(f.conn, iv); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrHandshakeTruncated
		}
		return err
	}
	if err := f.cipher.ConsumePeerIV(iv); err != nil {
		return err
	}
	f.ivConsumed = true
	return nil
}

// CloseWrite propagates a half-close to the underlying connection when it
// supports one (spec.md §4.6).
func (f *FramedStream) CloseWrite() error {
	if tc, ok := f.conn.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return nil
}

// CloseRead propagates a half-close read shutdown when supported.
func (f *FramedStream) CloseRead() error {
	if tc, ok := f.conn.(interface{ CloseRead() error }); ok {
		return tc.CloseRead()
	}
	return nil
}

// Close closes the underlying connection.
func (f *FramedStream) Close() error {
	return f.conn.Close()
}

// SetDeadline, SetReadDeadline, SetWriteDeadline pass through to the
// underlying connection so FramedStream can be driven by the same timeout
// discipline as a raw net.Conn (spec.md §5).
func (f *FramedStream) SetDeadline(t time.Time) error      { return f.conn.SetDeadline(t) }
func (f *FramedStream) SetReadDeadline(t time.Time) error  { return f.conn.SetReadDeadline(t) }
func (f *FramedStream) SetWriteDeadline(t time.Time) error { return f.conn.SetWriteDeadline(t) }

// LocalAddr and RemoteAddr expose the underlying connection's addresses.
func (f *FramedStream) LocalAddr() net.Addr  { return f.conn.LocalAddr() }
func (f *FramedStream) RemoteAddr() net.Addr { return f.conn.RemoteAddr() }

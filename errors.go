package main

import "errors"

// ErrBindFailed marks a listener-bind failure at startup (spec.md §7,
// exit code 2 per §6).
var ErrBindFailed = errors.New("bind failed")

// Negotiation and handshake errors (spec.md §7).
var (
	ErrHandshakeTruncated  = errors.New("handshake truncated")
	ErrUnsupportedCommand  = errors.New("socks5: unsupported command")
	ErrUnsupportedAddrType = errors.New("socks5: unsupported address type")
	ErrMalformedRequest    = errors.New("socks5: malformed request")
	ErrHeaderTooLarge      = errors.New("http: header exceeds 16KiB cap")
	ErrMalformedHTTP       = errors.New("http: malformed request")
	ErrDecryptGarbage      = errors.New("remote: unrecoverable address header")
	ErrAdmissionDenied     = errors.New("admission denied: max_connections reached")
	ErrDialFailed          = errors.New("dial failed")
)

package main

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Address type tags (spec.md §4.5, shared with SOCKS5 ATYP values).
const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// AddrHeader is the binary destination record sent from local to remote as
// the first plaintext bytes of a tunnel (spec.md §4.5):
//
//	ATYP (1B) | addr (var) | port (2B BE)
type AddrHeader struct {
	ATYP byte
	Host string // dotted IPv4, colon-form IPv6, or hostname, per ATYP
	Port uint16
}

// NewAddrHeaderFromTarget picks the ATYP for host the way the teacher's
// reply-encoding logic does (sendReply's IPv4-vs-IPv6 branch), generalized
// to also accept hostnames.
func NewAddrHeaderFromTarget(host string, port uint16) AddrHeader {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return AddrHeader{ATYP: atypIPv4, Host: v4.String(), Port: port}
		}
		return AddrHeader{ATYP: atypIPv6, Host: ip.String(), Port: port}
	}
	return AddrHeader{ATYP: atypDomain, Host: host, Port: port}
}

// Encode serializes the header to its wire form.
func (h AddrHeader) Encode() ([]byte, error) {
	switch h.ATYP {
	case atypIPv4:
		ip := net.ParseIP(h.Host)
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("addrheader: %q is not a valid IPv4 address", h.Host)
		}
		buf := make([]byte, 1+4+2)
		buf[0] = atypIPv4
		copy(buf[1:5], v4)
		binary.BigEndian.PutUint16(buf[5:7], h.Port)
		return buf, nil

	case atypIPv6:
		ip := net.ParseIP(h.Host)
		v6 := ip.To16()
		if v6 == nil || ip.To4() != nil {
			return nil, fmt.Errorf("addrheader: %q is not a valid IPv6 address", h.Host)
		}
		buf := make([]byte, 1+16+2)
		buf[0] = atypIPv6
		copy(buf[1:17], v6)
		binary.BigEndian.PutUint16(buf[17:19], h.Port)
		return buf, nil

	case atypDomain:
		if len(h.Host) == 0 || len(h.Host) > 255 {
			return nil, fmt.Errorf("addrheader: hostname length %d out of range (1-255)", len(h.Host))
		}
		buf := make([]byte, 1+1+len(h.Host)+2)
		buf[0] = atypDomain
		buf[1] = byte(len(h.Host))
		copy(buf[2:2+len(h.Host)], h.Host)
		binary.BigEndian.PutUint16(buf[2+len(h.Host):], h.Port)
		return buf, nil

	default:
		return nil, fmt.Errorf("addrheader: %w: atyp 0x%02x", ErrUnsupportedAddrType, h.ATYP)
	}
}

// DecodeAddrHeader reads one AddrHeader from r. Any malformed input
// (impossible ATYP, zero-length hostname) is reported as ErrDecryptGarbage,
// matching spec.md §4.8: the remote side treats a garbled header as the
// rejection signal, not a protocol error to diagnose further.
func DecodeAddrHeader(r byteReader) (AddrHeader, error) {
	var atypBuf [1]byte
	if _, err := readFull(r, atypBuf[:]); err != nil {
		return AddrHeader{}, err
	}

	switch atypBuf[0] {
	case atypIPv4:
		var addr [4]byte
		if _, err := readFull(r, addr[:]); err != nil {
			return AddrHeader{}, err
		}
		var portBuf [2]byte
		if _, err := readFull(r, portBuf[:]); err != nil {
			return AddrHeader{}, err
		}
		return AddrHeader{
			ATYP: atypIPv4,
			Host: net.IP(addr[:]).String(),
			Port: binary.BigEndian.Uint16(portBuf[:]),
		}, nil

	case atypDomain:
		var lenBuf [1]byte
		if _, err := readFull(r, lenBuf[:]); err != nil {
			return AddrHeader{}, err
		}
		if lenBuf[0] == 0 {
			return AddrHeader{}, ErrDecryptGarbage
		}
		domain := make([]byte, lenBuf[0])
		if _, err := readFull(r, domain); err != nil {
			return AddrHeader{}, err
		}
		var portBuf [2]byte
		if _, err := readFull(r, portBuf[:]); err != nil {
			return AddrHeader{}, err
		}
		return AddrHeader{
			ATYP: atypDomain,
			Host: string(domain),
			Port: binary.BigEndian.Uint16(portBuf[:]),
		}, nil

	case atypIPv6:
		var addr [16]byte
		if _, err := readFull(r, addr[:]); err != nil {
			return AddrHeader{}, err
		}
		var portBuf [2]byte
		if _, err := readFull(r, portBuf[:]); err != nil {
			return AddrHeader{}, err
		}
		return AddrHeader{
			ATYP: atypIPv6,
			Host: net.IP(addr[:]).String(),
			Port: binary.BigEndian.Uint16(portBuf[:]),
		}, nil

	default:
		return AddrHeader{}, ErrDecryptGarbage
	}
}

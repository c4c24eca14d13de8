package main

// Cipher is a keyed stream cipher instance driven strictly in byte order
// (spec.md §4.1). One instance backs exactly one FramedStream; cipher state
// is never shared between connections.
type Cipher interface {
	// Encrypt returns the ciphertext for buf in a newly allocated slice of
	// the same length (CFB/table ciphers are length-preserving); buf itself
	// is left unchanged. Must be called with the outgoing byte stream in
	// order.
	Encrypt(buf []byte) []byte

	// Decrypt returns the plaintext for buf in a newly allocated slice;
	// buf itself is left unchanged. Must be called with the incoming byte
	// stream in order.
	Decrypt(buf []byte) []byte

	// IVToSend returns the local IV exactly once; nil on every later call.
	// Returns nil immediately for ciphers with iv_len == 0 (legacy table).
	IVToSend() []byte

	// NeedsPeerIV reports whether the peer's IV has not yet been consumed.
	NeedsPeerIV() bool

	// ConsumePeerIV initializes the decrypt side from the peer's IV. Must
	// be called exactly once, with exactly IVLen() bytes, before the first
	// Decrypt call.
	ConsumePeerIV(iv []byte) error

	// IVLen is the number of plaintext bytes the peer IV occupies on the
	// wire (16 for AES-256-CFB, 0 for the legacy table cipher).
	IVLen() int
}

// NewCipher constructs a Cipher for the given password and method
// (spec.md §3 CipherSpec, §4.1).
func NewCipher(password string, method CipherMethod) (Cipher, error) {
	switch method {
	case MethodAES256CFB:
		return newAESCFBCipher(password)
	case MethodLegacyTable:
		return newTableCipher(password), nil
	default:
		return nil, errUnknownMethod(method)
	}
}

func errUnknownMethod(m CipherMethod) error {
	return &unknownMethodError{method: m}
}

type unknownMethodError struct {
	method CipherMethod
}

func (e *unknownMethodError) Error() string {
	return "cipher: unknown method " + string(e.method)
}

package qtls

//
// Crypto context / crypto pair (spec.md §4.2)
//

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// InitialSalt is the version-specific salt used to derive the Initial
// secrets from the client's destination connection ID (RFC 9001
// Appendix A), grounded on quiccrypto.go's computeSecrets.
var InitialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17,
	0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a,
}

const maxPNSize = 4

// ErrCrypto wraps packet-protection failures (spec.md §4.2 step 5,
// §7 CryptoError taxonomy).
type ErrCrypto struct {
	Reason string
}

func (e *ErrCrypto) Error() string { return fmt.Sprintf("qtls: %s", e.Reason) }

func newErrCrypto(reason string) error { return &ErrCrypto{Reason: reason} }

// CryptoContext holds the one-directional key material and AEAD for a
// single epoch: the packet-protection key/iv, the header-protection
// key, and the derived cipher.AEAD (spec.md §4.2).
type CryptoContext struct {
	suite CipherSuite
	aead  cipher.AEAD
	iv    []byte
	hpKey []byte
}

// NewCryptoContext derives (key, iv, hp) from secret via
// HKDF-Expand-Label with the "quic key"/"quic iv"/"quic hp" labels and
// builds the AEAD.
func NewCryptoContext(suite CipherSuite, secret []byte) (*CryptoContext, error) {
	key := hkdfExpandLabel(suite.Hash(), secret, "quic key", nil, suite.KeyLen())
	iv := hkdfExpandLabel(suite.Hash(), secret, "quic iv", nil, suite.IVLen())
	hpKey := hkdfExpandLabel(suite.Hash(), secret, "quic hp", nil, suite.KeyLen())

	aead, err := suite.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return &CryptoContext{suite: suite, aead: aead, iv: iv, hpKey: hpKey}, nil
}

// Overhead returns the AEAD authentication tag size this context adds
// to every encrypted payload, needed by the packet builder to compute
// a long header's length field before the payload is sealed.
func (c *CryptoContext) Overhead() int { return c.aead.Overhead() }

// packetNonce constructs the AEAD nonce: the IV XORed with the
// left-padded packet number (spec.md §4.2 step 4).
func (c *CryptoContext) packetNonce(packetNumber int64) []byte {
	nonce := make([]byte, len(c.iv))
	copy(nonce, c.iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(packetNumber >> (8 * i))
	}
	return nonce
}

// EncryptPayload AEAD-encrypts plaintext in place, associated with
// header (the fully-formed, not-yet-protected header bytes up to and
// including the packet number), appending the authentication tag.
func (c *CryptoContext) EncryptPayload(packetNumber int64, header, plaintext []byte) []byte {
	nonce := c.packetNonce(packetNumber)
	return c.aead.Seal(plaintext[:0], nonce, plaintext, header)
}

// DecryptPayload AEAD-decrypts ciphertext (payload plus tag), or
// returns ErrCrypto on authentication failure (spec.md §4.2 step 5).
func (c *CryptoContext) DecryptPayload(packetNumber int64, header, ciphertext []byte) ([]byte, error) {
	nonce := c.packetNonce(packetNumber)
	plaintext, err := c.aead.Open(ciphertext[:0], nonce, ciphertext, header)
	if err != nil {
		return nil, newErrCrypto("payload decryption failed")
	}
	return plaintext, nil
}

// SampleOffset returns the offset, relative to pnOffset, at which the
// header-protection sample begins (spec.md §4.2: MAX_PN_SIZE bytes
// into the ciphertext past the packet-number offset).
func SampleOffset(pnOffset int) int { return pnOffset + maxPNSize }

// RemoveHeaderProtection undoes header protection on a just-received
// packet in place: it flips the relevant low bits of firstByte and XORs
// the protected packet-number bytes, then returns the decoded
// pnLength (spec.md §4.2 steps 1-3).
func (c *CryptoContext) RemoveHeaderProtection(isLongHeader bool, firstByte *byte, pnBytes []byte, sample []byte) (pnLength int, err error) {
	mask, err := c.suite.HeaderProtectionMask(c.hpKey, sample)
	if err != nil {
		return 0, err
	}
	if isLongHeader {
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	pnLength = int(*firstByte&0x03) + 1
	for i := 0; i < pnLength; i++ {
		pnBytes[i] ^= mask[1+i]
	}
	return pnLength, nil
}

// ApplyHeaderProtection is the inverse of RemoveHeaderProtection,
// applied to an already AEAD-encrypted packet before it is sent.
func (c *CryptoContext) ApplyHeaderProtection(isLongHeader bool, firstByte *byte, pnBytes []byte, sample []byte) error {
	mask, err := c.suite.HeaderProtectionMask(c.hpKey, sample)
	if err != nil {
		return err
	}
	if isLongHeader {
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	for i := range pnBytes {
		pnBytes[i] ^= mask[1+i]
	}
	return nil
}

// CryptoPair holds the send and receive CryptoContext for one epoch on
// one endpoint (spec.md §4.2).
type CryptoPair struct {
	Send *CryptoContext
	Recv *CryptoContext
}

// NewInitialCryptoPair derives the Initial epoch's client/server
// secrets from the client's Initial destination connection ID, and
// builds the two CryptoContexts oriented for isClient (spec.md §4.2:
// "Initial keys derive from the client's initial destination CID via
// HKDF-Extract(salt=INITIAL_SALT, cid) and labels 'client in'/'server
// in'").
func NewInitialCryptoPair(destConnID []byte, isClient bool) (*CryptoPair, error) {
	suite := CipherSuiteAES128GCMSHA256
	initialSecret := hkdf.Extract(suite.Hash().New, destConnID, InitialSalt)

	clientSecret := hkdfExpandLabel(suite.Hash(), initialSecret, "client in", nil, suite.Hash().Size())
	serverSecret := hkdfExpandLabel(suite.Hash(), initialSecret, "server in", nil, suite.Hash().Size())

	sendSecret, recvSecret := serverSecret, clientSecret
	if isClient {
		sendSecret, recvSecret = clientSecret, serverSecret
	}

	send, err := NewCryptoContext(suite, sendSecret)
	if err != nil {
		return nil, err
	}
	recv, err := NewCryptoContext(suite, recvSecret)
	if err != nil {
		return nil, err
	}
	return &CryptoPair{Send: send, Recv: recv}, nil
}

// NewCryptoPair builds a CryptoPair for a non-Initial epoch from the
// two traffic secrets the TLS driver installed via its callback.
func NewCryptoPair(suite CipherSuite, sendSecret, recvSecret []byte) (*CryptoPair, error) {
	send, err := NewCryptoContext(suite, sendSecret)
	if err != nil {
		return nil, err
	}
	recv, err := NewCryptoContext(suite, recvSecret)
	if err != nil {
		return nil, err
	}
	return &CryptoPair{Send: send, Recv: recv}, nil
}

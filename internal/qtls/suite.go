// Package qtls implements the cryptographic packet-processing pipeline
// (spec.md §4.2) and the embedded, sans-I/O TLS 1.3 handshake driver
// (spec.md §4.3) that QUIC uses to bootstrap its per-epoch keys.
package qtls

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite identifies a TLS 1.3 / QUIC AEAD cipher suite (spec.md §4.2).
type CipherSuite uint16

const (
	CipherSuiteAES128GCMSHA256         CipherSuite = 0x1301
	CipherSuiteAES256GCMSHA384         CipherSuite = 0x1302
	CipherSuiteChaCha20Poly1305SHA256  CipherSuite = 0x1303
)

func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteAES128GCMSHA256:
		return "TLS_AES_128_GCM_SHA256"
	case CipherSuiteAES256GCMSHA384:
		return "TLS_AES_256_GCM_SHA384"
	case CipherSuiteChaCha20Poly1305SHA256:
		return "TLS_CHACHA20_POLY1305_SHA256"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint16(cs))
	}
}

// Hash returns the suite's transcript/HKDF hash function.
func (cs CipherSuite) Hash() crypto.Hash {
	if cs == CipherSuiteAES256GCMSHA384 {
		return crypto.SHA384
	}
	return crypto.SHA256
}

// KeyLen returns the AEAD key size: 16 bytes for AES-128, 32 for
// AES-256 and ChaCha20-Poly1305 (spec.md §4.2).
func (cs CipherSuite) KeyLen() int {
	if cs == CipherSuiteAES128GCMSHA256 {
		return 16
	}
	return 32
}

// IVLen is always 12 bytes for the suites we support.
func (cs CipherSuite) IVLen() int { return 12 }

// NewAEAD constructs the AEAD cipher.AEAD for this suite from a raw key.
func (cs CipherSuite) NewAEAD(key []byte) (cipher.AEAD, error) {
	switch cs {
	case CipherSuiteAES128GCMSHA256, CipherSuiteAES256GCMSHA384:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherSuiteChaCha20Poly1305SHA256:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("qtls: unsupported cipher suite %s", cs)
	}
}

// HeaderProtectionMask computes the 5-byte header protection mask for
// this suite given the hp key (KeyLen bytes) and ciphertext sample (spec.md
// §4.2): AES-ECB(hp, sample)[:5] for the AES suites, or
// ChaCha20(hp, counter=LE32(sample[0:4]), nonce=sample[4:16]) applied to
// five zero bytes for ChaCha20-Poly1305.
func (cs CipherSuite) HeaderProtectionMask(hpKey, sample []byte) ([5]byte, error) {
	var mask [5]byte
	if len(sample) != 16 {
		return mask, fmt.Errorf("qtls: header protection sample must be 16 bytes, got %d", len(sample))
	}
	switch cs {
	case CipherSuiteAES128GCMSHA256, CipherSuiteAES256GCMSHA384:
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return mask, err
		}
		var out [16]byte
		block.Encrypt(out[:], sample)
		copy(mask[:], out[:5])
		return mask, nil
	case CipherSuiteChaCha20Poly1305SHA256:
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce)
		if err != nil {
			return mask, err
		}
		c.SetCounter(counter)
		var zeros [5]byte
		c.XORKeyStream(mask[:], zeros[:])
		return mask, nil
	default:
		return mask, fmt.Errorf("qtls: unsupported cipher suite %s", cs)
	}
}

// newTranscriptHash returns a fresh hash.Hash for the suite's transcript
// hash, mirroring aioquic's KeySchedule which is parameterized per
// cipher suite's hash algorithm (AES_256_GCM_SHA384 uses SHA-384).
func (cs CipherSuite) newTranscriptHash() hasher {
	if cs == CipherSuiteAES256GCMSHA384 {
		return sha512.New384()
	}
	return sha256.New()
}

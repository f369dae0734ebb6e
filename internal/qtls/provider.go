package qtls

//
// Crypto provider (spec.md §6 "Crypto provider API")
//
// The provider API spec.md describes is deliberately narrow: HKDF,
// AEAD, AES-ECB/ChaCha20, and P-256 ECDH. CipherSuite and KeySchedule
// implement all of it directly against the Go standard library's
// crypto packages, and packet protection always goes through them.
// CryptoProvider is the seam a host can substitute; the TLS driver
// calls only its NewKeyExchange, and DefaultProvider is the one this
// module uses unless told otherwise.
//

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
)

// KeyExchange is the P-256 ECDH key exchange the TLS driver's
// key_share extension requires (spec.md §4.3 "SECP256R1 key share").
type KeyExchange interface {
	// PublicKey returns the uncompressed X9.62 encoding of the local
	// public point.
	PublicKey() []byte
	// SharedSecret computes the ECDH shared secret with the peer's
	// uncompressed X9.62-encoded public point.
	SharedSecret(peerPublicKey []byte) ([]byte, error)
}

// CryptoProvider is the host-supplied cryptographic backend: AEAD
// construction and ECDH key exchange (HKDF is not part of it). The TLS
// driver takes its key exchange from it; packet-protection AEADs and
// header protection are built by CipherSuite (see NewCryptoContext)
// and do not go through this interface.
type CryptoProvider interface {
	NewAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error)
	NewKeyExchange() (KeyExchange, error)
}

type defaultProvider struct{}

// DefaultProvider is the stdlib-backed CryptoProvider used unless a
// host supplies its own.
var DefaultProvider CryptoProvider = defaultProvider{}

func (defaultProvider) NewAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	return suite.NewAEAD(key)
}

func (defaultProvider) NewKeyExchange() (KeyExchange, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &p256KeyExchange{priv: priv}, nil
}

type p256KeyExchange struct {
	priv *ecdh.PrivateKey
}

func (k *p256KeyExchange) PublicKey() []byte {
	return k.priv.PublicKey().Bytes()
}

func (k *p256KeyExchange) SharedSecret(peerPublicKey []byte) ([]byte, error) {
	peer, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	return k.priv.ECDH(peer)
}

package qtls

//
// Key schedule (spec.md §4.3 "Key schedule", §9 "finish_clone")
//

import (
	"crypto"
	"encoding"
	"hash"

	"golang.org/x/crypto/hkdf"
)

// hasher is the subset of hash.Hash our transcript needs. sha256/sha512's
// concrete implementations additionally satisfy encoding.BinaryMarshaler
// and encoding.BinaryUnmarshaler, which clonableHash relies on to
// implement spec.md §9's "finish_clone()" without a generic New() hook.
type hasher = hash.Hash

// clonableHash pairs a live hasher with the factory that created it, so
// cloning never has to guess the concrete type.
type clonableHash struct {
	h       hash.Hash
	factory func() hash.Hash
}

func newClonableHash(factory func() hash.Hash) *clonableHash {
	return &clonableHash{h: factory(), factory: factory}
}

func (c *clonableHash) Write(p []byte) (int, error) { return c.h.Write(p) }

// Sum returns the digest of everything written so far, without
// mutating the live hasher (spec.md §9 "finish_clone").
func (c *clonableHash) Sum() []byte {
	marshaler := c.h.(encoding.BinaryMarshaler)
	state, err := marshaler.MarshalBinary()
	if err != nil {
		panic("qtls: failed to snapshot transcript hash: " + err.Error())
	}
	clone := c.factory()
	if err := clone.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic("qtls: failed to restore transcript hash snapshot: " + err.Error())
	}
	return clone.Sum(nil)
}

func (c *clonableHash) Size() int { return c.h.Size() }

// KeySchedule evolves a secret through the three TLS 1.3 key-schedule
// generations (early, handshake, master) and exposes a running
// transcript hash (spec.md §3 "KeySchedule", §4.3).
type KeySchedule struct {
	suite      CipherSuite
	secret     []byte
	generation int
	transcript *clonableHash
}

// NewKeySchedule creates a key schedule for suite, matching aioquic's
// KeySchedule.__init__: the running secret starts as digest-size zeros.
func NewKeySchedule(suite CipherSuite) *KeySchedule {
	ks := &KeySchedule{
		suite:      suite,
		transcript: newClonableHash(suite.newTranscriptHash),
	}
	ks.secret = make([]byte, ks.transcript.Size())
	return ks
}

// UpdateTranscript folds additional handshake-message bytes into the
// running transcript hash, in the order they were sent or received
// (spec.md §4.3 "Transcript hash is updated over every handshake
// message in the order sent/received").
func (ks *KeySchedule) UpdateTranscript(data []byte) {
	_, _ = ks.transcript.Write(data)
}

// TranscriptHash returns the current transcript digest without
// consuming the live hasher (the "finish_clone" pattern of spec.md §9).
func (ks *KeySchedule) TranscriptHash() []byte {
	return ks.transcript.Sum()
}

// Extract folds keyMaterial (nil for a zero-filled early/master round)
// into the schedule, applying the intervening "derived" extraction
// aioquic's KeySchedule.extract performs for every generation after the
// first.
func (ks *KeySchedule) Extract(keyMaterial []byte) {
	hashLen := ks.transcript.Size()
	if keyMaterial == nil {
		keyMaterial = make([]byte, hashLen)
	}
	if ks.generation > 0 {
		emptyHash := ks.suite.newTranscriptHash().Sum(nil)
		ks.secret = hkdfExpandLabel(ks.suite.Hash(), ks.secret, "derived", emptyHash, hashLen)
	}
	ks.generation++
	ks.secret = hkdfExtract(ks.suite.Hash(), ks.secret, keyMaterial)
}

// DeriveSecret derives a labelled traffic secret from the current
// running secret and transcript hash (e.g. "c hs traffic", "s ap
// traffic"), per spec.md §4.3.
func (ks *KeySchedule) DeriveSecret(label string) []byte {
	hashLen := ks.transcript.Size()
	return hkdfExpandLabel(ks.suite.Hash(), ks.secret, label, ks.TranscriptHash(), hashLen)
}

// hkdfExtract wraps HKDF-Extract, grounded on quiccrypto.go's
// computeSecrets (which calls hkdf.Extract directly) generalized to an
// arbitrary hash algorithm.
func hkdfExtract(h crypto.Hash, salt, ikm []byte) []byte {
	return hkdf.Extract(h.New, ikm, salt)
}

// hkdfExpandLabel implements HKDF-Expand-Label (RFC 8446 §7.1 /
// draft-ietf-quic-tls), grounded on quiccrypto.go's hkdfExpandLabel,
// generalized to an arbitrary output length and hash.
func hkdfExpandLabel(h crypto.Hash, secret []byte, label string, context []byte, length int) []byte {
	full := "tls13 " + label
	info := make([]byte, 0, 2+1+len(full)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	reader := hkdf.Expand(h.New, secret, info)
	if _, err := reader.Read(out); err != nil {
		panic("qtls: HKDF-Expand-Label failed: " + err.Error())
	}
	return out
}

package qtls

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// TestInitialCryptoPairVectors reproduces the RFC 9001 Appendix A
// client Initial key derivation (spec.md §9 seed scenario 6).
func TestInitialCryptoPairVectors(t *testing.T) {
	dcid := mustHex(t, "8394c8f03e515708")
	pair, err := NewInitialCryptoPair(dcid, true)
	if err != nil {
		t.Fatalf("NewInitialCryptoPair: %v", err)
	}

	wantKey := mustHex(t, "175257a31eb09dea9366d8bb79ad80ba")
	wantIV := mustHex(t, "6b26114b9cba2b63a9e8dd4f")

	if !bytes.Equal(pair.Send.iv, wantIV) {
		t.Errorf("client initial IV = %x, want %x", pair.Send.iv, wantIV)
	}

	// Re-derive the key directly to compare against the vector, since
	// CryptoContext does not expose the raw AEAD key once it has been
	// consumed into a cipher.AEAD.
	suite := CipherSuiteAES128GCMSHA256
	initialSecret := hkdfExtract(suite.Hash(), mustHex(t, "38762cf7f55934b34d179ae6a4c80cadccbb7f0a"), dcid)
	clientSecret := hkdfExpandLabel(suite.Hash(), initialSecret, "client in", nil, suite.Hash().Size())
	gotKey := hkdfExpandLabel(suite.Hash(), clientSecret, "quic key", nil, suite.KeyLen())
	if !bytes.Equal(gotKey, wantKey) {
		t.Errorf("client initial key = %x, want %x", gotKey, wantKey)
	}
}

func TestCryptoContextRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	ctx, err := NewCryptoContext(CipherSuiteAES128GCMSHA256, secret)
	if err != nil {
		t.Fatalf("NewCryptoContext: %v", err)
	}

	header := []byte{0xc3, 1, 2, 3, 4}
	plaintext := []byte("hello quic")

	ciphertext := ctx.EncryptPayload(7, header, append([]byte(nil), plaintext...))
	got, err := ctx.DecryptPayload(7, header, ciphertext)
	if err != nil {
		t.Fatalf("DecryptPayload: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestCryptoContextDecryptFailsOnTamper(t *testing.T) {
	secret := bytes.Repeat([]byte{0x24}, 32)
	ctx, err := NewCryptoContext(CipherSuiteAES128GCMSHA256, secret)
	if err != nil {
		t.Fatalf("NewCryptoContext: %v", err)
	}

	header := []byte{0xc3, 1, 2, 3, 4}
	ciphertext := ctx.EncryptPayload(1, header, []byte("payload"))
	ciphertext[0] ^= 0xff

	if _, err := ctx.DecryptPayload(1, header, ciphertext); err == nil {
		t.Fatal("expected decryption failure on tampered ciphertext")
	} else if _, ok := err.(*ErrCrypto); !ok {
		t.Fatalf("expected *ErrCrypto, got %T", err)
	}
}

func TestHeaderProtectionRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)
	ctx, err := NewCryptoContext(CipherSuiteAES128GCMSHA256, secret)
	if err != nil {
		t.Fatalf("NewCryptoContext: %v", err)
	}

	sample := bytes.Repeat([]byte{0x99}, 16)
	firstByte := byte(0xc3)
	pnBytes := []byte{0x00, 0x01, 0x02, 0x03}
	original := append([]byte(nil), pnBytes...)
	originalFirst := firstByte

	if err := ctx.ApplyHeaderProtection(true, &firstByte, pnBytes, sample); err != nil {
		t.Fatalf("ApplyHeaderProtection: %v", err)
	}
	if bytes.Equal(pnBytes, original) {
		t.Fatal("protection did not change packet-number bytes")
	}

	pnLength, err := ctx.RemoveHeaderProtection(true, &firstByte, pnBytes, sample)
	if err != nil {
		t.Fatalf("RemoveHeaderProtection: %v", err)
	}
	if firstByte != originalFirst {
		t.Errorf("first byte = %#x, want %#x", firstByte, originalFirst)
	}
	if !bytes.Equal(pnBytes[:pnLength], original[:pnLength]) {
		t.Errorf("recovered pn bytes = %x, want %x", pnBytes[:pnLength], original[:pnLength])
	}
}

package qtls

//
// 1-RTT key update (RFC 9001 §6, spec.md §4.6 "request_key_update()")
//

// UpdateTrafficSecret derives the next-generation 1-RTT traffic secret
// from the current one via the "quic ku" label, letting the QUIC
// connection roll its ONE_RTT CryptoPair without involving the TLS
// driver or the handshake transcript.
func UpdateTrafficSecret(suite CipherSuite, secret []byte) []byte {
	return hkdfExpandLabel(suite.Hash(), secret, "quic ku", nil, len(secret))
}

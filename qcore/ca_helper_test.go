package qcore

//
// Self-signed certificate generation for tests (adapted from the
// teacher's ca.go, itself derived from github.com/google/martian/v3
// under the Apache License, Version 2.0): trimmed to exactly what a
// qcore server needs — a DER certificate and its DER private key for
// [Config.Certificate] / [Config.PrivateKey] — dropping the classic
// crypto/tls.Config / CertPool helpers the original built for a MITM
// proxy, which qcore has no use for.
//

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

var testCAMaxSerialNumber = new(big.Int).Lsh(big.NewInt(1), 128)

// mustNewServerCertificate generates a self-signed RSA certificate and
// key for commonName, DER-encoded the way [Config.Certificate] and
// [Config.PrivateKey] expect.
func mustNewServerCertificate(t *testing.T, commonName string) (certDER, keyDER []byte) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	serial, err := rand.Int(rand.Reader, testCAMaxSerialNumber)
	if err != nil {
		t.Fatalf("rand.Int: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"qcore test"},
		},
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
	}
	if ip := net.ParseIP(commonName); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{commonName}
	}

	certDER, err = x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		t.Fatalf("x509.CreateCertificate: %v", err)
	}
	return certDER, x509.MarshalPKCS1PrivateKey(priv)
}

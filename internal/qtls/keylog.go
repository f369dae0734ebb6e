package qtls

//
// SSLKEYLOGFILE writer (spec.md §6 "secrets_log_file", SPEC_FULL §5)
//

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// KeyLogLabel names one of the four NSS key-log line labels QUIC TLS
// secrets are logged under.
type KeyLogLabel string

const (
	KeyLogClientHandshakeTrafficSecret KeyLogLabel = "QUIC_CLIENT_HANDSHAKE_TRAFFIC_SECRET"
	KeyLogServerHandshakeTrafficSecret KeyLogLabel = "QUIC_SERVER_HANDSHAKE_TRAFFIC_SECRET"
	KeyLogClientTrafficSecret0         KeyLogLabel = "QUIC_CLIENT_TRAFFIC_SECRET_0"
	KeyLogServerTrafficSecret0         KeyLogLabel = "QUIC_SERVER_TRAFFIC_SECRET_0"
)

// KeyLogWriter serializes traffic-secret installs to an
// SSLKEYLOGFILE-format sink, guarded by a mutex since secrets for both
// directions and epochs may be installed from the same driver pass.
type KeyLogWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewKeyLogWriter wraps out, or returns nil if out is nil: callers
// should treat a nil *KeyLogWriter as "logging disabled" and skip the
// call, matching Config.SecretsLogFile being unset.
func NewKeyLogWriter(out io.Writer) *KeyLogWriter {
	if out == nil {
		return nil
	}
	return &KeyLogWriter{out: out}
}

// Log writes one "LABEL CONNECTION_IDENTIFIER_HEX SECRET_HEX" line. The
// driver passes its DriverConfig.ConnectionIdentifier (usually the
// Initial destination CID) as connectionIdentifier, not the ClientHello
// random that NSS key logs conventionally put in that column.
func (w *KeyLogWriter) Log(label KeyLogLabel, connectionIdentifier, secret []byte) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%s %s %s\n", label, hex.EncodeToString(connectionIdentifier), hex.EncodeToString(secret))
	return err
}

package qcore

//
// Connection configuration (spec.md §6 "Connection configuration",
// SPEC_FULL.md §5 early-data supplements)
//

import (
	"io"

	"github.com/bassosimone/qcore/internal/qtls"
	"github.com/bassosimone/qcore/internal/wire"
)

// EarlyDataPolicy is the type of [Config.EarlyData]. The connection does
// not read that field: under either value it neither offers nor
// accepts 0-RTT data.
type EarlyDataPolicy int

const (
	// EarlyDataDisabled names the policy of never offering or accepting
	// 0-RTT.
	EarlyDataDisabled EarlyDataPolicy = iota

	// EarlyDataAllowed names the policy of offering/accepting 0-RTT
	// without replay protection; the connection does not act on it
	// (spec.md lists 0-RTT replay protection policy as a non-goal).
	EarlyDataAllowed
)

// Config bundles every construction-time knob of a [Connection].
type Config struct {
	// IsClient selects client or server handshake role.
	IsClient bool

	// ALPNProtocols are offered (client) or selected from (server), in
	// preference order.
	ALPNProtocols []string

	// SupportedVersions is the ordered list of draft/RFC version
	// numbers this endpoint understands, most preferred first. Defaults
	// to [DRAFT_20, DRAFT_19] when left empty.
	SupportedVersions []uint32

	// Certificate and PrivateKey are server-only: a DER certificate and
	// its matching private key, used to sign the TLS CertificateVerify.
	Certificate []byte
	PrivateKey  []byte

	// SecretsLogFile, when non-nil, receives SSLKEYLOGFILE-format lines
	// for every installed traffic secret.
	SecretsLogFile io.Writer

	// SessionTicket holds an opaque previously-issued ticket. The
	// connection does not read it: no ticket is presented and no
	// resumption is attempted.
	SessionTicket []byte

	// EarlyData selects an [EarlyDataPolicy]; the connection does not
	// read it.
	EarlyData EarlyDataPolicy

	// QUICLogger, when non-nil, is stored by the connection, which calls
	// no Emit on it, so it receives no trace events.
	QUICLogger QUICLogger

	// Logger receives operational log messages; defaults to
	// [NullLogger] when nil.
	Logger Logger

	// CryptoProvider supplies the TLS driver's ECDH key exchange;
	// packet-protection AEADs are built by the cipher suite and do not
	// go through it. Defaults to [qtls.DefaultProvider] when nil.
	CryptoProvider qtls.CryptoProvider

	// InitialMaxStreamDataLocal bounds how much a peer may send on any
	// single stream this endpoint is willing to buffer before the
	// stream-level flow-control limit kicks in.
	InitialMaxStreamDataLocal uint64

	// InitialMaxData bounds aggregate connection-level receive buffer.
	InitialMaxData uint64

	// InitialMaxStreamsBidi / InitialMaxStreamsUni cap the peer's
	// ability to open new streams of each type.
	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64

	// AckDelayExponent is advertised to the peer as the
	// ack_delay_exponent transport parameter. The ACK manager does not
	// read it (its ack timer is the fixed ackhandler.DefaultAckDelay,
	// 25ms), and the connection writes and reads the ACK frame's ACK
	// Delay field as plain microseconds, without scaling by it.
	AckDelayExponent uint64
}

func (c *Config) supportedVersions() []uint32 {
	if len(c.SupportedVersions) > 0 {
		return c.SupportedVersions
	}
	return []uint32{wire.VersionDraft20, wire.VersionDraft19}
}

func (c *Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &NullLogger{}
}

func (c *Config) cryptoProvider() qtls.CryptoProvider {
	if c.CryptoProvider != nil {
		return c.CryptoProvider
	}
	return qtls.DefaultProvider
}

const (
	defaultInitialMaxStreamDataLocal = 1 << 20 // 1 MiB
	defaultInitialMaxData            = 1 << 22 // 4 MiB
	defaultInitialMaxStreamsBidi     = 100
	defaultInitialMaxStreamsUni      = 100
)

func (c *Config) initialMaxStreamDataLocal() uint64 {
	if c.InitialMaxStreamDataLocal > 0 {
		return c.InitialMaxStreamDataLocal
	}
	return defaultInitialMaxStreamDataLocal
}

func (c *Config) initialMaxData() uint64 {
	if c.InitialMaxData > 0 {
		return c.InitialMaxData
	}
	return defaultInitialMaxData
}

func (c *Config) initialMaxStreamsBidi() uint64 {
	if c.InitialMaxStreamsBidi > 0 {
		return c.InitialMaxStreamsBidi
	}
	return defaultInitialMaxStreamsBidi
}

func (c *Config) initialMaxStreamsUni() uint64 {
	if c.InitialMaxStreamsUni > 0 {
		return c.InitialMaxStreamsUni
	}
	return defaultInitialMaxStreamsUni
}

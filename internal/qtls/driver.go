package qtls

//
// Sans-I/O TLS 1.3 handshake driver (spec.md §4.3)
//

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"hash"

	"github.com/bassosimone/qcore/internal/wire"
)

// DriverState is one state of the client or server handshake state
// machine (spec.md §4.3).
type DriverState int

const (
	StateHandshakeStart DriverState = iota
	StateExpectServerHello
	StateExpectEncryptedExtensions
	StateExpectCertificateOrCertificateRequest
	StateExpectCertificateVerify
	StateExpectFinished
	StateExpectClientHello // server side
	StatePostHandshake
)

func (s DriverState) String() string {
	switch s {
	case StateHandshakeStart:
		return "HANDSHAKE_START"
	case StateExpectServerHello:
		return "EXPECT_SERVER_HELLO"
	case StateExpectEncryptedExtensions:
		return "EXPECT_ENCRYPTED_EXTENSIONS"
	case StateExpectCertificateOrCertificateRequest:
		return "EXPECT_CERTIFICATE(_REQUEST)"
	case StateExpectCertificateVerify:
		return "EXPECT_CERTIFICATE_VERIFY"
	case StateExpectFinished:
		return "EXPECT_FINISHED"
	case StateExpectClientHello:
		return "EXPECT_CLIENT_HELLO"
	case StatePostHandshake:
		return "POST_HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes which side's traffic secret a callback
// invocation installs keys for.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// TrafficSecretCallback is invoked by the driver every time a new
// traffic secret is derived, so the owning QUIC connection can build
// the corresponding CryptoPair for the HANDSHAKE or ONE_RTT epoch
// (spec.md §4.3 "the QUIC connection uses this to set up the crypto
// pair"). Cyclic ownership is avoided by injecting this closure at
// construction rather than handing the connection a back-reference
// (spec.md §9).
type TrafficSecretCallback func(direction Direction, epoch wire.Epoch, suite CipherSuite, secret []byte)

// AlertError reports a fatal TLS alert raised during the handshake,
// mapped to CONNECTION_CLOSE per spec.md §7 ("CRYPTO_ERROR base
// 0x100 | tls_alert").
type AlertError struct {
	Alert  uint8
	Reason string
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("qtls: alert %d: %s", e.Alert, e.Reason)
}

const alertProtocolVersion = 70 // "No supported protocol version" maps to 326 = 0x100|70 in spec.md §4.3

// DriverConfig configures one side of the handshake driver.
type DriverConfig struct {
	IsClient          bool
	ServerName        string
	ALPNProtocols     []string
	SupportedVersions []uint16
	CipherSuites      []CipherSuite
	Certificate       []byte // server only, DER X.509
	PrivateKey        []byte // server only
	QUICTransportParameters []byte
	OnSecret          TrafficSecretCallback
	KeyLog            *KeyLogWriter
	ConnectionIdentifier []byte // for key-log lines, usually the Initial DCID

	// Provider supplies the ECDH key exchange (the driver does not call
	// its NewAEAD); defaults to DefaultProvider when nil.
	Provider CryptoProvider
}

// Driver is the sans-I/O TLS 1.3 client/server state machine described
// by spec.md §4.3: it consumes CRYPTO payload bytes and produces bytes
// to send plus traffic-secret installs, with no knowledge of QUIC
// packets, datagrams, or sockets.
type Driver struct {
	cfg   DriverConfig
	state DriverState

	suite CipherSuite
	ks    *KeySchedule

	keyExchange KeyExchange
	peerShare   []byte

	clientRandom [32]byte
	alpn         string

	// currentEpoch is the QUIC encryption level new output is tagged
	// with; it advances as the key schedule installs new write secrets
	// (spec.md §4.3: ClientHello/ServerHello at INITIAL, EncryptedExtensions
	// onward at HANDSHAKE).
	currentEpoch wire.Epoch

	pendingOut []epochChunk

	// recvBuf accumulates CRYPTO bytes until a full handshake message
	// header (type + 24-bit length) is available.
	recvBuf []byte

	// peerQUICTransportParams holds the raw TLV blob the peer offered:
	// client learns it from EncryptedExtensions, server from ClientHello.
	peerQUICTransportParams []byte

	// clientHSSecret/serverHSSecret are the handshake-traffic secrets
	// derived once in deriveHandshakeSecrets, kept around so Finished's
	// verify_data (RFC 8446 §4.4.4) can be computed against the fixed
	// secret that was current right after ServerHello, rather than
	// whatever DeriveSecret would recompute against a transcript hash
	// that has since moved past EncryptedExtensions/Certificate/
	// CertificateVerify.
	clientHSSecret []byte
	serverHSSecret []byte

	Done bool
}

// epochChunk is a contiguous run of handshake bytes produced while
// d.currentEpoch held one value.
type epochChunk struct {
	epoch wire.Epoch
	data  []byte
}

// queueOut appends data to the chunk for the current epoch, starting a
// new chunk when the epoch has changed since the last append.
func (d *Driver) queueOut(data []byte) {
	if n := len(d.pendingOut); n > 0 && d.pendingOut[n-1].epoch == d.currentEpoch {
		d.pendingOut[n-1].data = append(d.pendingOut[n-1].data, data...)
		return
	}
	d.pendingOut = append(d.pendingOut, epochChunk{epoch: d.currentEpoch, data: append([]byte(nil), data...)})
}

// EpochChunk is one contiguous span of CRYPTO-frame bytes destined for
// a single QUIC encryption level.
type EpochChunk struct {
	Epoch wire.Epoch
	Data  []byte
}

// DrainEpochs is like Drain but preserves the QUIC epoch boundary each
// chunk of output belongs to, letting the owning connection wrap each
// chunk in a CRYPTO frame at the right encryption level.
func (d *Driver) DrainEpochs() []EpochChunk {
	out := make([]EpochChunk, len(d.pendingOut))
	for i, c := range d.pendingOut {
		out[i] = EpochChunk{Epoch: c.epoch, Data: c.data}
	}
	d.pendingOut = nil
	return out
}

// NewDriver constructs a Driver for either side per cfg.IsClient. The
// client side immediately queues a ClientHello for Drain.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if len(cfg.CipherSuites) == 0 {
		cfg.CipherSuites = []CipherSuite{CipherSuiteAES128GCMSHA256}
	}
	if cfg.Provider == nil {
		cfg.Provider = DefaultProvider
	}
	d := &Driver{cfg: cfg, suite: cfg.CipherSuites[0]}
	d.ks = NewKeySchedule(d.suite)

	kx, err := cfg.Provider.NewKeyExchange()
	if err != nil {
		return nil, err
	}
	d.keyExchange = kx

	if cfg.IsClient {
		d.state = StateHandshakeStart
		if err := d.sendClientHello(); err != nil {
			return nil, err
		}
		d.state = StateExpectServerHello
	} else {
		d.state = StateExpectClientHello
	}
	return d, nil
}

// defaultSupportedVersions lists TLS 1.3 final and drafts 28/27/26, per
// spec.md §4.3 ("Supported versions offered: TLS 1.3 final and drafts
// 26/27/28").
var defaultSupportedVersions = []uint16{0x0304, 0x7f1c, 0x7f1b, 0x7f1a}

func (d *Driver) sendClientHello() error {
	if _, err := rand.Read(d.clientRandom[:]); err != nil {
		return err
	}
	versions := d.cfg.SupportedVersions
	if len(versions) == 0 {
		versions = defaultSupportedVersions
	}
	ch := &ClientHello{
		Random:            d.clientRandom,
		CipherSuites:      d.cfg.CipherSuites,
		SupportedVersions: versions,
		SignatureSchemes: []SignatureScheme{
			SignatureSchemeRSAPSSRSAESHA256,
			SignatureSchemeECDSASECP256R1SHA256,
			SignatureSchemeRSAPKCS1SHA256,
			SignatureSchemeRSAPKCS1SHA1,
		},
		SupportedGroups:     []NamedGroup{NamedGroupSECP256R1},
		ALPNProtocols:       d.cfg.ALPNProtocols,
		ServerName:          d.cfg.ServerName,
		QUICTransportParams: d.cfg.QUICTransportParameters,
		KeyShares: []KeyShareEntry{
			{Group: NamedGroupSECP256R1, KeyExchange: d.keyExchange.PublicKey()},
		},
	}
	msg := ch.Build()
	d.ks.UpdateTranscript(msg)
	d.queueOut(msg)
	return nil
}

// Drain returns and clears the bytes the driver wants written to the
// peer's CRYPTO stream, flattening across any epoch boundaries (use
// DrainEpochs when the caller needs to preserve those boundaries).
func (d *Driver) Drain() []byte {
	var out []byte
	for _, c := range d.pendingOut {
		out = append(out, c.data...)
	}
	d.pendingOut = nil
	return out
}

// State reports the current handshake state.
func (d *Driver) State() DriverState { return d.state }

// Feed ingests bytes received in CRYPTO frames (already reassembled in
// offset order by the caller) and drives the state machine forward as
// far as the accumulated bytes allow, producing output via Drain and
// installing keys via cfg.OnSecret.
func (d *Driver) Feed(data []byte) error {
	d.recvBuf = append(d.recvBuf, data...)
	for {
		typ, body, consumed, err := ParseHandshakeMessageHeader(d.recvBuf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil // wait for more bytes
		}
		raw := d.recvBuf[:consumed]
		d.recvBuf = d.recvBuf[consumed:]

		if err := d.handleMessage(typ, body, raw); err != nil {
			return err
		}
	}
}

func (d *Driver) handleMessage(typ HandshakeType, body, raw []byte) error {
	if d.cfg.IsClient {
		return d.handleMessageClient(typ, body, raw)
	}
	return d.handleMessageServer(typ, body, raw)
}

func (d *Driver) handleMessageClient(typ HandshakeType, body, raw []byte) error {
	switch d.state {
	case StateExpectServerHello:
		if typ != HandshakeTypeServerHello {
			return newErrTLSMessage("client: expected server hello")
		}
		sh, err := ParseServerHello(body)
		if err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		d.suite = sh.CipherSuite
		sharedSecret, err := d.keyExchange.SharedSecret(sh.KeyShare.KeyExchange)
		if err != nil {
			return err
		}
		if err := d.deriveHandshakeSecrets(sharedSecret); err != nil {
			return err
		}
		d.state = StateExpectEncryptedExtensions
		return nil

	case StateExpectEncryptedExtensions:
		if typ != HandshakeTypeEncryptedExtensions {
			return newErrTLSMessage("client: expected encrypted extensions")
		}
		ee, err := ParseEncryptedExtensions(body)
		if err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		d.alpn = ee.ALPNProtocol
		d.peerQUICTransportParams = ee.QUICTransportParams
		d.state = StateExpectCertificateOrCertificateRequest
		return nil

	case StateExpectCertificateOrCertificateRequest:
		if typ == HandshakeTypeCertificateRequest {
			d.ks.UpdateTranscript(raw)
			return nil
		}
		if typ != HandshakeTypeCertificate {
			return newErrTLSMessage("client: expected certificate")
		}
		if _, err := ParseCertificate(body); err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		d.state = StateExpectCertificateVerify
		return nil

	case StateExpectCertificateVerify:
		if typ != HandshakeTypeCertificateVerify {
			return newErrTLSMessage("client: expected certificate verify")
		}
		if _, err := ParseCertificateVerify(body); err != nil {
			return err
		}
		// Signature verification against the server's certificate is
		// delegated to the host (spec.md §6 treats certificate validation
		// as outside the sans-I/O core); the transcript still advances.
		d.ks.UpdateTranscript(raw)
		d.state = StateExpectFinished
		return nil

	case StateExpectFinished:
		if typ != HandshakeTypeFinished {
			return newErrTLSMessage("client: expected finished")
		}
		serverFinished, err := ParseFinished(body)
		if err != nil {
			return err
		}
		if err := d.verifyFinished(d.serverHSSecret, serverFinished.VerifyData); err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		// Built and queued under the still-current HANDSHAKE epoch before
		// finishHandshake() installs 1-RTT keys and advances currentEpoch:
		// the client's Finished is a Handshake-epoch CRYPTO frame even
		// though it is the last message sent at that level.
		clientFinished := (&Finished{VerifyData: d.finishedVerifyData(d.clientHSSecret)}).Build()
		d.queueOut(clientFinished)
		if err := d.finishHandshake(); err != nil {
			return err
		}
		return nil

	case StatePostHandshake:
		if typ == HandshakeTypeNewSessionTicket {
			_, err := ParseNewSessionTicket(body)
			return err
		}
		return newErrTLSMessage("client: unexpected post-handshake message")

	default:
		return newErrTLSMessage("client: message in unexpected state " + d.state.String())
	}
}

func (d *Driver) handleMessageServer(typ HandshakeType, body, raw []byte) error {
	switch d.state {
	case StateExpectClientHello:
		if typ != HandshakeTypeClientHello {
			return newErrTLSMessage("server: expected client hello")
		}
		ch, err := ParseClientHello(body)
		if err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		d.peerQUICTransportParams = ch.QUICTransportParams

		if !d.versionSupported(ch.SupportedVersions) {
			return &AlertError{Alert: alertProtocolVersion, Reason: "No supported protocol version"}
		}
		if len(ch.KeyShares) == 0 {
			return newErrTLSMessage("server: client hello missing key_share")
		}

		clientShare := ch.KeyShares[0].KeyExchange
		sharedSecret, err := d.keyExchange.SharedSecret(clientShare)
		if err != nil {
			return err
		}

		if err := d.sendServerHello(ch); err != nil {
			return err
		}
		if err := d.deriveHandshakeSecrets(sharedSecret); err != nil {
			return err
		}
		if err := d.sendServerFlight(ch); err != nil {
			return err
		}
		d.state = StateExpectFinished
		return nil

	case StateExpectFinished:
		if typ != HandshakeTypeFinished {
			return newErrTLSMessage("server: expected finished")
		}
		clientFinished, err := ParseFinished(body)
		if err != nil {
			return err
		}
		if err := d.verifyFinished(d.clientHSSecret, clientFinished.VerifyData); err != nil {
			return err
		}
		// Application secrets cover the transcript through the server's
		// Finished (RFC 8446 §7.1), the same point the client derives
		// them at, so the client's Finished is folded in afterwards.
		if err := d.finishHandshake(); err != nil {
			return err
		}
		d.ks.UpdateTranscript(raw)
		return nil

	default:
		return newErrTLSMessage("server: message in unexpected state " + d.state.String())
	}
}

func (d *Driver) versionSupported(offered []uint16) bool {
	accepted := d.cfg.SupportedVersions
	if len(accepted) == 0 {
		accepted = defaultSupportedVersions
	}
	for _, v := range offered {
		for _, a := range accepted {
			if v == a {
				return true
			}
		}
	}
	return false
}

func (d *Driver) sendServerHello(ch *ClientHello) error {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return err
	}
	sh := &ServerHello{
		Random:      random,
		CipherSuite: d.suite,
		KeyShare:    KeyShareEntry{Group: NamedGroupSECP256R1, KeyExchange: d.keyExchange.PublicKey()},
	}
	msg := sh.Build()
	d.ks.UpdateTranscript(msg)
	d.queueOut(msg)
	return nil
}

func (d *Driver) sendServerFlight(ch *ClientHello) error {
	ee := &EncryptedExtensions{QUICTransportParams: d.cfg.QUICTransportParameters}
	if len(ch.ALPNProtocols) > 0 && len(d.cfg.ALPNProtocols) > 0 {
		ee.ALPNProtocol = d.cfg.ALPNProtocols[0]
		d.alpn = ee.ALPNProtocol
	}
	msg := ee.Build()
	d.ks.UpdateTranscript(msg)
	d.queueOut(msg)

	// A real deployment always sends Certificate/CertificateVerify here;
	// this driver does too (even with an empty certificate payload when
	// none is configured) so the client-side state machine always sees
	// the same message sequence.
	cert := &Certificate{Entries: []CertificateEntry{{Data: d.cfg.Certificate}}}
	certMsg := cert.Build()
	d.ks.UpdateTranscript(certMsg)
	d.queueOut(certMsg)

	cv := &CertificateVerify{Scheme: SignatureSchemeECDSASECP256R1SHA256, Signature: d.signTranscript()}
	cvMsg := cv.Build()
	d.ks.UpdateTranscript(cvMsg)
	d.queueOut(cvMsg)

	finished := &Finished{VerifyData: d.finishedVerifyData(d.serverHSSecret)}
	finMsg := finished.Build()
	d.ks.UpdateTranscript(finMsg)
	d.queueOut(finMsg)
	return nil
}

// signTranscript is a placeholder signing step: real certificate
// signing requires the server's private key and the host's crypto
// provider; spec.md §6 treats signature generation/verification as
// outside this sans-I/O core's crypto provider API (ECDH only is
// listed), so this returns an empty signature the host is expected to
// replace in a real deployment.
func (d *Driver) signTranscript() []byte {
	return nil
}

// deriveHandshakeSecrets advances the key schedule through the
// handshake generation and installs the {c,s} hs traffic secrets
// (spec.md §4.3 "Key schedule").
func (d *Driver) deriveHandshakeSecrets(sharedSecret []byte) error {
	d.ks.Extract(nil) // early secret, zero IKM (no PSK in this driver)
	d.ks.Extract(sharedSecret)

	clientSecret := d.ks.DeriveSecret("c hs traffic")
	serverSecret := d.ks.DeriveSecret("s hs traffic")
	d.clientHSSecret = clientSecret
	d.serverHSSecret = serverSecret

	d.installSecret(clientSecret, serverSecret)
	return nil
}

// finishedVerifyData computes RFC 8446 §4.4.4's verify_data:
// HMAC(finished_key, transcript_hash), where finished_key is itself
// HKDF-Expand-Label(secret, "finished", "", Hash.length) over the
// fixed handshake-traffic secret passed in. The transcript hash is
// read at the point this is called — right before the Finished
// message itself is folded in, per RFC 8446.
func (d *Driver) finishedVerifyData(secret []byte) []byte {
	hashLen := d.ks.transcript.Size()
	finishedKey := hkdfExpandLabel(d.suite.Hash(), secret, "finished", nil, hashLen)
	mac := hmac.New(func() hash.Hash { return d.suite.newTranscriptHash() }, finishedKey)
	mac.Write(d.ks.TranscriptHash())
	return mac.Sum(nil)
}

// verifyFinished checks a peer's Finished verify_data against the
// fixed handshake-traffic secret for that peer's direction, using the
// transcript hash as it stood just before this Finished message was
// folded in. A mismatch means a corrupted or substituted transcript
// (spec.md §7: handled as a handshake failure, not silently ignored).
func (d *Driver) verifyFinished(secret, got []byte) error {
	want := d.finishedVerifyData(secret)
	if !hmac.Equal(want, got) {
		return newErrTLSMessage("finished verify_data mismatch")
	}
	return nil
}

func (d *Driver) installSecret(clientSecret, serverSecret []byte) {
	if d.cfg.IsClient {
		d.notifySecret(DirectionWrite, wire.EpochHandshake, clientSecret, KeyLogClientHandshakeTrafficSecret)
		d.notifySecret(DirectionRead, wire.EpochHandshake, serverSecret, KeyLogServerHandshakeTrafficSecret)
	} else {
		d.notifySecret(DirectionWrite, wire.EpochHandshake, serverSecret, KeyLogServerHandshakeTrafficSecret)
		d.notifySecret(DirectionRead, wire.EpochHandshake, clientSecret, KeyLogClientHandshakeTrafficSecret)
	}
	// Output queued from here on (EncryptedExtensions onward) is a
	// Handshake-epoch CRYPTO frame, even though sendServerHello already
	// queued the Initial-epoch ServerHello before this ran.
	d.currentEpoch = wire.EpochHandshake
}

func (d *Driver) notifySecret(dir Direction, epoch wire.Epoch, secret []byte, label KeyLogLabel) {
	if d.cfg.OnSecret != nil {
		d.cfg.OnSecret(dir, epoch, d.suite, secret)
	}
	if d.cfg.KeyLog != nil {
		_ = d.cfg.KeyLog.Log(label, d.cfg.ConnectionIdentifier, secret)
	}
}

// finishHandshake derives the master-generation application traffic
// secrets and transitions to POST_HANDSHAKE (spec.md §4.3).
func (d *Driver) finishHandshake() error {
	d.ks.Extract(nil) // master secret, zero IKM

	clientSecret := d.ks.DeriveSecret("c ap traffic")
	serverSecret := d.ks.DeriveSecret("s ap traffic")

	if d.cfg.IsClient {
		d.notifySecret(DirectionWrite, wire.EpochOneRTT, clientSecret, KeyLogClientTrafficSecret0)
		d.notifySecret(DirectionRead, wire.EpochOneRTT, serverSecret, KeyLogServerTrafficSecret0)
	} else {
		d.notifySecret(DirectionWrite, wire.EpochOneRTT, serverSecret, KeyLogServerTrafficSecret0)
		d.notifySecret(DirectionRead, wire.EpochOneRTT, clientSecret, KeyLogClientTrafficSecret0)
	}

	// The client's Finished (queued by the StateExpectFinished case right
	// before this call) is the last Handshake-epoch CRYPTO output; only
	// after it has been queued is it safe to advance to ONE_RTT so later
	// output (the server's view of nothing further, or future 0-RTT/1-RTT
	// application data on the client) is tagged correctly.
	d.currentEpoch = wire.EpochOneRTT
	d.state = StatePostHandshake
	d.Done = true
	return nil
}

// ALPNProtocol returns the negotiated protocol, or "" if none (or not
// yet negotiated).
func (d *Driver) ALPNProtocol() string { return d.alpn }

// PeerTransportParameters returns the raw QUIC transport parameters TLV
// blob offered by the peer, or nil if not yet received.
func (d *Driver) PeerTransportParameters() []byte { return d.peerQUICTransportParams }

package qtls

//
// TLS 1.3 handshake message codec (spec.md §4.3), generalizing
// tlsparse.go's UnmarshalTLSHandshakeMsg/unmarshalTLSClientHello to
// the full set of messages the driver needs, in both directions.
//

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ErrTLSMessage is the sentinel wrapped by every handshake message
// parse/build failure, mirroring tlsparse.go's ErrTLSParse.
var ErrTLSMessage = errors.New("qtls: handshake message error")

func newErrTLSMessage(reason string) error {
	return fmt.Errorf("%w: %s", ErrTLSMessage, reason)
}

// HandshakeType is the 1-byte handshake message type tag (RFC 8446 §4).
type HandshakeType uint8

const (
	HandshakeTypeClientHello        HandshakeType = 1
	HandshakeTypeServerHello        HandshakeType = 2
	HandshakeTypeNewSessionTicket   HandshakeType = 4
	HandshakeTypeEncryptedExtensions HandshakeType = 8
	HandshakeTypeCertificate        HandshakeType = 11
	HandshakeTypeCertificateRequest HandshakeType = 13
	HandshakeTypeCertificateVerify  HandshakeType = 15
	HandshakeTypeFinished           HandshakeType = 20
)

const legacyVersionTLS12 = 0x0303

// wrapHandshakeMessage frames a handshake body with its 1-byte type
// tag and 24-bit length prefix, as tlsparse.go's
// UnmarshalTLSHandshakeMsg parses it (ReadUint24LengthPrefixed).
func wrapHandshakeMessage(typ HandshakeType, body []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(typ))
	b.AddUint24LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(body)
	})
	return b.BytesOrPanic()
}

// ParseHandshakeMessageHeader reads the type tag and 24-bit length
// prefix from the front of data, returning the type, the body, and the
// number of bytes consumed from data (so the caller, reading a CRYPTO
// stream, knows where the next message starts). It returns
// (0, nil, 0, nil) when data does not yet contain a complete message
// (the TLS driver must wait for more CRYPTO bytes).
func ParseHandshakeMessageHeader(data []byte) (HandshakeType, []byte, int, error) {
	cursor := cryptobyte.String(data)
	var typ uint8
	if !cursor.ReadUint8(&typ) {
		return 0, nil, 0, nil
	}
	var body cryptobyte.String
	if !cursor.ReadUint24LengthPrefixed(&body) {
		return 0, nil, 0, nil
	}
	consumed := len(data) - len(cursor)
	return HandshakeType(typ), append([]byte(nil), body...), consumed, nil
}

// ClientHello is the parsed/buildable ClientHello message (RFC 8446
// §4.1.2), generalizing tlsparse.go's TLSClientHello.
type ClientHello struct {
	Random              [32]byte
	LegacySessionID     []byte
	CipherSuites        []CipherSuite
	SupportedVersions   []uint16
	KeyShares           []KeyShareEntry
	SignatureSchemes    []SignatureScheme
	SupportedGroups     []NamedGroup
	ALPNProtocols       []string
	ServerName          string
	QUICTransportParams []byte
}

// Build serializes ch into a wrapped ClientHello handshake message.
func (ch *ClientHello) Build() []byte {
	var cb cryptobyte.Builder
	cb.AddUint16(legacyVersionTLS12)
	cb.AddBytes(ch.Random[:])
	cb.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(ch.LegacySessionID)
	})
	cb.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, cs := range ch.CipherSuites {
			child.AddUint16(uint16(cs))
		}
	})
	cb.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddUint8(0) // legacy_compression_methods: null
	})

	exts := ch.buildExtensions()
	cb.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(BuildExtensions(exts))
	})

	return wrapHandshakeMessage(HandshakeTypeClientHello, cb.BytesOrPanic())
}

func (ch *ClientHello) buildExtensions() []Extension {
	var exts []Extension
	if ch.ServerName != "" {
		exts = append(exts, Extension{Type: ExtensionServerName, Data: BuildServerName(ch.ServerName)})
	}
	if len(ch.SupportedGroups) > 0 {
		exts = append(exts, Extension{Type: ExtensionSupportedGroups, Data: BuildSupportedGroups(ch.SupportedGroups)})
	}
	if len(ch.SignatureSchemes) > 0 {
		exts = append(exts, Extension{Type: ExtensionSignatureAlgorithms, Data: BuildSignatureAlgorithms(ch.SignatureSchemes)})
	}
	if len(ch.ALPNProtocols) > 0 {
		exts = append(exts, Extension{Type: ExtensionALPN, Data: BuildALPN(ch.ALPNProtocols)})
	}
	if len(ch.KeyShares) > 0 {
		exts = append(exts, Extension{Type: ExtensionKeyShare, Data: BuildKeyShareClientHello(ch.KeyShares)})
	}
	if len(ch.SupportedVersions) > 0 {
		exts = append(exts, Extension{Type: ExtensionSupportedVersions, Data: BuildSupportedVersions(ch.SupportedVersions)})
	}
	exts = append(exts, Extension{Type: ExtensionPSKKeyExchangeModes, Data: BuildPSKKeyExchangeModes()})
	if ch.QUICTransportParams != nil {
		exts = append(exts, Extension{Type: ExtensionQUICTransportParams, Data: ch.QUICTransportParams})
	}
	return exts
}

// ParseClientHello parses an already-unwrapped ClientHello body
// (tlsparse.go's unmarshalTLSClientHello, generalized to decode every
// extension this driver understands instead of only server_name).
func ParseClientHello(body []byte) (*ClientHello, error) {
	cursor := cryptobyte.String(body)
	ch := &ClientHello{}

	var legacyVersion uint16
	if !cursor.ReadUint16(&legacyVersion) {
		return nil, newErrTLSMessage("client hello: cannot read protocol version")
	}

	var random cryptobyte.String
	if !cursor.ReadBytes(&random, 32) {
		return nil, newErrTLSMessage("client hello: cannot read random")
	}
	copy(ch.Random[:], random)

	var sessionID cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&sessionID) {
		return nil, newErrTLSMessage("client hello: cannot read legacy session id")
	}
	ch.LegacySessionID = append([]byte(nil), sessionID...)

	var cipherSuites cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&cipherSuites) {
		return nil, newErrTLSMessage("client hello: cannot read cipher suites")
	}
	for !cipherSuites.Empty() {
		var cs uint16
		if !cipherSuites.ReadUint16(&cs) {
			return nil, newErrTLSMessage("client hello: truncated cipher suite list")
		}
		ch.CipherSuites = append(ch.CipherSuites, CipherSuite(cs))
	}

	var compression cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&compression) {
		return nil, newErrTLSMessage("client hello: cannot read legacy compression methods")
	}

	var extBody cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&extBody) {
		return nil, newErrTLSMessage("client hello: cannot read extensions")
	}
	if !cursor.Empty() {
		return nil, newErrTLSMessage("client hello: unparsed trailing data")
	}

	exts, err := ParseExtensions(extBody)
	if err != nil {
		return nil, err
	}
	if err := ch.applyExtensions(exts); err != nil {
		return nil, err
	}
	return ch, nil
}

func (ch *ClientHello) applyExtensions(exts []Extension) error {
	if e, ok := FindExtension(exts, ExtensionServerName); ok {
		name, err := ParseServerName(e.Data)
		if err != nil {
			return err
		}
		ch.ServerName = name
	}
	if e, ok := FindExtension(exts, ExtensionSupportedVersions); ok {
		versions, err := ParseSupportedVersionsClientHello(e.Data)
		if err != nil {
			return err
		}
		ch.SupportedVersions = versions
	}
	if e, ok := FindExtension(exts, ExtensionKeyShare); ok {
		shares, err := ParseKeyShareClientHello(e.Data)
		if err != nil {
			return err
		}
		ch.KeyShares = shares
	}
	if e, ok := FindExtension(exts, ExtensionALPN); ok {
		protos, err := ParseALPN(e.Data)
		if err != nil {
			return err
		}
		ch.ALPNProtocols = protos
	}
	if e, ok := FindExtension(exts, ExtensionQUICTransportParams); ok {
		ch.QUICTransportParams = e.Data
	}
	return nil
}

// ServerHello is the parsed/buildable ServerHello message.
type ServerHello struct {
	Random      [32]byte
	CipherSuite CipherSuite
	KeyShare    KeyShareEntry
}

// Build serializes sh into a wrapped ServerHello handshake message.
func (sh *ServerHello) Build() []byte {
	var b cryptobyte.Builder
	b.AddUint16(legacyVersionTLS12)
	b.AddBytes(sh.Random[:])
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {}) // legacy_session_id_echo: empty
	b.AddUint16(uint16(sh.CipherSuite))
	b.AddUint8(0) // legacy_compression_method: null

	exts := []Extension{
		{Type: ExtensionSupportedVersions, Data: BuildSupportedVersionsServerHello(0x0304)},
		{Type: ExtensionKeyShare, Data: BuildKeyShareServerHello(sh.KeyShare)},
	}
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(BuildExtensions(exts))
	})
	return wrapHandshakeMessage(HandshakeTypeServerHello, b.BytesOrPanic())
}

// ParseServerHello parses an already-unwrapped ServerHello body.
func ParseServerHello(body []byte) (*ServerHello, error) {
	cursor := cryptobyte.String(body)
	sh := &ServerHello{}

	var legacyVersion uint16
	if !cursor.ReadUint16(&legacyVersion) {
		return nil, newErrTLSMessage("server hello: cannot read protocol version")
	}
	var random cryptobyte.String
	if !cursor.ReadBytes(&random, 32) {
		return nil, newErrTLSMessage("server hello: cannot read random")
	}
	copy(sh.Random[:], random)

	var sessionIDEcho cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&sessionIDEcho) {
		return nil, newErrTLSMessage("server hello: cannot read legacy session id echo")
	}

	var cipherSuite uint16
	if !cursor.ReadUint16(&cipherSuite) {
		return nil, newErrTLSMessage("server hello: cannot read cipher suite")
	}
	sh.CipherSuite = CipherSuite(cipherSuite)

	var compressionMethod uint8
	if !cursor.ReadUint8(&compressionMethod) {
		return nil, newErrTLSMessage("server hello: cannot read legacy compression method")
	}

	var extBody cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&extBody) {
		return nil, newErrTLSMessage("server hello: cannot read extensions")
	}
	if !cursor.Empty() {
		return nil, newErrTLSMessage("server hello: unparsed trailing data")
	}

	exts, err := ParseExtensions(extBody)
	if err != nil {
		return nil, err
	}
	e, ok := FindExtension(exts, ExtensionKeyShare)
	if !ok {
		return nil, newErrTLSMessage("server hello: missing key_share extension")
	}
	keyShare, err := ParseKeyShareServerHello(e.Data)
	if err != nil {
		return nil, err
	}
	sh.KeyShare = keyShare
	return sh, nil
}

// EncryptedExtensions is the server's post-ServerHello extensions
// message, carrying ALPN selection and (for QUIC) transport
// parameters.
type EncryptedExtensions struct {
	ALPNProtocol        string
	QUICTransportParams []byte
}

func (ee *EncryptedExtensions) Build() []byte {
	var exts []Extension
	if ee.ALPNProtocol != "" {
		exts = append(exts, Extension{Type: ExtensionALPN, Data: BuildALPN([]string{ee.ALPNProtocol})})
	}
	if ee.QUICTransportParams != nil {
		exts = append(exts, Extension{Type: ExtensionQUICTransportParams, Data: ee.QUICTransportParams})
	}
	body := BuildExtensions(exts)
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(body)
	})
	return wrapHandshakeMessage(HandshakeTypeEncryptedExtensions, b.BytesOrPanic())
}

func ParseEncryptedExtensions(body []byte) (*EncryptedExtensions, error) {
	cursor := cryptobyte.String(body)
	var extBody cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&extBody) {
		return nil, newErrTLSMessage("encrypted extensions: cannot read extensions")
	}
	if !cursor.Empty() {
		return nil, newErrTLSMessage("encrypted extensions: unparsed trailing data")
	}
	exts, err := ParseExtensions(extBody)
	if err != nil {
		return nil, err
	}
	ee := &EncryptedExtensions{}
	if e, ok := FindExtension(exts, ExtensionALPN); ok {
		protos, err := ParseALPN(e.Data)
		if err != nil {
			return nil, err
		}
		if len(protos) > 0 {
			ee.ALPNProtocol = protos[0]
		}
	}
	if e, ok := FindExtension(exts, ExtensionQUICTransportParams); ok {
		ee.QUICTransportParams = e.Data
	}
	return ee, nil
}

// CertificateEntry is one entry of a Certificate message's
// certificate_list.
type CertificateEntry struct {
	Data []byte
}

// Certificate is the server's Certificate message (RFC 8446 §4.4.2).
// This driver only ever builds/parses the request_context-less,
// extension-less case QUIC uses.
type Certificate struct {
	Entries []CertificateEntry
}

func (c *Certificate) Build() []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {}) // certificate_request_context: empty
	b.AddUint24LengthPrefixed(func(list *cryptobyte.Builder) {
		for _, e := range c.Entries {
			entry := e
			list.AddUint24LengthPrefixed(func(child *cryptobyte.Builder) {
				child.AddBytes(entry.Data)
			})
			list.AddUint16(0) // no per-certificate extensions
		}
	})
	return wrapHandshakeMessage(HandshakeTypeCertificate, b.BytesOrPanic())
}

func ParseCertificate(body []byte) (*Certificate, error) {
	cursor := cryptobyte.String(body)
	var context cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&context) {
		return nil, newErrTLSMessage("certificate: cannot read request context")
	}
	var list cryptobyte.String
	if !cursor.ReadUint24LengthPrefixed(&list) {
		return nil, newErrTLSMessage("certificate: cannot read certificate list")
	}
	if !cursor.Empty() {
		return nil, newErrTLSMessage("certificate: unparsed trailing data")
	}
	c := &Certificate{}
	for !list.Empty() {
		var certData cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&certData) {
			return nil, newErrTLSMessage("certificate: cannot read certificate data")
		}
		var extData cryptobyte.String
		if !list.ReadUint16LengthPrefixed(&extData) {
			return nil, newErrTLSMessage("certificate: cannot read certificate extensions")
		}
		c.Entries = append(c.Entries, CertificateEntry{Data: append([]byte(nil), certData...)})
	}
	return c, nil
}

// CertificateVerify is the server's CertificateVerify message.
type CertificateVerify struct {
	Scheme    SignatureScheme
	Signature []byte
}

func (cv *CertificateVerify) Build() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(cv.Scheme))
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(cv.Signature)
	})
	return wrapHandshakeMessage(HandshakeTypeCertificateVerify, b.BytesOrPanic())
}

func ParseCertificateVerify(body []byte) (*CertificateVerify, error) {
	cursor := cryptobyte.String(body)
	var scheme uint16
	if !cursor.ReadUint16(&scheme) {
		return nil, newErrTLSMessage("certificate verify: cannot read signature scheme")
	}
	var sig cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&sig) {
		return nil, newErrTLSMessage("certificate verify: cannot read signature")
	}
	if !cursor.Empty() {
		return nil, newErrTLSMessage("certificate verify: unparsed trailing data")
	}
	return &CertificateVerify{Scheme: SignatureScheme(scheme), Signature: append([]byte(nil), sig...)}, nil
}

// Finished carries the HMAC verify_data over the transcript (RFC 8446
// §4.4.4).
type Finished struct {
	VerifyData []byte
}

func (f *Finished) Build() []byte {
	return wrapHandshakeMessage(HandshakeTypeFinished, f.VerifyData)
}

func ParseFinished(body []byte) (*Finished, error) {
	return &Finished{VerifyData: append([]byte(nil), body...)}, nil
}

// NewSessionTicket carries a post-handshake resumption ticket (RFC
// 8446 §4.6.1), supplemented per SPEC_FULL §5 session-resumption
// gating.
type NewSessionTicket struct {
	LifetimeSeconds uint32
	AgeAdd          uint32
	Nonce           []byte
	Ticket          []byte
}

func (t *NewSessionTicket) Build() []byte {
	var b cryptobyte.Builder
	b.AddUint32(t.LifetimeSeconds)
	b.AddUint32(t.AgeAdd)
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(t.Nonce)
	})
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(t.Ticket)
	})
	b.AddUint16(0) // no extensions
	return wrapHandshakeMessage(HandshakeTypeNewSessionTicket, b.BytesOrPanic())
}

func ParseNewSessionTicket(body []byte) (*NewSessionTicket, error) {
	cursor := cryptobyte.String(body)
	t := &NewSessionTicket{}
	if !cursor.ReadUint32(&t.LifetimeSeconds) {
		return nil, newErrTLSMessage("new session ticket: cannot read lifetime")
	}
	if !cursor.ReadUint32(&t.AgeAdd) {
		return nil, newErrTLSMessage("new session ticket: cannot read age add")
	}
	var nonce cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&nonce) {
		return nil, newErrTLSMessage("new session ticket: cannot read nonce")
	}
	t.Nonce = append([]byte(nil), nonce...)
	var ticket cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&ticket) {
		return nil, newErrTLSMessage("new session ticket: cannot read ticket")
	}
	t.Ticket = append([]byte(nil), ticket...)
	var extData cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&extData) {
		return nil, newErrTLSMessage("new session ticket: cannot read extensions")
	}
	return t, nil
}

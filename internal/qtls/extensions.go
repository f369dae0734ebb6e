package qtls

//
// TLS 1.3 extensions (spec.md §4.3), generalizing tlsparse.go's
// UnmarshalTLSExtensions/FindTLSServerNameExtension to both directions
// (parse and serialize) with cryptobyte.
//

import (
	"golang.org/x/crypto/cryptobyte"
)

// Extension type numbers used by the handshake (RFC 8446 §4.2, plus
// the QUIC transport parameters extension of draft-ietf-quic-tls).
const (
	ExtensionServerName            uint16 = 0
	ExtensionSupportedGroups       uint16 = 10
	ExtensionSignatureAlgorithms   uint16 = 13
	ExtensionALPN                  uint16 = 16
	ExtensionPreSharedKey          uint16 = 41
	ExtensionEarlyData             uint16 = 42
	ExtensionSupportedVersions     uint16 = 43
	ExtensionPSKKeyExchangeModes   uint16 = 45
	ExtensionKeyShare              uint16 = 51
	ExtensionQUICTransportParams   uint16 = 0xffa5
)

// NamedGroup identifies a key-exchange group (RFC 8446 §4.2.7).
type NamedGroup uint16

const NamedGroupSECP256R1 NamedGroup = 23

// SignatureScheme identifies a signature algorithm (RFC 8446 §4.2.3).
type SignatureScheme uint16

const (
	SignatureSchemeRSAPSSRSAESHA256 SignatureScheme = 0x0804
	SignatureSchemeECDSASECP256R1SHA256 SignatureScheme = 0x0403
	SignatureSchemeRSAPKCS1SHA256   SignatureScheme = 0x0401
	SignatureSchemeRSAPKCS1SHA1     SignatureScheme = 0x0201
)

// Extension is a parsed (type, data) extension pair, mirroring
// tlsparse.go's TLSExtension but used for both parse and serialize.
type Extension struct {
	Type uint16
	Data []byte
}

// ParseExtensions parses the body of an extensions<8..2^16-1> field
// (tlsparse.go's UnmarshalTLSExtensions, generalized beyond ServerName).
func ParseExtensions(cursor cryptobyte.String) ([]Extension, error) {
	var out []Extension
	for !cursor.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !cursor.ReadUint16(&typ) {
			return nil, newErrTLSMessage("extensions: cannot read extension type")
		}
		if !cursor.ReadUint16LengthPrefixed(&data) {
			return nil, newErrTLSMessage("extensions: cannot read extension data")
		}
		out = append(out, Extension{Type: typ, Data: append([]byte(nil), data...)})
	}
	return out, nil
}

// FindExtension returns the first extension of the given type.
func FindExtension(exts []Extension, typ uint16) (Extension, bool) {
	for _, e := range exts {
		if e.Type == typ {
			return e, true
		}
	}
	return Extension{}, false
}

// BuildExtensions serializes a list of extensions into an
// extensions<8..2^16-1> field body.
func BuildExtensions(exts []Extension) []byte {
	var b cryptobyte.Builder
	for _, e := range exts {
		ext := e
		b.AddUint16(ext.Type)
		b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			child.AddBytes(ext.Data)
		})
	}
	return b.BytesOrPanic()
}

// KeyShareEntry is one (group, key_exchange) pair of the key_share
// extension.
type KeyShareEntry struct {
	Group      NamedGroup
	KeyExchange []byte
}

// BuildKeyShareClientHello builds the key_share extension body for a
// ClientHello (a list of entries).
func BuildKeyShareClientHello(entries []KeyShareEntry) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
		for _, e := range entries {
			entry := e
			list.AddUint16(uint16(entry.Group))
			list.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
				child.AddBytes(entry.KeyExchange)
			})
		}
	})
	return b.BytesOrPanic()
}

// ParseKeyShareClientHello parses a ClientHello's key_share extension.
func ParseKeyShareClientHello(data []byte) ([]KeyShareEntry, error) {
	cursor := cryptobyte.String(data)
	var list cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&list) {
		return nil, newErrTLSMessage("key_share: cannot read entry list")
	}
	var out []KeyShareEntry
	for !list.Empty() {
		var group uint16
		var ke cryptobyte.String
		if !list.ReadUint16(&group) {
			return nil, newErrTLSMessage("key_share: cannot read group")
		}
		if !list.ReadUint16LengthPrefixed(&ke) {
			return nil, newErrTLSMessage("key_share: cannot read key exchange")
		}
		out = append(out, KeyShareEntry{Group: NamedGroup(group), KeyExchange: append([]byte(nil), ke...)})
	}
	return out, nil
}

// BuildKeyShareServerHello builds the key_share extension body for a
// ServerHello (exactly one entry).
func BuildKeyShareServerHello(entry KeyShareEntry) []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(entry.Group))
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddBytes(entry.KeyExchange)
	})
	return b.BytesOrPanic()
}

// ParseKeyShareServerHello parses a ServerHello's key_share extension.
func ParseKeyShareServerHello(data []byte) (KeyShareEntry, error) {
	cursor := cryptobyte.String(data)
	var group uint16
	var ke cryptobyte.String
	if !cursor.ReadUint16(&group) {
		return KeyShareEntry{}, newErrTLSMessage("key_share: cannot read group")
	}
	if !cursor.ReadUint16LengthPrefixed(&ke) {
		return KeyShareEntry{}, newErrTLSMessage("key_share: cannot read key exchange")
	}
	return KeyShareEntry{Group: NamedGroup(group), KeyExchange: append([]byte(nil), ke...)}, nil
}

// BuildSupportedVersions builds the supported_versions extension body
// for a ClientHello (spec.md §4.3: "TLS 1.3 final and drafts 26/27/28").
func BuildSupportedVersions(versions []uint16) []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, v := range versions {
			child.AddUint16(v)
		}
	})
	return b.BytesOrPanic()
}

// ParseSupportedVersionsClientHello parses a ClientHello's
// supported_versions list.
func ParseSupportedVersionsClientHello(data []byte) ([]uint16, error) {
	cursor := cryptobyte.String(data)
	var list cryptobyte.String
	if !cursor.ReadUint8LengthPrefixed(&list) {
		return nil, newErrTLSMessage("supported_versions: cannot read list")
	}
	var out []uint16
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			return nil, newErrTLSMessage("supported_versions: cannot read version")
		}
		out = append(out, v)
	}
	return out, nil
}

// BuildSupportedVersionsServerHello builds the single-version
// supported_versions extension a ServerHello sends back.
func BuildSupportedVersionsServerHello(version uint16) []byte {
	var b cryptobyte.Builder
	b.AddUint16(version)
	return b.BytesOrPanic()
}

// BuildSignatureAlgorithms builds the signature_algorithms extension
// body (spec.md §4.3's required list).
func BuildSignatureAlgorithms(schemes []SignatureScheme) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, s := range schemes {
			child.AddUint16(uint16(s))
		}
	})
	return b.BytesOrPanic()
}

// BuildSupportedGroups builds the supported_groups extension body.
func BuildSupportedGroups(groups []NamedGroup) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, g := range groups {
			child.AddUint16(uint16(g))
		}
	})
	return b.BytesOrPanic()
}

// BuildALPN builds the application_layer_protocol_negotiation
// extension body from an ordered protocol list.
func BuildALPN(protocols []string) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
		for _, p := range protocols {
			proto := p
			list.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
				child.AddBytes([]byte(proto))
			})
		}
	})
	return b.BytesOrPanic()
}

// ParseALPN parses an application_layer_protocol_negotiation extension
// body into its protocol list.
func ParseALPN(data []byte) ([]string, error) {
	cursor := cryptobyte.String(data)
	var list cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&list) {
		return nil, newErrTLSMessage("alpn: cannot read protocol list")
	}
	var out []string
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) {
			return nil, newErrTLSMessage("alpn: cannot read protocol")
		}
		out = append(out, string(proto))
	}
	return out, nil
}

// BuildServerName builds the server_name extension body for a single
// host_name entry (tlsparse.go's UnmarshalTLSServerNameExtension,
// generalized to serialization).
func BuildServerName(hostName string) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
		list.AddUint8(0) // host_name
		list.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			child.AddBytes([]byte(hostName))
		})
	})
	return b.BytesOrPanic()
}

// ParseServerName parses a server_name extension body, matching
// tlsparse.go's UnmarshalTLSServerNameExtension semantics.
func ParseServerName(data []byte) (string, error) {
	cursor := cryptobyte.String(data)
	var list cryptobyte.String
	if !cursor.ReadUint16LengthPrefixed(&list) {
		return "", newErrTLSMessage("server_name: cannot read name list")
	}
	for !list.Empty() {
		var nameType uint8
		if !list.ReadUint8(&nameType) {
			return "", newErrTLSMessage("server_name: cannot read name type")
		}
		var hostName cryptobyte.String
		if !list.ReadUint16LengthPrefixed(&hostName) {
			return "", newErrTLSMessage("server_name: cannot read host name")
		}
		if nameType == 0 {
			return string(hostName), nil
		}
	}
	return "", newErrTLSMessage("server_name: no host_name entry")
}

// BuildPSKKeyExchangeModes builds the psk_key_exchange_modes extension
// body. Mode 1 is psk_dhe_ke, the only mode this driver offers.
func BuildPSKKeyExchangeModes() []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) {
		child.AddUint8(1) // psk_dhe_ke
	})
	return b.BytesOrPanic()
}

// BuildQUICTransportParameters wraps an already-encoded transport
// parameters TLV blob (internal/wire) as the extension body. The TLV
// format itself is the 16-bit id/16-bit length scheme aioquic's
// push_quic_transport_parameters uses for draft versions, per
// SPEC_FULL's grounding in original_source/aioquic/tls.py.
func BuildQUICTransportParameters(tlv []byte) []byte {
	return append([]byte(nil), tlv...)
}

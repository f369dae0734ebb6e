package h3

//
// QPACK field-section (de)compression (RFC 9204; spec.md §4.7 "Minimal
// HTTP/3" restricts QPACK to the static table, so both encoder and
// decoder instance keep the dynamic table capacity at zero and never
// block on an encoder-stream insertion).
//

import (
	"bytes"
	"fmt"

	"github.com/quic-go/qpack"
)

// Header is one decoded or to-be-encoded field-section entry.
type Header struct {
	Name  string
	Value string
}

// HeaderCodec encodes and decodes HEADERS frame field sections. It is
// an interface (rather than the bare *qpack.Encoder/*qpack.Decoder
// pair) so tests can substitute a hand-written fake for this seam.
type HeaderCodec interface {
	Encode(headers []Header) ([]byte, error)
	Decode(data []byte) ([]Header, error)
}

// staticQPACKCodec is the production HeaderCodec, backed by
// github.com/quic-go/qpack with the dynamic table disabled: every
// Encode call is self-contained and never references state from
// a prior field section, so no QPACK encoder/decoder stream is needed
// between the two endpoints.
type staticQPACKCodec struct{}

// NewHeaderCodec returns the static-table-only QPACK codec.
func NewHeaderCodec() HeaderCodec {
	return &staticQPACKCodec{}
}

func (c *staticQPACKCodec) Encode(headers []Header) ([]byte, error) {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	for _, h := range headers {
		if err := enc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			return nil, fmt.Errorf("h3: qpack encode: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("h3: qpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *staticQPACKCodec) Decode(data []byte) ([]Header, error) {
	var out []Header
	dec := qpack.NewDecoder(func(f qpack.HeaderField) {
		out = append(out, Header{Name: f.Name, Value: f.Value})
	})
	if _, err := dec.Write(data); err != nil {
		return nil, fmt.Errorf("h3: qpack decode: %w", err)
	}
	return out, nil
}

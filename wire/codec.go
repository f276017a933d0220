// Package wire implements the binary frame format shared by the brushcast
// client and server: a 4-byte big-endian length of the UTF-8 JSON metadata,
// the JSON bytes, then the raw image payload (possibly empty).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/bytedance/sonic"
)

// DefaultMaxMetadataBytes bounds the JSON header of a binary frame.
const DefaultMaxMetadataBytes = 10 << 20 // 10 MiB

const headerLen = 4

// ProtocolError reports malformed or oversized framing. It is fatal for the
// connection that produced it.
type ProtocolError struct {
	Reason string
	Length int
}

func (e *ProtocolError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("wire: %s (length %d)", e.Reason, e.Length)
	}
	return "wire: " + e.Reason
}

// Codec encodes and decodes binary frames. The zero value uses
// DefaultMaxMetadataBytes.
type Codec struct {
	// MaxMetadataBytes caps the declared JSON length on decode.
	MaxMetadataBytes int
}

func (c Codec) maxMetadata() int {
	if c.MaxMetadataBytes > 0 {
		return c.MaxMetadataBytes
	}
	return DefaultMaxMetadataBytes
}

// Encode serializes metadata to JSON and prepends the length header,
// followed by the raw payload bytes.
func (c Codec) Encode(metadata any, payload []byte) ([]byte, error) {
	meta, err := sonic.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal metadata: %w", err)
	}
	if len(meta) > c.maxMetadata() {
		return nil, &ProtocolError{Reason: "metadata exceeds maximum", Length: len(meta)}
	}
	buf := make([]byte, headerLen+len(meta)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(meta)))
	copy(buf[headerLen:], meta)
	copy(buf[headerLen+len(meta):], payload)
	return buf, nil
}

// Decode splits a binary frame into its JSON metadata and raw payload. The
// metadata is unmarshalled into dst. The returned payload aliases data.
func (c Codec) Decode(data []byte, dst any) (payload []byte, err error) {
	if len(data) < headerLen {
		return nil, &ProtocolError{Reason: "frame shorter than length header", Length: len(data)}
	}
	metaLen := int(binary.BigEndian.Uint32(data))
	if metaLen > c.maxMetadata() {
		return nil, &ProtocolError{Reason: "declared metadata length exceeds maximum", Length: metaLen}
	}
	if metaLen > len(data)-headerLen {
		return nil, &ProtocolError{Reason: "declared metadata length exceeds frame", Length: metaLen}
	}
	if err := sonic.Unmarshal(data[headerLen:headerLen+metaLen], dst); err != nil {
		return nil, &ProtocolError{Reason: "invalid metadata JSON: " + err.Error(), Length: metaLen}
	}
	return data[headerLen+metaLen:], nil
}

// EncodeControl marshals a bare control message for a text frame.
func EncodeControl(status, message string) ([]byte, error) {
	return sonic.Marshal(Control{Status: status, Message: message})
}

// DecodeEnvelope unmarshals a text-frame next_frame envelope.
func DecodeEnvelope(data []byte, env *FrameEnvelope) error {
	if err := sonic.Unmarshal(data, env); err != nil {
		return &ProtocolError{Reason: "invalid envelope JSON: " + err.Error()}
	}
	return nil
}

// DecodeControl unmarshals a text control message.
func DecodeControl(data []byte) (Control, error) {
	var ctrl Control
	if err := sonic.Unmarshal(data, &ctrl); err != nil {
		return Control{}, &ProtocolError{Reason: "invalid control JSON: " + err.Error()}
	}
	return ctrl, nil
}

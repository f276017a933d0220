package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}

	env := FrameEnvelope{
		Status: StatusNextFrame,
		Params: GenerationParams{
			Prompt:         "a watercolor lighthouse",
			NegativePrompt: "blurry",
			Steps:          4,
			CFGScale:       1.2,
			Denoise:        0.45,
			Seed:           42,
			Width:          512,
			Height:         512,
			ControlNets: []ControlNet{
				{ModelID: "canny", ConditioningScale: 0.8, Enabled: true},
			},
		},
	}
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

	data, err := codec.Encode(env, payload)
	require.NoError(t, err)

	var decoded FrameEnvelope
	gotPayload, err := codec.Decode(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
	assert.Equal(t, payload, gotPayload)
}

func TestCodecRoundTripEmptyPayload(t *testing.T) {
	codec := Codec{}

	data, err := codec.Encode(FrameEnvelope{Status: StatusNextFrame}, nil)
	require.NoError(t, err)

	var decoded FrameEnvelope
	payload, err := codec.Decode(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, StatusNextFrame, decoded.Status)
	assert.Empty(t, payload)
}

func TestCodecDecodeOversizedMetadata(t *testing.T) {
	codec := Codec{MaxMetadataBytes: 64}

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data, 65)

	var decoded FrameEnvelope
	_, err := codec.Decode(data, &decoded)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 65, perr.Length)
}

func TestCodecDecodeTruncated(t *testing.T) {
	codec := Codec{}

	t.Run("shorter than header", func(t *testing.T) {
		var decoded FrameEnvelope
		_, err := codec.Decode([]byte{0x00, 0x01}, &decoded)
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("length exceeds frame", func(t *testing.T) {
		data := make([]byte, 10)
		binary.BigEndian.PutUint32(data, 100)
		var decoded FrameEnvelope
		_, err := codec.Decode(data, &decoded)
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestCodecDecodeInvalidJSON(t *testing.T) {
	codec := Codec{}

	meta := []byte("{not json")
	data := make([]byte, 4+len(meta))
	binary.BigEndian.PutUint32(data, uint32(len(meta)))
	copy(data[4:], meta)

	var decoded FrameEnvelope
	_, err := codec.Decode(data, &decoded)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestControlRoundTrip(t *testing.T) {
	data, err := EncodeControl(StatusError, "pipeline exploded")
	require.NoError(t, err)

	ctrl, err := DecodeControl(data)
	require.NoError(t, err)
	assert.Equal(t, StatusError, ctrl.Status)
	assert.Equal(t, "pipeline exploded", ctrl.Message)
}

func TestDecodeControlInvalid(t *testing.T) {
	_, err := DecodeControl([]byte("nope"))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

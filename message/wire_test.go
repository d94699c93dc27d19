package message_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/message"
)

func TestWireRoundTrip(t *testing.T) {
	// Scenario 6 from spec §8: encode then decode a Field message and expect
	// bitwise equality.
	md := message.NewMetadata().
		SetString("precision", "double").
		SetString("param", "130").
		SetInt("level", 1).
		SetInt("step", 6)

	original := message.New(
		message.TagField,
		message.NewPeer("g", 3),
		message.NewPeer("g", 7),
		md,
		float64sToBytes([]float64{1, 2, 3, 4}),
		4,
	)

	var buf bytes.Buffer
	require.NoError(t, message.Encode(&buf, original))

	decoded, err := message.Decode(&buf)
	require.NoError(t, err)

	require.Equal(t, original.Tag, decoded.Tag)
	require.Equal(t, original.Source, decoded.Source)
	require.Equal(t, original.Destination, decoded.Destination)
	require.Equal(t, original.Payload, decoded.Payload)
	require.True(t, original.Metadata.Equal(decoded.Metadata))
	require.Equal(t, original.FieldID(), decoded.FieldID())
}

func TestWireStreamPacksMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	md := message.NewMetadata().SetString("precision", "single")
	m1 := message.New(message.TagField, message.NewPeer("a", 0), message.NewPeer("srv", 0), md.Clone(), []byte{1, 2, 3, 4}, 1)
	m2 := message.New(message.TagStepComplete, message.NewPeer("a", 0), message.NewPeer("srv", 0), message.NewMetadata(), nil, 0)

	require.NoError(t, message.Encode(&buf, m1))
	require.NoError(t, message.Encode(&buf, m2))

	msgs, err := message.DecodeAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, message.TagField, msgs[0].Tag)
	require.Equal(t, message.TagStepComplete, msgs[1].Tag)
}

func float64sToBytes(vs []float64) []byte {
	out := make([]byte, 0, len(vs)*8)
	for _, v := range vs {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		out = append(out, buf[:]...)
	}
	return out
}

package action_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/message"
)

func float32Payload(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// spec §8 scenario 2: a single-precision partial flows through
// convert -> aggregate -> sink and the sink receives a double-precision
// buffer with the same values.
func TestConvertSingleToDoubleThroughAggregation(t *testing.T) {
	reg := domain.NewRegistry()
	c0 := message.NewPeer("clients", 0)
	srv := message.NewPeer("server", 0)
	md := message.NewMetadata().SetInt("globalSize", 2)
	require.NoError(t, reg.Add("DC", c0, md, unstructuredPayload(0, 1)))

	conv := action.NewConvert(message.PrecisionDouble)
	agg := action.NewAggregation(reg)
	sink := &action.MemoryWriter{NameStr: "out"}
	action.Chain(conv, agg, action.NewSink(sink))

	fieldMD := message.NewMetadata().SetString("domain", "DC").SetString("precision", "single").
		SetInt("param", 1).SetInt("level", 1).SetInt("step", 0)
	msg := message.New(message.TagField, c0, srv, fieldMD, float32Payload(1, 2), 2)

	require.NoError(t, action.Forward(context.Background(), conv, msg))
	require.Len(t, sink.Messages, 1)

	got := sink.Messages[0]
	prec, err := got.Precision()
	require.NoError(t, err)
	require.Equal(t, message.PrecisionDouble, prec)
	require.Equal(t, []float64{1, 2}, decodeFloat64s(got.Payload))
}

func TestConvertPassesThroughMatchingPrecision(t *testing.T) {
	conv := action.NewConvert(message.PrecisionDouble)
	md := message.NewMetadata().SetString("precision", "double")
	msg := message.New(message.TagField, message.NewPeer("c", 0), message.NewPeer("s", 0), md, float64Payload(3), 1)
	out, err := conv.Execute(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, msg.Payload, out[0].Payload)
}

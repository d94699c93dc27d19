package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/message"
)

func fieldMsg(step int64, vals ...float64) message.Message {
	md := message.NewMetadata().SetString("precision", "double").
		SetInt("param", 130).SetInt("level", 1).SetInt("step", step)
	return message.New(message.TagField, message.NewPeer("server", 0), message.NewPeer("client", 0), md, float64Payload(vals...), int64(len(vals)))
}

func stepMsg(step int64) message.Message {
	return message.New(message.TagStepComplete, message.NewPeer("server", 0), message.NewPeer("client", 0),
		message.NewMetadata().SetInt("step", step), nil, 0)
}

func TestStatisticsMeanOverWindow(t *testing.T) {
	stats := action.NewStatistics(action.StatMean, 2)
	sink := &action.MemoryWriter{NameStr: "out"}
	action.Chain(stats, action.NewSink(sink))

	require.NoError(t, action.Forward(context.Background(), stats, fieldMsg(0, 2, 4)))
	require.NoError(t, action.Forward(context.Background(), stats, stepMsg(0)))
	require.Empty(t, sink.Messages, "window of 2 must not emit after only one StepComplete")

	require.NoError(t, action.Forward(context.Background(), stats, fieldMsg(1, 4, 8)))
	require.NoError(t, action.Forward(context.Background(), stats, stepMsg(1)))
	require.Len(t, sink.Messages, 1)
	require.Equal(t, []float64{3, 6}, decodeFloat64s(sink.Messages[0].Payload))
}

func TestStatisticsMinMax(t *testing.T) {
	min := action.NewStatistics(action.StatMin, 1)
	sinkMin := &action.MemoryWriter{NameStr: "min"}
	action.Chain(min, action.NewSink(sinkMin))
	require.NoError(t, action.Forward(context.Background(), min, fieldMsg(0, 5, 1)))
	require.NoError(t, action.Forward(context.Background(), min, stepMsg(0)))
	require.Equal(t, []float64{5, 1}, decodeFloat64s(sinkMin.Messages[0].Payload))

	max := action.NewStatistics(action.StatMax, 1)
	sinkMax := &action.MemoryWriter{NameStr: "max"}
	action.Chain(max, action.NewSink(sinkMax))
	require.NoError(t, action.Forward(context.Background(), max, fieldMsg(0, 5, 1)))
	require.NoError(t, action.Forward(context.Background(), max, stepMsg(0)))
	require.Equal(t, []float64{5, 1}, decodeFloat64s(sinkMax.Messages[0].Payload))
}

// A window of 1 emits its reduced Field on the first StepComplete; the Sink
// receives that Field (the forwarded StepComplete is dropped by the Sink).
func TestStatisticsEmitsReducedFieldOnStepComplete(t *testing.T) {
	stats := action.NewStatistics(action.StatAccumulate, 1)
	sink := &action.MemoryWriter{NameStr: "out"}
	action.Chain(stats, action.NewSink(sink))
	require.NoError(t, action.Forward(context.Background(), stats, fieldMsg(0, 1)))
	require.NoError(t, action.Forward(context.Background(), stats, stepMsg(0)))
	// one reduced Field plus the forwarded StepComplete control message itself
	require.Len(t, sink.Messages, 1, "Sink drops control messages but must still have received the one Field emission")
}

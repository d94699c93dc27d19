package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/message"
)

func oceanMsg(category string) message.Message {
	md := message.NewMetadata().SetString("category", category).SetString("precision", "double")
	return message.New(message.TagField, message.NewPeer("c", 0), message.NewPeer("s", 0), md, nil, 0)
}

// spec §8 scenario 4: selector drop.
func TestSelectDropsNonMatching(t *testing.T) {
	m := &action.MatchKeys{Keys: map[string][]message.Value{"category": {message.StringValue("ocean")}}}
	sel := action.NewSelect(m)

	require.True(t, sel.Matches(oceanMsg("ocean")))
	require.False(t, sel.Matches(oceanMsg("atmosphere")))
}

func TestSelectEmptyMatchesEverything(t *testing.T) {
	sel := action.NewSelect(nil)
	require.True(t, sel.Matches(oceanMsg("anything")))
}

// spec §4.3 / SPEC_FULL §4 item 2: control messages always pass regardless
// of the configured matcher.
func TestSelectAlwaysForwardsControlMessages(t *testing.T) {
	m := &action.MatchKeys{Keys: map[string][]message.Value{"category": {message.StringValue("ocean")}}}
	sel := action.NewSelect(m)

	step := message.New(message.TagStepComplete, message.NewPeer("c", 0), message.NewPeer("s", 0), message.NewMetadata(), nil, 0)
	require.True(t, sel.Matches(step))

	flush := message.New(message.TagFlush, message.NewPeer("c", 0), message.NewPeer("s", 0), message.NewMetadata(), nil, 0)
	require.True(t, sel.Matches(flush))
}

// spec §8 selector algebra: match(a) AND ignore(b) == match(a) AND NOT match(b).
func TestSelectorAlgebraMatchAndIgnore(t *testing.T) {
	matchA := &action.MatchKeys{Keys: map[string][]message.Value{"category": {message.StringValue("ocean")}}}
	ignoreB := &action.MatchKeys{Keys: map[string][]message.Value{"level": {message.IntValue(1)}}, Negate: true}
	combo := &action.MatchReduce{Op: action.ReduceAnd, Children: []action.Matcher{matchA, ignoreB}}

	matchBOnly := &action.MatchKeys{Keys: map[string][]message.Value{"level": {message.IntValue(1)}}}
	equivalent := &action.MatchReduce{Op: action.ReduceAnd, Children: []action.Matcher{
		matchA,
		&action.MatchReduce{Op: action.ReduceAnd, Negate: true, Children: []action.Matcher{matchBOnly}},
	}}

	cases := []message.Metadata{
		message.NewMetadata().SetString("category", "ocean").SetInt("level", 1),
		message.NewMetadata().SetString("category", "ocean").SetInt("level", 2),
		message.NewMetadata().SetString("category", "atmosphere").SetInt("level", 1),
	}
	selCombo := action.NewSelect(combo)
	selEquiv := action.NewSelect(equivalent)
	for _, md := range cases {
		msg := message.New(message.TagField, message.NewPeer("c", 0), message.NewPeer("s", 0), md, nil, 0)
		require.Equal(t, selEquiv.Matches(msg), selCombo.Matches(msg))
	}
}

// spec §8: not(not(x)) == x.
func TestSelectorDoubleNegationIsIdentity(t *testing.T) {
	base := &action.MatchKeys{Keys: map[string][]message.Value{"category": {message.StringValue("ocean")}}}
	doubleNeg := &action.MatchReduce{Op: action.ReduceAnd, Negate: true, Children: []action.Matcher{
		&action.MatchReduce{Op: action.ReduceAnd, Negate: true, Children: []action.Matcher{base}},
	}}

	selBase := action.NewSelect(base)
	selDouble := action.NewSelect(doubleNeg)
	for _, cat := range []string{"ocean", "atmosphere"} {
		msg := oceanMsg(cat)
		require.Equal(t, selBase.Matches(msg), selDouble.Matches(msg))
	}
}

func TestSelectForwardsMatchingMessage(t *testing.T) {
	m := &action.MatchKeys{Keys: map[string][]message.Value{"category": {message.StringValue("ocean")}}}
	sel := action.NewSelect(m)
	sink := &action.MemoryWriter{NameStr: "out"}
	action.Chain(sel, action.NewSink(sink))

	require.NoError(t, action.Forward(context.Background(), sel, oceanMsg("ocean")))
	require.Len(t, sink.Messages, 1)

	require.NoError(t, action.Forward(context.Background(), sel, oceanMsg("atmosphere")))
	require.Len(t, sink.Messages, 1, "non-matching message must be dropped, not forwarded")
}

package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/message"
)

func TestFieldIDDerivation(t *testing.T) {
	md := message.NewMetadata().
		SetString("param", "130").
		SetInt("level", 1).
		SetInt("step", 6)
	m := message.New(message.TagField, message.Peer{}, message.Peer{}, md, nil, 0)
	require.Equal(t, "param=130,level=1,step=6", m.FieldID())

	other := message.New(message.TagField, message.NewPeer("x", 1), message.NewPeer("y", 2), md.Clone(), []byte{1}, 1)
	require.Equal(t, m.FieldID(), other.FieldID(), "fieldId depends only on identifying metadata, not peers or payload")
}

func TestValidatePayloadSizeInvariant(t *testing.T) {
	md := message.NewMetadata().SetString("precision", "double")
	bad := message.New(message.TagField, message.Peer{}, message.Peer{}, md, []byte{1, 2, 3}, 1)
	require.Error(t, bad.Validate())

	good := message.New(message.TagField, message.Peer{}, message.Peer{}, md.Clone(), make([]byte, 16), 2)
	require.NoError(t, good.Validate())
}

func TestControlTagsAlwaysForwarded(t *testing.T) {
	require.True(t, message.TagStepComplete.IsControl())
	require.True(t, message.TagFlush.IsControl())
	require.False(t, message.TagField.IsControl())
}

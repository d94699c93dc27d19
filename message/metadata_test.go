package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/message"
)

func TestMetadataGetters(t *testing.T) {
	md := message.NewMetadata().
		SetBool("strict", true).
		SetInt("level", 850).
		SetFloat("missingValue", -9999.0).
		SetString("param", "130")

	b, err := md.GetBool("strict")
	require.NoError(t, err)
	require.True(t, b)

	i, err := md.GetInt("level")
	require.NoError(t, err)
	require.Equal(t, int64(850), i)

	_, err = md.GetInt("param")
	require.Error(t, err, "expected TypeMismatch for string accessed as int")

	_, err = md.GetString("missing-key")
	require.Error(t, err, "expected KeyNotFound")
}

func TestMetadataTextRoundTrip(t *testing.T) {
	md := message.NewMetadata().
		SetString("param", "130").
		SetInt("level", 1).
		SetBool("strict", false).
		Set("levels", message.ListValue(message.IntValue(1), message.IntValue(2), message.IntValue(3)))

	text, err := md.EncodeText()
	require.NoError(t, err)

	back, err := message.DecodeText(text)
	require.NoError(t, err)
	require.True(t, md.Equal(back), "round-tripped metadata must equal the original")
}

func TestMetadataRejectsNestedMaps(t *testing.T) {
	_, err := message.DecodeText("outer:\n  inner: 1\n")
	require.Error(t, err)
}

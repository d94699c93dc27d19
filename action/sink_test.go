package action_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/message"
)

func TestSinkIgnoresControlAndLifecycleMessages(t *testing.T) {
	sink := action.NewSink(&action.MemoryWriter{NameStr: "out"})
	for _, tag := range []message.Tag{message.TagStepComplete, message.TagFlush, message.TagOpen, message.TagClose} {
		msg := message.New(tag, message.NewPeer("c", 0), message.NewPeer("s", 0), message.NewMetadata(), nil, 0)
		out, err := sink.Execute(context.Background(), msg)
		require.NoError(t, err)
		require.Empty(t, out)
	}
	require.Empty(t, sink.Target.(*action.MemoryWriter).Messages)
}

func TestFileWriterWritesPayload(t *testing.T) {
	dir := t.TempDir()
	w := &action.FileWriter{Dir: dir}

	md := message.NewMetadata().SetString("precision", "double").SetInt("param", 130).SetInt("step", 0)
	msg := message.New(message.TagField, message.NewPeer("c", 0), message.NewPeer("s", 0), md, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 1)
	require.NoError(t, w.Write(msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, msg.Payload, data)
}

func TestFileWriterCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &action.FileWriter{Dir: dir, Compress: true}

	md := message.NewMetadata().SetString("precision", "double").SetInt("param", 131).SetInt("step", 3)
	payload := float64Payload(1, 2, 3, 4)
	msg := message.New(message.TagField, message.NewPeer("c", 0), message.NewPeer("s", 0), md, payload, 4)
	require.NoError(t, w.Write(msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), ".gz")

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	back, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, zr.Close())
	require.Equal(t, payload, back)
}

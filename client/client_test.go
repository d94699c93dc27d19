package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/client"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport/thread"
)

func recv(t *testing.T, tr *thread.Transport) message.Message {
	t.Helper()
	select {
	case msg := <-tr.Inbound():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return message.Message{}
	}
}

func TestClientLifecycleBroadcasts(t *testing.T) {
	hub := thread.NewHub()
	srvPeer := message.NewPeer("server", 0)
	srvTrans := thread.New(hub, srvPeer, nil)
	require.NoError(t, srvTrans.OpenConnections(context.Background()))

	cTrans := thread.New(hub, message.NewPeer("clients", 0), []message.Peer{srvPeer})
	c := client.New(cTrans)
	ctx := context.Background()

	require.NoError(t, c.OpenConnections(ctx))
	require.Equal(t, message.TagOpen, recv(t, srvTrans).Tag)

	desc, err := domain.NewUnstructured([]int32{0, 1}, 2)
	require.NoError(t, err)
	require.NoError(t, c.WriteDomain(ctx, "D", desc, nil))
	dm := recv(t, srvTrans)
	require.Equal(t, message.TagDomain, dm.Tag)
	require.Equal(t, "D", dm.Metadata.GetStringDefault("domain", ""))
	require.Equal(t, desc.Bytes(), dm.Payload)

	require.NoError(t, c.CloseConnections(ctx))
	require.Equal(t, message.TagClose, recv(t, srvTrans).Tag)
}

// A buffered partition stays local until the step barrier, then arrives
// ahead of the StepComplete that flushed it.
func TestClientBufferedFieldFlushedByStepComplete(t *testing.T) {
	hub := thread.NewHub()
	srvPeer := message.NewPeer("server", 0)
	srvTrans := thread.New(hub, srvPeer, nil)
	require.NoError(t, srvTrans.OpenConnections(context.Background()))

	cTrans := thread.New(hub, message.NewPeer("clients", 0), []message.Peer{srvPeer})
	require.NoError(t, cTrans.OpenConnections(context.Background()))
	c := client.New(cTrans)
	ctx := context.Background()

	md := message.NewMetadata().SetString("domain", "D").SetString("precision", "double").
		SetInt("param", 130).SetInt("step", 0)
	require.NoError(t, c.WriteFieldBuffered(ctx, srvPeer, md, make([]byte, 16), 2))

	select {
	case <-srvTrans.Inbound():
		t.Fatal("buffered field delivered before the step barrier")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.WriteStepComplete(ctx, nil))
	require.Equal(t, message.TagField, recv(t, srvTrans).Tag)
	require.Equal(t, message.TagStepComplete, recv(t, srvTrans).Tag)
}

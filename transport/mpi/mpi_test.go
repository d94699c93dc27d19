package mpi_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport/mpi"
)

func TestSendToSelfOverLoopbackComm(t *testing.T) {
	comm := mpi.NewLoopbackComm()
	self := message.NewPeer("multio", 0)
	tr := mpi.New(comm, "multio", map[message.Peer]int{self: 0})
	require.NoError(t, tr.OpenConnections(context.Background()))
	defer tr.CloseConnections()

	md := message.NewMetadata().SetString("param", "130")
	msg := message.New(message.TagField, self, self, md, []byte{1, 2, 3, 4}, 1)
	require.NoError(t, tr.Send(context.Background(), self, msg))

	select {
	case got := <-tr.Inbound():
		require.Equal(t, msg.FieldID(), got.FieldID())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loopback delivery")
	}
}

func TestBufferedSendFlushBatchesIntoOneFrame(t *testing.T) {
	comm := mpi.NewLoopbackComm()
	self := message.NewPeer("multio", 0)
	tr := mpi.New(comm, "multio", map[message.Peer]int{self: 0})
	require.NoError(t, tr.OpenConnections(context.Background()))
	defer tr.CloseConnections()

	for i := 0; i < 3; i++ {
		md := message.NewMetadata().SetInt("step", int64(i))
		msg := message.New(message.TagStepComplete, self, self, md, nil, 0)
		require.NoError(t, tr.BufferedSend(context.Background(), self, msg))
	}
	require.NoError(t, tr.Flush(context.Background(), message.Peer{}))

	for i := 0; i < 3; i++ {
		select {
		case <-tr.Inbound():
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for batched message %d", i)
		}
	}
}

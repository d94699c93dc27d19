package tcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport/tcp"
)

func TestSendOverTCPRoundTrips(t *testing.T) {
	serverPeer := message.NewPeer("server", 0)
	clientPeer := message.NewPeer("client", 0)

	srv := tcp.New(tcp.Config{Local: serverPeer, ListenAddr: "127.0.0.1:0"})
	require.NoError(t, srv.OpenConnections(context.Background()))
	defer srv.CloseConnections()

	addr := srv.ListenAddr()
	cli := tcp.New(tcp.Config{
		Local:     clientPeer,
		PeerAddrs: map[message.Peer]string{serverPeer: addr},
	})
	require.NoError(t, cli.OpenConnections(context.Background()))
	defer cli.CloseConnections()

	md := message.NewMetadata().SetString("param", "130")
	msg := message.New(message.TagField, clientPeer, serverPeer, md, []byte{1, 2, 3, 4}, 1)
	require.NoError(t, cli.Send(context.Background(), serverPeer, msg))

	select {
	case got := <-srv.Inbound():
		require.Equal(t, msg.FieldID(), got.FieldID())
		require.Equal(t, msg.Payload, got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message over tcp")
	}
}

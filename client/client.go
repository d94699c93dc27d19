// Package client implements spec §4.8 ("Client"): the façade simulation
// code uses to open/close connections, register domain partitions, send
// field partials, and signal step/flush barriers. Grounded on
// original_source/src/multio/api/MultioClient.cc (the method set: open,
// close, writeDomain, writeField, writeStepComplete, notify) and the
// teacher's cluster/mock package's thin-facade-over-a-backing-interface
// shape, generalized here over transport.Transport instead of a REST
// client.
package client

import (
	"context"

	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
)

// Client is the simulation-facing API surface (spec §4.8, §6 foreign API
// mirrors these one-to-one: open_connections, close_connections,
// write_domain, write_field, write_step_complete, notify).
type Client struct {
	Transport transport.Transport
	Local     message.Peer
	Servers   []message.Peer // destinations for broadcast operations (Open/Close/StepComplete/Flush)
}

func New(trans transport.Transport) *Client {
	return &Client{
		Transport: trans,
		Local:     trans.LocalPeer(),
		Servers:   trans.ServerPeers(),
	}
}

// OpenConnections broadcasts an Open control message to every configured
// server (spec §4.1 "openConnections()").
func (c *Client) OpenConnections(ctx context.Context) error {
	if err := c.Transport.OpenConnections(ctx); err != nil {
		return err
	}
	return c.broadcast(ctx, message.TagOpen, message.NewMetadata(), nil, 0)
}

// CloseConnections broadcasts a Close control message to every configured
// server and then tears the transport down.
func (c *Client) CloseConnections(ctx context.Context) error {
	if err := c.broadcast(ctx, message.TagClose, message.NewMetadata(), nil, 0); err != nil {
		return err
	}
	return c.Transport.CloseConnections()
}

// WriteStepComplete flushes any buffered partitions and then broadcasts a
// StepComplete control message, the client-side half of the flush/step
// barrier from spec §4.3/§4.4. Flushing first preserves the per-client
// ordering guarantee: a server never sees a step's barrier before the
// step's data.
func (c *Client) WriteStepComplete(ctx context.Context, md message.Metadata) error {
	if md == nil {
		md = message.NewMetadata()
	}
	if err := c.Transport.Flush(ctx, message.Peer{}); err != nil {
		return err
	}
	return c.broadcast(ctx, message.TagStepComplete, md, nil, 0)
}

// WriteFlush broadcasts a Flush control message.
func (c *Client) WriteFlush(ctx context.Context, md message.Metadata) error {
	if md == nil {
		md = message.NewMetadata()
	}
	return c.broadcast(ctx, message.TagFlush, md, nil, 0)
}

// WriteDomain registers this client's partition descriptor for a domain
// name under md["domain"], sending the raw encoding to every server (spec
// §4.5 "domains are added via domain messages").
func (c *Client) WriteDomain(ctx context.Context, name string, desc domain.Descriptor, md message.Metadata) error {
	if md == nil {
		md = message.NewMetadata()
	}
	md = md.Clone()
	md.SetString("domain", name)
	switch desc.Kind() {
	case domain.KindStructured:
		md.SetString("representation", "structured")
	case domain.KindSpectral:
		md.SetString("representation", "spectral")
	default:
		md.SetString("representation", "unstructured")
		md.SetInt("globalSize", desc.GlobalSize())
	}
	return c.broadcast(ctx, message.TagDomain, md, desc.Bytes(), 0)
}

// WriteField sends one client's partition of a field (spec §4.8
// "write_field"). globalSize is the declared total element count of the
// assembled field (spec §9 open question: element count, not byte count).
func (c *Client) WriteField(ctx context.Context, dst message.Peer, md message.Metadata, payload []byte, globalSize int64) error {
	msg := message.New(message.TagField, c.Local, dst, md, payload, globalSize)
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.Transport.Send(ctx, dst, msg)
}

// WriteFieldBuffered enqueues one partition into the transport's streaming
// buffer instead of sending immediately; it reaches the server on the next
// WriteStepComplete, explicit transport flush, or when the buffer hits its
// high-water mark (spec §4.1 "bufferedSend").
func (c *Client) WriteFieldBuffered(ctx context.Context, dst message.Peer, md message.Metadata, payload []byte, globalSize int64) error {
	msg := message.New(message.TagField, c.Local, dst, md, payload, globalSize)
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.Transport.BufferedSend(ctx, dst, msg)
}

// Notify sends a user-defined out-of-band signal (spec §6 "notify").
func (c *Client) Notify(ctx context.Context, dst message.Peer, md message.Metadata) error {
	return c.Transport.Send(ctx, dst, message.New(message.TagNotification, c.Local, dst, md, nil, 0))
}

func (c *Client) broadcast(ctx context.Context, tag message.Tag, md message.Metadata, payload []byte, globalSize int64) error {
	for _, dst := range c.Servers {
		msg := message.New(tag, c.Local, dst, md.Clone(), payload, globalSize)
		if err := c.Transport.Send(ctx, dst, msg); err != nil {
			return err
		}
	}
	return nil
}

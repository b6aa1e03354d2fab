package transport

import (
	"context"
	"sync"

	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

// Onet sends the requests over the websocket interface of the conodes,
// using one onet.Client per service.
type Onet struct {
	sync.Mutex
	clients map[string]*onet.Client
}

// NewOnet returns a transport without any open connection.
func NewOnet() *Onet {
	return &Onet{clients: make(map[string]*onet.Client)}
}

// Send implements Transport. The onet client has its own timeout, the call
// returns early with an error if ctx is done before.
func (o *Onet) Send(ctx context.Context, dst *network.ServerIdentity, service, path string,
	buf []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "before sending")
	}
	c := o.client(service)
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := c.Send(dst, path, buf)
		done <- result{reply, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, ocs.Wrap(ocs.ErrCommunication, r.err, "sending to "+dst.Address.String())
		}
		return r.buf, nil
	case <-ctx.Done():
		return nil, ocs.Wrap(ocs.ErrCommunication, ctx.Err(), "waiting for "+dst.Address.String())
	}
}

// Close closes all connections.
func (o *Onet) Close() error {
	o.Lock()
	defer o.Unlock()
	var firstErr error
	for name, c := range o.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = ocs.Wrap(ocs.ErrCommunication, err, "closing "+name)
		}
	}
	o.clients = make(map[string]*onet.Client)
	return firstErr
}

func (o *Onet) client(service string) *onet.Client {
	o.Lock()
	defer o.Unlock()
	c, ok := o.clients[service]
	if !ok {
		c = onet.NewClient(ocs.Suite, service)
		o.clients[service] = c
	}
	return c
}

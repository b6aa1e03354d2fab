package client

import (
	"context"

	"go.dedis.ch/ocs/service"
	"go.dedis.ch/ocs/transport"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
)

// NodeStatus is the answer of one node to a status request. Err is nil if
// the node is healthy.
type NodeStatus struct {
	Server *network.ServerIdentity
	Status map[string]*onet.Status
	Err    error
}

// VerifyNodes sends a status request to every node of the roster at the
// same time. Every node gets its own timeout. The result is in the order of
// the roster.
func (c *Client) VerifyNodes(ctx context.Context) []NodeStatus {
	roster := c.Config().Roster
	type result struct {
		index  int
		status NodeStatus
	}
	results := make(chan result, len(roster.List))
	for i, si := range roster.List {
		go func(i int, si *network.ServerIdentity) {
			results <- result{i, c.probe(ctx, si)}
		}(i, si)
	}
	statuses := make([]NodeStatus, len(roster.List))
	for range roster.List {
		r := <-results
		statuses[r.index] = r.status
	}
	return statuses
}

// Verify returns true if every node of the roster answers the status
// request.
func (c *Client) Verify(ctx context.Context) bool {
	ok := true
	for _, s := range c.VerifyNodes(ctx) {
		if s.Err != nil {
			log.Warnf("Node %s is not healthy: %v", s.Server.Address, s.Err)
			ok = false
		}
	}
	return ok
}

func (c *Client) probe(ctx context.Context, si *network.ServerIdentity) NodeStatus {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()
	resp := &service.StatusResponse{}
	err := transport.Call(ctx, c.transport, si, service.StatusServiceName, service.StatusPath,
		&service.StatusRequest{}, resp)
	if err != nil {
		return NodeStatus{Server: si, Err: err}
	}
	log.Lvl3("Got status from", si.Address)
	return NodeStatus{Server: si, Status: resp.Status}
}

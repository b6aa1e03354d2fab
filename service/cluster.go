package service

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/ocs/transport"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
)

var darcsBucket = []byte("darcs")

type handler func(dst *network.ServerIdentity, buf []byte) ([]byte, error)

// Cluster runs the reference ledger behind a roster of simulated nodes. It
// implements transport.Transport, so a client can use it in place of the
// network. Every node shares the state of the ledger but holds its own
// share of the secret. A node can be taken down, it then refuses every
// request and doesn't take part in re-encryptions.
type Cluster struct {
	Roster  *onet.Roster
	Service *Service

	sync.Mutex
	down     map[string]bool
	calls    map[string]int
	handlers map[string]handler
	dir      string
	db       *DarcDB
}

// NewCluster starts n nodes with a fresh darc database in a temporary
// directory.
func NewCluster(n int) (*Cluster, error) {
	if n <= 0 {
		return nil, errors.New("need at least one node")
	}
	dir, err := ioutil.TempDir("", "ocs-ledger")
	if err != nil {
		return nil, err
	}
	db, err := OpenDarcDB(filepath.Join(dir, "darcs.db"), darcsBucket)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	list := make([]*network.ServerIdentity, n)
	for i := range list {
		kp := key.NewKeyPair(ocs.Suite)
		addr := network.NewAddress(network.PlainTCP, fmt.Sprintf("127.0.0.1:%d", 2000+2*i))
		list[i] = network.NewServerIdentity(kp.Public, addr)
		list[i].Description = fmt.Sprintf("node %d", i)
	}
	c := &Cluster{
		Roster:   onet.NewRoster(list),
		Service:  NewService(db),
		down:     make(map[string]bool),
		calls:    make(map[string]int),
		handlers: make(map[string]handler),
		dir:      dir,
		db:       db,
	}
	c.Service.SetReachable(func(si *network.ServerIdentity) bool {
		return !c.IsDown(si)
	})
	s := c.Service
	if err := c.register(ServiceName, s.CreateSkipchains,
		s.WriteRequest, s.ReadRequest, s.GetReadRequests,
		s.DecryptKeyRequest, s.SharedPublic,
		s.UpdateDarc, s.GetDarcPath,
		s.GetLatestDarc); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.register(skipchain.ServiceName, s.GetSingleBlock); err != nil {
		c.Close()
		return nil, err
	}
	c.handlers[StatusServiceName+"/"+StatusPath] = c.status
	log.Lvl2("Started cluster with", n, "nodes in", dir)
	return c, nil
}

// register adds handlers of the form func(*Request) (*Reply, error) to the
// service. The path of a handler is the name of its request type.
func (c *Cluster) register(service string, fns ...interface{}) error {
	for _, fn := range fns {
		f := reflect.ValueOf(fn)
		t := f.Type()
		if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 2 ||
			t.In(0).Kind() != reflect.Ptr || t.Out(0).Kind() != reflect.Ptr {
			return fmt.Errorf("handler %s must be func(*Request) (*Reply, error)", t)
		}
		req := t.In(0).Elem()
		c.handlers[service+"/"+req.Name()] = func(_ *network.ServerIdentity, buf []byte) ([]byte, error) {
			msg := reflect.New(req)
			if err := transport.Decode(buf, msg.Interface()); err != nil {
				return nil, err
			}
			out := f.Call([]reflect.Value{msg})
			if err, _ := out[1].Interface().(error); err != nil {
				return nil, err
			}
			return transport.Encode(out[0].Interface())
		}
	}
	return nil
}

func (c *Cluster) status(dst *network.ServerIdentity, buf []byte) ([]byte, error) {
	if err := transport.Decode(buf, &StatusRequest{}); err != nil {
		return nil, err
	}
	c.Service.process.RLock()
	ledgers := len(c.Service.chains)
	c.Service.process.RUnlock()
	return transport.Encode(&StatusResponse{
		Status: map[string]*onet.Status{
			ServiceName: {Field: map[string]string{
				"Ledgers": fmt.Sprintf("%d", ledgers),
			}},
		},
		ServerIdentity: dst,
	})
}

// Send implements transport.Transport. Errors of the ledger cross the
// network as text.
func (c *Cluster) Send(ctx context.Context, dst *network.ServerIdentity, service, path string,
	buf []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "before sending")
	}
	if dst == nil || dst.Public == nil {
		return nil, errors.New("no destination")
	}
	node := dst.Public.String()
	c.Lock()
	if !c.known(dst) {
		c.Unlock()
		return nil, fmt.Errorf("unknown node %s", dst.Address)
	}
	c.calls[node]++
	down := c.down[node]
	h, ok := c.handlers[service+"/"+path]
	c.Unlock()

	if down {
		return nil, fmt.Errorf("%s: connection refused", dst.Address)
	}
	if !ok {
		return nil, fmt.Errorf("no handler for %s/%s", service, path)
	}
	log.Lvlf3("%s: handling %s/%s", dst.Address, service, path)
	reply, err := h(dst, buf)
	if err != nil {
		log.Lvl2(dst.Address, "refused", path+":", err)
		return nil, errors.New(err.Error())
	}
	return reply, nil
}

func (c *Cluster) known(si *network.ServerIdentity) bool {
	for _, s := range c.Roster.List {
		if s.Public.Equal(si.Public) {
			return true
		}
	}
	return false
}

// SetDown takes node i of the roster down or brings it back.
func (c *Cluster) SetDown(i int, down bool) {
	c.Lock()
	defer c.Unlock()
	c.down[c.Roster.List[i].Public.String()] = down
}

// IsDown returns whether the node is down.
func (c *Cluster) IsDown(si *network.ServerIdentity) bool {
	c.Lock()
	defer c.Unlock()
	return c.down[si.Public.String()]
}

// Calls returns the number of requests node i received, including the
// refused ones.
func (c *Cluster) Calls(i int) int {
	c.Lock()
	defer c.Unlock()
	return c.calls[c.Roster.List[i].Public.String()]
}

// TotalCalls returns the number of requests sent to all nodes.
func (c *Cluster) TotalCalls() int {
	c.Lock()
	defer c.Unlock()
	sum := 0
	for _, n := range c.calls {
		sum += n
	}
	return sum
}

// Close closes the database and removes its directory.
func (c *Cluster) Close() error {
	err := c.db.Close()
	if errRm := os.RemoveAll(c.dir); err == nil {
		err = errRm
	}
	return err
}

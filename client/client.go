// Package client talks to an onchain-secrets ledger. A Client starts
// unattached; CreateChain or Attach bind it to one ledger, after which
// writers can publish documents and readers can ask for the re-encryption of
// the symmetric key of a document.
//
// All requests go to the first node of the roster of the ledger. The shared
// public key and the admin darc are cached when the client is bound and only
// change on an explicit refresh.
package client

import (
	"context"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/resolver"
	"go.dedis.ch/ocs/service"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/ocs/transport"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

// ErrUnattached is returned by the calls that need a ledger when the client
// is not bound to one yet.
var ErrUnattached = xerrors.New("client is not attached to a ledger")

// ErrAttached is returned by CreateChain and Attach when the client is
// already bound to a ledger. Use a new client for another ledger.
var ErrAttached = xerrors.New("client is already attached to a ledger")

// ChainState is what the client knows about its ledger.
type ChainState struct {
	sync.Mutex
	ledgerID skipchain.SkipBlockID
	roster   *onet.Roster
	x        kyber.Point
	admin    *darc.Darc
}

// Client is bound to at most one ledger.
type Client struct {
	cfg       Config
	transport transport.Transport
	state     ChainState
}

// NewClient returns an unattached client. The configuration is copied.
func NewClient(cfg Config, t transport.Transport) (*Client, error) {
	if cfg.Roster == nil || len(cfg.Roster.List) == 0 {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "empty roster")
	}
	if t == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no transport")
	}
	return &Client{cfg: cfg, transport: t}, nil
}

// Config returns the configuration of the client, with the ledger id set
// once the client is attached.
func (c *Client) Config() Config {
	cfg := c.cfg
	c.state.Lock()
	defer c.state.Unlock()
	if c.state.ledgerID != nil {
		cfg.LedgerID = c.state.ledgerID
		cfg.Roster = c.state.roster
	}
	return cfg
}

// LedgerID returns the genesis id of the ledger, or nil if unattached.
func (c *Client) LedgerID() skipchain.SkipBlockID {
	c.state.Lock()
	defer c.state.Unlock()
	return c.state.ledgerID
}

// SharedPublicKey returns the cached public key of the ledger.
func (c *Client) SharedPublicKey() kyber.Point {
	c.state.Lock()
	defer c.state.Unlock()
	return c.state.x
}

// CachedAdminDarc returns the admin darc as known by the client. It must not
// be modified.
func (c *Client) CachedAdminDarc() *darc.Darc {
	c.state.Lock()
	defer c.state.Unlock()
	return c.state.admin
}

// CreateChain sets up a new ledger on the roster of the configuration with
// admin as admin darc and binds the client to it.
func (c *Client) CreateChain(ctx context.Context, admin *darc.Darc) (skipchain.SkipBlockID, error) {
	if _, _, err := c.attached(); err == nil {
		return nil, ErrAttached
	}
	if admin == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "no admin darc")
	}
	if admin.Version != 0 || admin.PrevID != nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "admin darc must be a base darc")
	}
	reply := &service.CreateSkipchainsReply{}
	req := &service.CreateSkipchainsRequest{Roster: *c.cfg.Roster, Writers: *admin}
	if err := c.send(ctx, c.cfg.Roster.List[0], service.ServiceName, req, reply); err != nil {
		return nil, err
	}
	if reply.OCS == nil || reply.X == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "incomplete reply to ledger creation")
	}
	c.bind(reply.OCS.Hash, c.cfg.Roster, reply.X, admin)
	log.Lvlf1("Created ledger %x", []byte(reply.OCS.Hash))
	return reply.OCS.Hash, nil
}

// Attach binds the client to an existing ledger. The genesis block must hold
// the admin darc.
func (c *Client) Attach(ctx context.Context, ledgerID skipchain.SkipBlockID) error {
	if _, _, err := c.attached(); err == nil {
		return ErrAttached
	}
	if err := ledgerID.Check(); err != nil {
		return err
	}
	genesis, err := c.getSkipblock(ctx, c.cfg.Roster.List[0], ledgerID)
	if err != nil {
		return err
	}
	if genesis.Index != 0 {
		return ocs.Errorf(ocs.ErrCommunication, "block %x is not a genesis block", []byte(ledgerID))
	}
	tx, err := service.NewTransaction(genesis.Data)
	if err != nil {
		return err
	}
	if tx.Darc == nil || tx.Write != nil || tx.Read != nil {
		return ocs.Errorf(ocs.ErrCommunication, "genesis block doesn't hold an admin transaction")
	}
	roster := c.cfg.Roster
	if genesis.Roster != nil && len(genesis.Roster.List) > 0 {
		roster = genesis.Roster
	}
	reply := &service.SharedPublicReply{}
	err = c.send(ctx, roster.List[0], service.ServiceName,
		&service.SharedPublicRequest{Genesis: ledgerID}, reply)
	if err != nil {
		return err
	}
	if reply.X == nil {
		return ocs.Errorf(ocs.ErrCommunication, "no shared public key in reply")
	}
	c.bind(ledgerID, roster, reply.X, tx.Darc)
	log.Lvlf2("Attached to ledger %x", []byte(ledgerID))
	return nil
}

// UpdateDarc stores a new darc or a new version of a darc on the ledger. A
// new version must be a valid evolution of prev, which is checked before
// anything is sent. The cached admin darc is not changed, use
// RefreshAdminDarc for that.
func (c *Client) UpdateDarc(ctx context.Context, prev, next *darc.Darc) (*skipchain.SkipBlock, error) {
	if next == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "no darc")
	}
	if next.Version > 0 {
		if err := next.VerifyEvolution(prev); err != nil {
			return nil, err
		}
	} else if next.PrevID != nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "base darc with a previous id")
	}
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.UpdateDarcReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.UpdateDarc{OCS: ledgerID, Darc: *next}, reply)
	if err != nil {
		return nil, err
	}
	if reply.SB == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no block in reply")
	}
	return reply.SB, nil
}

// CreateWriteRequest sends a write with the signature of a writer of the
// admin darc on the id of the reader darc. If readers is given, it is
// stored as the reader darc of the write.
func (c *Client) CreateWriteRequest(ctx context.Context, write *service.Write, sig *darc.Signature,
	readers *darc.Darc) (*skipchain.SkipBlock, error) {
	if write == nil || sig == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "write or signature missing")
	}
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.WriteReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.WriteRequest{
		OCS:       ledgerID,
		Write:     *write,
		Signature: *sig,
		Readers:   readers,
	}, reply)
	if err != nil {
		return nil, err
	}
	if reply.SB == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no block in reply")
	}
	return reply.SB, nil
}

// WriteDocument encrypts key for the ledger, binds it to the reader darc and
// publishes it together with data. The signer needs a path to the writer
// role from the admin darc.
func (c *Client) WriteDocument(ctx context.Context, data, key []byte, readers *darc.Darc,
	signer darc.Signer) (*skipchain.SkipBlock, error) {
	if readers == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "no reader darc")
	}
	ledgerID, _, err := c.attached()
	if err != nil {
		return nil, err
	}
	admin := c.CachedAdminDarc()
	path, err := c.Resolve(ctx, admin.GetID(), signer.Identity(), darc.Writer)
	if err != nil {
		return nil, err
	}
	sig, err := darc.NewDarcSignature(readers.GetID(), path, signer)
	if err != nil {
		return nil, err
	}
	write := service.NewWrite(ocs.Suite, ledgerID, c.SharedPublicKey(), readers, key)
	write.Data = data
	return c.CreateWriteRequest(ctx, write, sig, readers)
}

// GetDarcPath asks the ledger for a path from the base darc to the identity
// for the role. The path is not verified, use Resolve for that.
func (c *Client) GetDarcPath(ctx context.Context, base darc.ID, id darc.Identity,
	role darc.Role) ([]*darc.Darc, error) {
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.GetDarcPathReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.GetDarcPath{
		OCS:        ledgerID,
		BaseDarcID: base,
		Identity:   id,
		Role:       int(role),
	}, reply)
	if err != nil {
		return nil, err
	}
	return reply.Path, nil
}

// Resolve returns a verified signature path from the base darc to target.
func (c *Client) Resolve(ctx context.Context, base darc.ID, target darc.Identity,
	role darc.Role) (*darc.SignaturePath, error) {
	return resolver.New(c).Resolve(ctx, base, target, role)
}

// CreateReadRequest asks the ledger to add a read-request. The ledger checks
// the signature of the reader.
func (c *Client) CreateReadRequest(ctx context.Context, read *service.Read) (*skipchain.SkipBlock, error) {
	if read == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "no read")
	}
	if err := read.DataID.Check(); err != nil {
		return nil, err
	}
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.ReadReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.ReadRequest{OCS: ledgerID, Read: *read}, reply)
	if err != nil {
		return nil, err
	}
	if reply.SB == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no block in reply")
	}
	return reply.SB, nil
}

// ReadDocument signs a read-request for the write with a path from its
// reader darc to the signer.
func (c *Client) ReadDocument(ctx context.Context, writeID skipchain.SkipBlockID,
	signer darc.Signer) (*skipchain.SkipBlock, error) {
	sig, err := c.signForWrite(ctx, writeID, writeID, signer)
	if err != nil {
		return nil, err
	}
	return c.CreateReadRequest(ctx, &service.Read{DataID: writeID, Signature: *sig})
}

// SignEphemeral signs the ephemeral key with a path from the reader darc of
// the write to the signer.
func (c *Client) SignEphemeral(ctx context.Context, writeID skipchain.SkipBlockID, signer darc.Signer,
	ephemeral kyber.Point) (*darc.Signature, error) {
	buf, err := ephemeral.MarshalBinary()
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "ephemeral key")
	}
	return c.signForWrite(ctx, writeID, buf, signer)
}

// GetDecryptionKey returns the key of the document re-encrypted under the
// public key of the reader of the read-request.
func (c *Client) GetDecryptionKey(ctx context.Context, readID skipchain.SkipBlockID) (*service.DecryptKeyReply, error) {
	return c.decryptKey(ctx, &service.DecryptKeyRequest{Read: readID})
}

// GetDecryptionKeyEphemeral returns the key of the document re-encrypted
// under the ephemeral key. The signature on the ephemeral key must come from
// the reader of the read-request.
func (c *Client) GetDecryptionKeyEphemeral(ctx context.Context, readID skipchain.SkipBlockID,
	sig *darc.Signature, ephemeral kyber.Point) (*service.DecryptKeyReply, error) {
	if ephemeral == nil || sig == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "ephemeral key or signature missing")
	}
	return c.decryptKey(ctx, &service.DecryptKeyRequest{Read: readID, Ephemeral: ephemeral, Signature: sig})
}

// GetLatestDarcChain returns all versions of the darc from the one with the
// given id to the latest one. The versions are checked to be valid
// evolutions of each other.
func (c *Client) GetLatestDarcChain(ctx context.Context, id darc.ID) ([]*darc.Darc, error) {
	if err := darc.CheckID(id); err != nil {
		return nil, err
	}
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.GetLatestDarcReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.GetLatestDarc{OCS: ledgerID, DarcID: id}, reply)
	if err != nil {
		return nil, err
	}
	if len(reply.Darcs) == 0 || reply.Darcs[0] == nil || !reply.Darcs[0].GetID().Equal(id) {
		return nil, ocs.Errorf(ocs.ErrCommunication, "reply doesn't start with darc %x", []byte(id))
	}
	if err := darc.VerifyChain(reply.Darcs); err != nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "invalid darc chain in reply: %v", err)
	}
	return reply.Darcs, nil
}

// AdminDarc returns the latest version of the admin darc as stored on the
// ledger. The cache is not changed.
func (c *Client) AdminDarc(ctx context.Context) (*darc.Darc, error) {
	if _, _, err := c.attached(); err != nil {
		return nil, err
	}
	darcs, err := c.GetLatestDarcChain(ctx, c.CachedAdminDarc().GetID())
	if err != nil {
		return nil, err
	}
	return darcs[len(darcs)-1], nil
}

// RefreshAdminDarc replaces the cached admin darc with its latest version.
func (c *Client) RefreshAdminDarc(ctx context.Context) (*darc.Darc, error) {
	latest, err := c.AdminDarc(ctx)
	if err != nil {
		return nil, err
	}
	c.state.Lock()
	c.state.admin = latest
	c.state.Unlock()
	return latest, nil
}

// RefreshSharedPublicKey asks the ledger for its public key again.
func (c *Client) RefreshSharedPublicKey(ctx context.Context) (kyber.Point, error) {
	ledgerID, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.SharedPublicReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.SharedPublicRequest{Genesis: ledgerID}, reply)
	if err != nil {
		return nil, err
	}
	if reply.X == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no shared public key in reply")
	}
	c.state.Lock()
	c.state.x = reply.X
	c.state.Unlock()
	return reply.X, nil
}

// GetSkipblock returns the block with the given id.
func (c *Client) GetSkipblock(ctx context.Context, id skipchain.SkipBlockID) (*skipchain.SkipBlock, error) {
	if err := id.Check(); err != nil {
		return nil, err
	}
	_, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	return c.getSkipblock(ctx, leader, id)
}

// GetTransaction returns the transaction stored in the block.
func (c *Client) GetTransaction(ctx context.Context, id skipchain.SkipBlockID) (*service.Transaction, error) {
	sb, err := c.GetSkipblock(ctx, id)
	if err != nil {
		return nil, err
	}
	return service.NewTransaction(sb.Data)
}

// GetWrite returns the write stored in the block.
func (c *Client) GetWrite(ctx context.Context, id skipchain.SkipBlockID) (*service.Write, error) {
	tx, err := c.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Write == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "block %x holds no write", []byte(id))
	}
	return tx.Write, nil
}

// GetRead returns the read-request stored in the block.
func (c *Client) GetRead(ctx context.Context, id skipchain.SkipBlockID) (*service.Read, error) {
	tx, err := c.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Read == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "block %x holds no read", []byte(id))
	}
	return tx.Read, nil
}

// ListReadRequests returns the read-requests for the write if count is 0, or
// up to count read-requests of any document, starting at the given block.
func (c *Client) ListReadRequests(ctx context.Context, start skipchain.SkipBlockID,
	count int) ([]*service.ReadDoc, error) {
	if err := start.Check(); err != nil {
		return nil, err
	}
	_, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.GetReadRequestsReply{}
	err = c.send(ctx, leader, service.ServiceName, &service.GetReadRequests{Start: start, Count: count}, reply)
	if err != nil {
		return nil, err
	}
	return reply.Documents, nil
}

func (c *Client) bind(ledgerID skipchain.SkipBlockID, roster *onet.Roster, x kyber.Point, admin *darc.Darc) {
	c.state.Lock()
	defer c.state.Unlock()
	c.state.ledgerID = ledgerID
	c.state.roster = roster
	c.state.x = x
	c.state.admin = admin
}

// attached returns the ledger id and the node the requests go to.
func (c *Client) attached() (skipchain.SkipBlockID, *network.ServerIdentity, error) {
	c.state.Lock()
	defer c.state.Unlock()
	if c.state.ledgerID == nil {
		return nil, nil, ErrUnattached
	}
	return c.state.ledgerID, c.state.roster.List[0], nil
}

// send applies the timeout of the configuration to one request.
func (c *Client) send(ctx context.Context, dst *network.ServerIdentity, name string, msg, ret interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()
	return transport.SendProtobuf(ctx, c.transport, dst, name, msg, ret)
}

func (c *Client) getSkipblock(ctx context.Context, dst *network.ServerIdentity,
	id skipchain.SkipBlockID) (*skipchain.SkipBlock, error) {
	sb := skipchain.NewSkipBlock()
	if err := c.send(ctx, dst, skipchain.ServiceName, &skipchain.GetSingleBlock{ID: id}, sb); err != nil {
		return nil, err
	}
	if sb.SkipBlockFix == nil || !sb.Hash.Equal(id) || !sb.CalculateHash().Equal(id) {
		return nil, ocs.Errorf(ocs.ErrCommunication, "got wrong block instead of %x", []byte(id))
	}
	return sb, nil
}

func (c *Client) decryptKey(ctx context.Context, req *service.DecryptKeyRequest) (*service.DecryptKeyReply, error) {
	if err := req.Read.Check(); err != nil {
		return nil, err
	}
	_, leader, err := c.attached()
	if err != nil {
		return nil, err
	}
	reply := &service.DecryptKeyReply{}
	if err := c.send(ctx, leader, service.ServiceName, req, reply); err != nil {
		return nil, err
	}
	if reply.XhatEnc == nil || len(reply.Cs) == 0 {
		return nil, ocs.Errorf(ocs.ErrCommunication, "incomplete decryption key")
	}
	return reply, nil
}

// signForWrite signs msg with a path from the reader darc of the write to
// the signer.
func (c *Client) signForWrite(ctx context.Context, writeID skipchain.SkipBlockID, msg []byte,
	signer darc.Signer) (*darc.Signature, error) {
	write, err := c.GetWrite(ctx, writeID)
	if err != nil {
		return nil, err
	}
	path, err := c.Resolve(ctx, write.Reader.GetID(), signer.Identity(), darc.Reader)
	if err != nil {
		return nil, err
	}
	return darc.NewDarcSignature(msg, path, signer)
}

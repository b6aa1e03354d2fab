// Package service is the ledger side of the onchain-secrets protocol: the
// messages exchanged with the client, the ElGamal encryption of the
// symmetric key by the writer, and a reference implementation of the ledger
// that runs in-process.
//
// The reference ledger keeps one chain of blocks per ledger, stores the
// darcs in a bolt database and deals the ledger secret to the nodes of the
// roster with a polynomial secret sharing. Re-encryption collects a proven
// share from every reachable node and needs a threshold of them. It
// verifies every request like a real ledger would: darc evolutions, the
// writer signature and proof of a write, the reader signature of a read and
// the ephemeral signature of a decryption.
package service

import (
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
)

// Service holds all ledgers of the reference implementation.
type Service struct {
	// process protects chains and the blocks. Requests appending blocks
	// take the write lock.
	process sync.RWMutex
	chains  map[string]*chain
	darcs   *DarcDB
	// reachable tells whether a node answers re-encryption requests.
	reachable func(si *network.ServerIdentity) bool
}

// chain is one ledger and the shares of its secret.
type chain struct {
	bunch *skipchain.SkipBlockBunch
	// admin is the base id of the darc given at creation.
	admin darc.ID
	x     kyber.Point
	poly  *share.PubPoly
	// shares[i] belongs to Roster.List[i] of the genesis block
	shares []*share.PriShare
}

// NewService returns a service storing its darcs in db. All nodes are
// reachable until SetReachable is called.
func NewService(db *DarcDB) *Service {
	return &Service{
		chains:    make(map[string]*chain),
		darcs:     db,
		reachable: func(*network.ServerIdentity) bool { return true },
	}
}

// SetReachable sets the function deciding which nodes take part in a
// re-encryption.
func (s *Service) SetReachable(f func(si *network.ServerIdentity) bool) {
	s.process.Lock()
	s.reachable = f
	s.process.Unlock()
}

// CreateSkipchains sets up a new ledger: the genesis block holds the admin
// darc, and the secret of the ledger is shared among the nodes of the roster.
func (s *Service) CreateSkipchains(req *CreateSkipchainsRequest) (*CreateSkipchainsReply, error) {
	if len(req.Roster.List) == 0 {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "empty roster")
	}
	if req.Writers.Version != 0 {
		return nil, ocs.Errorf(ocs.ErrAuthorization, "admin darc must be a base darc")
	}
	log.Lvlf2("Creating ledger with darc %x", []byte(req.Writers.GetID()))
	s.process.Lock()
	defer s.process.Unlock()

	genesisBuf, err := encodeTransaction(&Transaction{Darc: &req.Writers})
	if err != nil {
		return nil, err
	}
	roster := req.Roster
	genesis := skipchain.NewGenesis(&roster, genesisBuf)
	if _, exists := s.chains[string(genesis.Hash)]; exists {
		return nil, ocs.Errorf(ocs.ErrCommunication, "ledger %x exists already", []byte(genesis.Hash))
	}
	if err := s.storeDarc(&req.Writers); err != nil {
		return nil, err
	}

	// The private polynomial only lives until the shares are dealt.
	n := len(roster.List)
	priPoly := share.NewPriPoly(ocs.Suite, threshold(n), nil, ocs.Suite.RandomStream())
	c := &chain{
		bunch:  skipchain.NewSkipBlockBunch(genesis),
		admin:  req.Writers.GetBaseID(),
		poly:   priPoly.Commit(nil),
		shares: priPoly.Shares(n),
	}
	c.x = c.poly.Commit()
	s.chains[string(genesis.Hash)] = c
	log.Lvlf1("Created ledger %x with %d nodes and threshold %d", []byte(genesis.Hash), n, threshold(n))
	return &CreateSkipchainsReply{OCS: genesis.Copy(), X: c.x}, nil
}

// UpdateDarc stores a new darc or a new version of an existing darc.
func (s *Service) UpdateDarc(req *UpdateDarc) (*UpdateDarcReply, error) {
	s.process.Lock()
	defer s.process.Unlock()
	c, err := s.chain(req.OCS)
	if err != nil {
		return nil, err
	}
	log.Lvlf2("Starting to update darc %x", []byte(req.Darc.GetID()))
	if err := s.verifyDarc(&req.Darc); err != nil {
		return nil, err
	}
	sb, err := s.appendTransaction(c, &Transaction{Darc: &req.Darc})
	if err != nil {
		return nil, err
	}
	if err := s.storeDarc(&req.Darc); err != nil {
		return nil, err
	}
	log.Lvlf2("Added darc %x to %x", []byte(req.Darc.GetID()), []byte(req.Darc.GetBaseID()))
	return &UpdateDarcReply{SB: sb}, nil
}

// WriteRequest adds a block with a new document to the ledger.
func (s *Service) WriteRequest(req *WriteRequest) (*WriteReply, error) {
	s.process.Lock()
	defer s.process.Unlock()
	c, err := s.chain(req.OCS)
	if err != nil {
		return nil, err
	}
	if req.Readers != nil {
		req.Write.Reader = *req.Readers
	}
	req.Write.Signature = &req.Signature
	tx := &Transaction{Write: &req.Write}
	newReader := s.darcs.GetByID(req.Write.Reader.GetID()) == nil
	if newReader {
		// Only set up the reader darc for storage if it is not already known.
		if err := s.verifyDarc(&req.Write.Reader); err != nil {
			return nil, ocs.Errorf(ocs.ErrAuthorization, "reader darc: %v", err)
		}
		tx.Darc = &req.Write.Reader
	}
	if err := s.verifyWrite(c, &req.Write); err != nil {
		return nil, err
	}
	sb, err := s.appendTransaction(c, tx)
	if err != nil {
		return nil, err
	}
	if newReader {
		if err := s.storeDarc(&req.Write.Reader); err != nil {
			return nil, err
		}
	}
	log.Lvlf2("Stored write %x", []byte(sb.Hash))
	return &WriteReply{SB: sb}, nil
}

// ReadRequest adds a block allowing a reader to access a document.
func (s *Service) ReadRequest(req *ReadRequest) (*ReadReply, error) {
	s.process.Lock()
	defer s.process.Unlock()
	c, err := s.chain(req.OCS)
	if err != nil {
		return nil, err
	}
	log.Lvlf2("Requesting document %x for %s", []byte(req.Read.DataID), req.Read.Signature.Path.Signer.String())
	if err := s.verifyRead(c, &req.Read); err != nil {
		return nil, err
	}
	sb, err := s.appendTransaction(c, &Transaction{Read: &req.Read})
	if err != nil {
		return nil, err
	}
	return &ReadReply{SB: sb}, nil
}

// GetDarcPath searches a path from the given darc to the identity. The path
// follows every darc to its latest version before looking for the identity.
func (s *Service) GetDarcPath(req *GetDarcPath) (*GetDarcPathReply, error) {
	role := darc.Role(req.Role)
	log.Lvlf2("Searching %s/%s, starting from %x", role, req.Identity.String(), req.BaseDarcID)
	if _, err := role.Action(); err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "")
	}
	d := s.darcs.GetByID(req.BaseDarcID)
	if d == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "darc %x doesn't exist", req.BaseDarcID)
	}
	path := s.searchPath([]*darc.Darc{d}, req.Identity, role, make(map[string]bool))
	if len(path) == 0 {
		return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find a path to %s", req.Identity.String())
	}
	log.Lvl3("Sending back darc-path with length", len(path))
	return &GetDarcPathReply{Path: path}, nil
}

// GetLatestDarc returns all versions of a darc, from the one requested to the
// latest one.
func (s *Service) GetLatestDarc(req *GetLatestDarc) (*GetLatestDarcReply, error) {
	log.Lvlf2("Getting latest darc for %x", req.DarcID)
	start := s.darcs.GetByID(req.DarcID)
	if start == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "darc %x doesn't exist", req.DarcID)
	}
	path, err := s.darcs.GetPathToLatest(start)
	if err != nil {
		return nil, err
	}
	return &GetLatestDarcReply{Darcs: path}, nil
}

// GetReadRequests returns up to a maximum number of read-requests.
func (s *Service) GetReadRequests(req *GetReadRequests) (*GetReadRequestsReply, error) {
	s.process.RLock()
	defer s.process.RUnlock()
	log.Lvlf2("Asking read-requests on writeID: %x", []byte(req.Start))
	reply := &GetReadRequestsReply{}
	current, c := s.block(req.Start)
	if current == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find starting skipblock")
	}
	var doc skipchain.SkipBlockID
	if req.Count == 0 {
		tx, err := NewTransaction(current.Data)
		if err != nil || tx.Write == nil {
			return nil, ocs.Errorf(ocs.ErrCommunication, "id is not a writer-block")
		}
		doc = current.Hash
	}
	for req.Count == 0 || len(reply.Documents) < req.Count {
		if current.Index > 0 {
			tx, err := NewTransaction(current.Data)
			if err != nil {
				return nil, err
			}
			if tx.Read != nil && (req.Count > 0 || tx.Read.DataID.Equal(doc)) {
				rd := &ReadDoc{
					Reader: tx.Read.Signature.Path.Signer,
					ReadID: current.Hash,
					DataID: tx.Read.DataID,
				}
				log.Lvl3("Found read-request from", rd.Reader.String())
				reply.Documents = append(reply.Documents, rd)
			}
		}
		next := current.GetForward(0)
		if next == nil {
			break
		}
		current = c.bunch.GetByID(next)
		if current == nil {
			return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find next block")
		}
	}
	log.Lvlf3("Start %x: found %d out of a maximum of %d documents", []byte(req.Start),
		len(reply.Documents), req.Count)
	return reply, nil
}

// SharedPublic returns the shared public key of a ledger.
func (s *Service) SharedPublic(req *SharedPublicRequest) (*SharedPublicReply, error) {
	s.process.RLock()
	defer s.process.RUnlock()
	c, err := s.chain(req.Genesis)
	if err != nil {
		return nil, err
	}
	return &SharedPublicReply{X: c.x}, nil
}

// GetSingleBlock returns the block with the given id from any ledger.
func (s *Service) GetSingleBlock(req *skipchain.GetSingleBlock) (*skipchain.SkipBlock, error) {
	s.process.RLock()
	defer s.process.RUnlock()
	sb, _ := s.block(req.ID)
	if sb == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "no block %x", []byte(req.ID))
	}
	return sb.Copy(), nil
}

// DecryptKeyRequest re-encrypts the stored symmetric key under the public
// key of the read-request, or under the ephemeral key if one is given. Once
// the read-request is on the ledger, it is not necessary to check its
// validity again.
func (s *Service) DecryptKeyRequest(req *DecryptKeyRequest) (*DecryptKeyReply, error) {
	s.process.RLock()
	defer s.process.RUnlock()
	log.Lvl2("Re-encrypt the key to the public key of the reader")

	readSB, c := s.block(req.Read)
	if readSB == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find read block %x", []byte(req.Read))
	}
	read, err := NewTransaction(readSB.Data)
	if err != nil {
		return nil, err
	}
	if read.Read == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "this is not a read-block")
	}
	fileSB := c.bunch.GetByID(read.Read.DataID)
	if fileSB == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find write block %x", []byte(read.Read.DataID))
	}
	file, err := NewTransaction(fileSB.Data)
	if err != nil {
		return nil, err
	}
	if file.Write == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "data-block is broken")
	}

	reader := read.Read.Signature.Path.Signer
	var xc kyber.Point
	if req.Ephemeral != nil {
		if err := s.verifyEphemeral(file.Write, reader, req.Ephemeral, req.Signature); err != nil {
			return nil, err
		}
		xc = req.Ephemeral
	} else if reader.Ed25519 == nil {
		return nil, ocs.Errorf(ocs.ErrAuthorization, "please use ephemeral keys for non-ed25519 private keys")
	} else {
		xc = reader.Ed25519.Point
	}
	log.Lvlf3("Public key is: %s", xc)

	genesis := c.bunch.GetByID(c.bunch.GenesisID)
	var replies []*ReencryptReply
	for i, si := range genesis.Roster.List {
		if !s.reachable(si) {
			log.Lvl2("Node", si.Address, "didn't answer the re-encryption")
			continue
		}
		replies = append(replies, reencryptShare(c.shares[i], file.Write.U, xc))
	}
	n := len(genesis.Roster.List)
	xhatEnc, err := recoverReencryption(c.poly, replies, file.Write.U, xc, threshold(n), n)
	if err != nil {
		return nil, err
	}
	log.Lvl3("Successfully reencrypted the key")
	return &DecryptKeyReply{
		Cs:      file.Write.Cs,
		XhatEnc: xhatEnc,
		X:       c.x,
	}, nil
}

// verifyEphemeral makes sure the ephemeral key is signed by the reader of the
// read-request with a valid path from the reader darc of the write.
func (s *Service) verifyEphemeral(write *Write, reader darc.Identity, ephemeral kyber.Point,
	sig *darc.Signature) error {
	if sig == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "ephemeral key without signature")
	}
	if !sig.Path.Signer.Equal(&reader) {
		return ocs.Errorf(ocs.ErrAuthorization, "ephemeral key signed by wrong reader")
	}
	buf, err := ephemeral.MarshalBinary()
	if err != nil {
		return ocs.Wrap(ocs.ErrCryptoStructure, err, "couldn't marshal ephemeral key")
	}
	return s.verifySignature(buf, sig, write.Reader.GetBaseID(), darc.Reader, darc.Owner)
}

// verifyDarc makes sure that the new darc is either a new base darc or a
// correctly signed evolution of the latest version of its base.
func (s *Service) verifyDarc(newDarc *darc.Darc) error {
	log.Lvl3("Verifying new darc")
	if s.darcs.GetByID(newDarc.GetID()) != nil {
		return ocs.Errorf(ocs.ErrAuthorization, "cannot store darc again")
	}
	latest, err := s.darcs.GetLatestDarc(newDarc.GetBaseID())
	if err != nil {
		return err
	}
	if latest == nil {
		if newDarc.Version > 0 {
			return ocs.Errorf(ocs.ErrAuthorization, "not storing new darc with version > 0")
		}
		return nil
	}
	if latest.Version >= newDarc.Version {
		return ocs.Errorf(ocs.ErrAuthorization, "cannot store darc with lower or equal version")
	}
	if err := newDarc.VerifyEvolution(latest); err != nil {
		return err
	}
	return s.checkLatest(newDarc.Signatures...)
}

// verifyWrite makes sure that the write request holds a valid proof and is
// signed by a writer of the admin darc of the ledger.
func (s *Service) verifyWrite(c *chain, write *Write) error {
	log.Lvl3("Verifying write request")
	if err := write.CheckProof(ocs.Suite, c.bunch.GenesisID); err != nil {
		return ocs.Wrap(ocs.ErrCryptoStructure, err, "proof verification failed")
	}
	if write.Signature == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "write without signature")
	}
	return s.verifySignature(write.Reader.GetID(), write.Signature, c.admin, darc.Writer)
}

// verifyRead makes sure that the read request is correctly signed by a
// reader that has a path from the reader darc of the write.
func (s *Service) verifyRead(c *chain, read *Read) error {
	log.Lvl3("Verify read request")
	sbWrite := c.bunch.GetByID(read.DataID)
	if sbWrite == nil {
		return ocs.Errorf(ocs.ErrCommunication, "didn't find write-block")
	}
	tx, err := NewTransaction(sbWrite.Data)
	if err != nil {
		return err
	}
	if tx.Write == nil {
		return ocs.Errorf(ocs.ErrCommunication, "block was not a write-block")
	}
	return s.verifySignature(read.DataID, &read.Signature, tx.Write.Reader.GetBaseID(), darc.Reader, darc.Owner)
}

// verifySignature checks that sig is a signature on msg with a path starting
// at a stored version of the darc with the given base id, for one of the
// roles.
func (s *Service) verifySignature(msg []byte, sig *darc.Signature, baseID darc.ID, roles ...darc.Role) error {
	allowed := false
	for _, r := range roles {
		allowed = allowed || sig.Path.Role == r
	}
	if !allowed {
		return ocs.Errorf(ocs.ErrAuthorization, "signature is for role %s", sig.Path.Role)
	}
	if len(sig.Path.Darcs) == 0 || sig.Path.Darcs[0] == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "signature without path")
	}
	base := s.darcs.GetByID(sig.Path.Darcs[0].GetID())
	if base == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "unknown base darc %x", []byte(sig.Path.Darcs[0].GetID()))
	}
	if !base.GetBaseID().Equal(baseID) {
		return ocs.Errorf(ocs.ErrAuthorization, "path doesn't start at darc %x", []byte(baseID))
	}
	if err := sig.Verify(msg, base); err != nil {
		return err
	}
	return s.checkLatest(sig)
}

// checkLatest makes sure every darc of the paths is stored and is either the
// latest version or followed by its evolution. Old versions cannot give a
// role that has been revoked since.
func (s *Service) checkLatest(sigs ...*darc.Signature) error {
	for _, sig := range sigs {
		darcs := sig.Path.Darcs
		for i, d := range darcs {
			if s.darcs.GetByID(d.GetID()) == nil {
				return ocs.Errorf(ocs.ErrAuthorization, "darc %x of path is unknown", []byte(d.GetID()))
			}
			if s.darcs.IsLatest(d) {
				continue
			}
			if i+1 == len(darcs) || !darcs[i+1].PrevID.Equal(d.GetID()) {
				return ocs.Errorf(ocs.ErrAuthorization, "darc %x of path is outdated", []byte(d.GetID()))
			}
		}
	}
	return nil
}

// searchPath does a depth-first search of a path going from the last element
// of path to the identity. It starts by first getting the latest darc-version,
// then searching all sub-darcs. Every base darc is visited only once.
// If it doesn't find a matching path, it returns nil.
func (s *Service) searchPath(path []*darc.Darc, identity darc.Identity, role darc.Role,
	visited map[string]bool) []*darc.Darc {
	versions, err := s.darcs.GetPathToLatest(path[len(path)-1])
	if err != nil {
		log.Error(err)
		return nil
	}
	newpath := append(append([]*darc.Darc{}, path...), versions[1:]...)
	latest := newpath[len(newpath)-1]
	if visited[string(latest.GetBaseID())] {
		return nil
	}
	visited[string(latest.GetBaseID())] = true
	log.Lvlf3("Searching in darc %x for role %s", []byte(latest.GetID()), role)

	if latest.Evaluate(role, identity) {
		return newpath
	}
	action, _ := role.Action()
	ids, err := latest.Rules[action].IDs()
	if err != nil {
		return nil
	}
	for _, str := range ids {
		id, err := darc.ParseIdentity(str)
		if err != nil || id.Darc == nil || !latest.Evaluate(role, id) {
			continue
		}
		sub := s.darcs.GetByID(id.Darc.ID)
		if sub == nil {
			log.Lvlf2("Got unknown darc-id in path - ignoring: %x", []byte(id.Darc.ID))
			continue
		}
		if np := s.searchPath(append(newpath, sub), identity, role, visited); np != nil {
			return np
		}
	}
	return nil
}

// appendTransaction stamps tx and stores it in a new block of c.
func (s *Service) appendTransaction(c *chain, tx *Transaction) (*skipchain.SkipBlock, error) {
	tx.Timestamp = time.Now().Unix()
	buf, err := encodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	return c.bunch.Append(buf).Copy(), nil
}

func (s *Service) storeDarc(d *darc.Darc) error {
	log.Lvlf3("Storing new darc %x - %x", []byte(d.GetID()), []byte(d.GetBaseID()))
	return ocs.Wrap(ocs.ErrCommunication, s.darcs.Store(d), "storing darc")
}

// chain returns the ledger with the given genesis id. The caller holds the
// process lock.
func (s *Service) chain(id skipchain.SkipBlockID) (*chain, error) {
	c, ok := s.chains[string(id)]
	if !ok {
		return nil, ocs.Errorf(ocs.ErrCommunication, "didn't find ledger %x", []byte(id))
	}
	return c, nil
}

// block searches the block in all ledgers. The caller holds the process
// lock.
func (s *Service) block(id skipchain.SkipBlockID) (*skipchain.SkipBlock, *chain) {
	for _, c := range s.chains {
		if sb := c.bunch.GetByID(id); sb != nil {
			return sb, c
		}
	}
	return nil, nil
}

func encodeTransaction(tx *Transaction) ([]byte, error) {
	buf, err := protobuf.Encode(tx)
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "encoding transaction")
	}
	return buf, nil
}

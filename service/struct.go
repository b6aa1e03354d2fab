package service

/*
This holds the messages used to communicate with the service over the network.
*/

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
)

// ServiceName is used for registration on the onet.
const ServiceName = "OnChainSecrets"

// StatusServiceName and StatusPath are where the nodes answer health probes.
const (
	StatusServiceName = "Status"
	StatusPath        = "Request"
)

// NewTransaction decodes the transaction stored in the data of a block.
func NewTransaction(b []byte) (*Transaction, error) {
	tx := &Transaction{}
	err := protobuf.DecodeWithConstructors(b, tx, network.DefaultConstructors(ocs.Suite))
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "decoding transaction")
	}
	return tx, nil
}

// String returns a nice string.
func (tx *Transaction) String() string {
	if tx == nil {
		return "nil-pointer"
	}
	var str string
	if tx.Darc != nil {
		str += fmt.Sprintf("Darc: %s\n", tx.Darc)
	}
	if tx.Write != nil {
		str += fmt.Sprintf("Write: data-length of %d\n", len(tx.Write.Data))
	}
	if tx.Read != nil {
		str += fmt.Sprintf("Read: %s read data %x\n", tx.Read.Signature.Path.Signer.String(),
			[]byte(tx.Read.DataID))
	}
	return str
}

// ***
// These are the messages used in the API-calls
// ***

// Transaction holds either:
// - a read request
// - a write
// - a darc-update
// - a write and a darc-update
// Additionally, it can hold a slice of bytes with any data that the user wants to
// add to bind to that transaction.
// Every Transaction must have a Unix timestamp.
type Transaction struct {
	// Write holds an eventual write-request with a document
	Write *Write
	// Read holds an eventual read-request, which is approved, for a document
	Read *Read
	// Darc defines either the readers allowed for this write-request
	// or is an update to an existing Darc
	Darc *darc.Darc
	// Unix timestamp to record the transaction creation time
	Timestamp int64
}

// Write stores the data and the encrypted secret
type Write struct {
	// Data should be encrypted by the application under the symmetric key in U and Cs
	Data []byte
	// U is the encrypted random value for the ElGamal encryption
	U kyber.Point
	// Ubar, E and F are used by the ledger to verify that the writer
	// correctly encrypted the key. They bind the reader darc to the
	// ciphertext.
	Ubar kyber.Point
	E    kyber.Scalar
	F    kyber.Scalar
	// Cs are the ElGamal parts for the symmetric key material (might
	// also contain an IV)
	Cs []kyber.Point
	// ExtraData is clear text and application-specific
	ExtraData *[]byte
	// Reader points to a darc where the reading-rights are stored
	Reader darc.Darc
	// Signature must come from a writer of the admin darc of the ledger,
	// on the ID of the reader darc.
	Signature *darc.Signature
}

// Read stores a read-request. The DataID is the id of the block holding the
// write.
type Read struct {
	DataID skipchain.SkipBlockID
	// Signature on DataID, with a path from the reader darc of the write
	// to the reader.
	Signature darc.Signature
}

// ReadDoc represents one read-request by a reader.
type ReadDoc struct {
	Reader darc.Identity
	ReadID skipchain.SkipBlockID
	DataID skipchain.SkipBlockID
}

// ***
// Requests and replies to/from the service
// ***

// CreateSkipchainsRequest asks for setting up a new ledger.
type CreateSkipchainsRequest struct {
	Roster  onet.Roster
	Writers darc.Darc
}

// CreateSkipchainsReply returns the genesis block and the shared public key
// of the ledger.
type CreateSkipchainsReply struct {
	OCS *skipchain.SkipBlock
	X   kyber.Point
}

// GetDarcPath asks for a path from the base darc to a darc containing the
// identity.
type GetDarcPath struct {
	OCS        skipchain.SkipBlockID
	BaseDarcID []byte
	Identity   darc.Identity
	Role       int
}

// GetDarcPathReply returns the path to prove that the identity can sign.
type GetDarcPathReply struct {
	Path []*darc.Darc
}

// UpdateDarc allows to set up new darcs or to evolve existing ones.
type UpdateDarc struct {
	OCS  skipchain.SkipBlockID
	Darc darc.Darc
}

// UpdateDarcReply contains the skipblock with the darc stored in it.
type UpdateDarcReply struct {
	SB *skipchain.SkipBlock
}

// WriteRequest asks the ledger to store a document. Readers can be nil if
// the reader darc of the Write is already stored on the ledger.
type WriteRequest struct {
	OCS       skipchain.SkipBlockID
	Write     Write
	Signature darc.Signature
	Readers   *darc.Darc
}

// WriteReply returns the created skipblock which is the write-id
type WriteReply struct {
	SB *skipchain.SkipBlock
}

// ReadRequest asks the ledger to allow a reader to access a document.
type ReadRequest struct {
	OCS  skipchain.SkipBlockID
	Read Read
}

// ReadReply is the added skipblock, if successful.
type ReadReply struct {
	SB *skipchain.SkipBlock
}

// SharedPublicRequest asks for the shared public key of the corresponding
// skipchain-ID.
type SharedPublicRequest struct {
	Genesis skipchain.SkipBlockID
}

// SharedPublicReply sends back the shared public key.
type SharedPublicReply struct {
	X kyber.Point
}

// DecryptKeyRequest is sent to the service with the read-request. Optionally
// it can be given an Ephemeral public key under which the reply should be
// encrypted, but then a Signature on the key from the reader is needed.
type DecryptKeyRequest struct {
	Read skipchain.SkipBlockID
	// optional
	Ephemeral kyber.Point
	Signature *darc.Signature
}

// DecryptKeyReply is sent back to the api with the key encrypted under the
// reader's public key.
type DecryptKeyReply struct {
	Cs      []kyber.Point
	XhatEnc kyber.Point
	X       kyber.Point
}

// GetReadRequests asks for a list of requests. If Count is 0, Start must be
// a write and all reads of that write are returned.
type GetReadRequests struct {
	Start skipchain.SkipBlockID
	Count int
}

// GetReadRequestsReply returns the requests
type GetReadRequestsReply struct {
	Documents []*ReadDoc
}

// GetLatestDarc returns the path to the latest darc.
type GetLatestDarc struct {
	OCS    skipchain.SkipBlockID
	DarcID []byte
}

// GetLatestDarcReply returns a list of all darcs, starting from
// the one requested.
type GetLatestDarcReply struct {
	Darcs []*darc.Darc
}

// StatusRequest asks a node for its status.
type StatusRequest struct {
}

// StatusResponse holds the status of every service of a node.
type StatusResponse struct {
	Status         map[string]*onet.Status
	ServerIdentity *network.ServerIdentity
}

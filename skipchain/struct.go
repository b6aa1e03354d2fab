// Package skipchain holds the blocks of a ledger. A block links back to the
// previous one and forward to the next one, the first block of a chain is
// the genesis block and its hash identifies the chain.
package skipchain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
)

// IDLen is the length of a block hash.
const IDLen = 32

// SkipBlockID represents the Hash of the SkipBlock
type SkipBlockID []byte

// IsNull returns true if the ID is undefined
func (sbid SkipBlockID) IsNull() bool {
	return len(sbid) == 0
}

// Short returns only the 8 first bytes of the ID as a hex-encoded string.
func (sbid SkipBlockID) Short() string {
	if sbid.IsNull() {
		return "Nil"
	}
	if len(sbid) < 8 {
		return fmt.Sprintf("%x", []byte(sbid))
	}
	return fmt.Sprintf("%x", []byte(sbid[0:8]))
}

// Equal compares the hash of the two skipblocks
func (sbid SkipBlockID) Equal(sb SkipBlockID) bool {
	return bytes.Equal([]byte(sbid), []byte(sb))
}

// Check returns an error if the ID cannot be a block hash.
func (sbid SkipBlockID) Check() error {
	if len(sbid) != IDLen {
		return ocs.Errorf(ocs.ErrCryptoStructure, "block id has length %d instead of %d", len(sbid), IDLen)
	}
	return nil
}

// SkipBlockFix represents the fixed part of a SkipBlock that will be hashed.
type SkipBlockFix struct {
	// Index of the block in the chain. Index == 0 -> genesis-block.
	Index int
	// BackLinkIDs is a slice of hashes to previous SkipBlocks
	BackLinkIDs []SkipBlockID
	// GenesisID is the ID of the genesis-block.
	GenesisID SkipBlockID
	// Data is any data to be stored in that SkipBlock
	Data []byte
	// Roster holds the roster-definition of that SkipBlock
	Roster *onet.Roster
}

// CalculateHash hashes all fixed fields of the block.
func (sbf *SkipBlockFix) CalculateHash() SkipBlockID {
	hash := ocs.Suite.Hash()
	binary.Write(hash, binary.LittleEndian, int64(sbf.Index))
	for _, bl := range sbf.BackLinkIDs {
		hash.Write(bl)
	}
	hash.Write(sbf.GenesisID)
	hash.Write(sbf.Data)
	if sbf.Roster != nil {
		for _, pub := range sbf.Roster.Publics() {
			pub.MarshalTo(hash)
		}
	}
	return hash.Sum(nil)
}

// SkipBlock represents a SkipBlock of any type - the fields that won't
// be hashed (yet).
type SkipBlock struct {
	*SkipBlockFix
	// Hash is our Block-hash
	Hash SkipBlockID
	// ForwardLink will be set once the next block is available
	ForwardLink []SkipBlockID
}

// NewSkipBlock pre-initialises the block so it can be sent over
// the network
func NewSkipBlock() *SkipBlock {
	return &SkipBlock{
		SkipBlockFix: &SkipBlockFix{
			Data: make([]byte, 0),
		},
	}
}

// NewGenesis creates the first block of a chain holding data.
func NewGenesis(roster *onet.Roster, data []byte) *SkipBlock {
	sb := NewSkipBlock()
	sb.Roster = roster
	sb.Data = data
	sb.UpdateHash()
	return sb
}

// NewSkipBlockFromProtobuf decodes a block, as returned by the ledger.
func NewSkipBlockFromProtobuf(buf []byte) (*SkipBlock, error) {
	sb := NewSkipBlock()
	err := protobuf.DecodeWithConstructors(buf, sb, network.DefaultConstructors(ocs.Suite))
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "decoding block")
	}
	if sb.SkipBlockFix == nil {
		return nil, ocs.Errorf(ocs.ErrCommunication, "block without content")
	}
	return sb, nil
}

// Equal returns bool if both hashes are equal
func (sb *SkipBlock) Equal(other *SkipBlock) bool {
	return bytes.Equal(sb.Hash, other.Hash)
}

// Copy makes a deep copy of the SkipBlock
func (sb *SkipBlock) Copy() *SkipBlock {
	b := *sb
	sbf := *b.SkipBlockFix
	b.SkipBlockFix = &sbf
	b.BackLinkIDs = make([]SkipBlockID, len(sb.BackLinkIDs))
	copy(b.BackLinkIDs, sb.BackLinkIDs)
	b.ForwardLink = make([]SkipBlockID, len(sb.ForwardLink))
	copy(b.ForwardLink, sb.ForwardLink)
	b.Data = make([]byte, len(sb.Data))
	copy(b.Data, sb.Data)
	return &b
}

// UpdateHash sets the hash of the block to the hash of its fixed part and
// returns it.
func (sb *SkipBlock) UpdateHash() SkipBlockID {
	sb.Hash = sb.CalculateHash()
	return sb.Hash
}

// Short returns only the 8 first bytes of the hash as hex-encoded string.
func (sb *SkipBlock) Short() string {
	return sb.Hash.Short()
}

// Sprint returns a string describing that block. If 'short' is true, it will
// only return the first 8 bytes of the genesis and its own id.
func (sb *SkipBlock) Sprint(short bool) string {
	hash := hex.EncodeToString(sb.Hash)
	if short {
		hash = sb.Hash.Short()
	}
	var list []*network.ServerIdentity
	if sb.Roster != nil {
		list = sb.Roster.List
	}
	if sb.Index == 0 {
		return fmt.Sprintf("Genesis-block %s with roster %s", hash, list)
	}
	return fmt.Sprintf("Block %s and roster %s", hash, list)
}

// SkipChainID is the hash of the genesis-block.
func (sb *SkipBlock) SkipChainID() SkipBlockID {
	if sb.Index == 0 {
		return sb.Hash
	}
	return sb.GenesisID
}

// GetForward returns the i'th forward-link or nil if it does not exist.
func (sb *SkipBlock) GetForward(i int) SkipBlockID {
	if i >= len(sb.ForwardLink) {
		return nil
	}
	return sb.ForwardLink[i]
}

// ServiceName is the name of the service holding the blocks.
const ServiceName = "Skipchain"

// GetSingleBlock asks for a single block.
type GetSingleBlock struct {
	ID SkipBlockID
}

package skipchain

import (
	"encoding/hex"
	"strings"
	"sync"

	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3/log"
)

// SkipBlockBunch holds all blocks of one chain, from the genesis-block to the
// latest one.
type SkipBlockBunch struct {
	GenesisID  SkipBlockID
	Latest     *SkipBlock
	SkipBlocks map[string]*SkipBlock
	sync.Mutex
}

// NewSkipBlockBunch returns a pre-initialised SkipBlockBunch holding the
// genesis-block.
func NewSkipBlockBunch(genesis *SkipBlock) *SkipBlockBunch {
	return &SkipBlockBunch{
		GenesisID:  genesis.SkipChainID(),
		Latest:     genesis,
		SkipBlocks: map[string]*SkipBlock{string(genesis.Hash): genesis},
	}
}

// GetByID returns the skip-block or nil if it doesn't exist
func (sbb *SkipBlockBunch) GetByID(sbID SkipBlockID) *SkipBlock {
	sbb.Lock()
	defer sbb.Unlock()
	return sbb.SkipBlocks[string(sbID)]
}

// GetLatest returns the last block of the chain.
func (sbb *SkipBlockBunch) GetLatest() *SkipBlock {
	sbb.Lock()
	defer sbb.Unlock()
	return sbb.Latest
}

// Append creates a new block holding data after the latest block, links it
// with the latest block and stores it.
func (sbb *SkipBlockBunch) Append(data []byte) *SkipBlock {
	sbb.Lock()
	defer sbb.Unlock()
	prev := sbb.Latest
	sb := NewSkipBlock()
	sb.Index = prev.Index + 1
	sb.BackLinkIDs = []SkipBlockID{prev.Hash}
	sb.GenesisID = sbb.GenesisID
	sb.Roster = prev.Roster
	sb.Data = data
	sb.UpdateHash()
	prev.ForwardLink = append(prev.ForwardLink, sb.Hash)
	sbb.SkipBlocks[string(sb.Hash)] = sb
	sbb.Latest = sb
	log.Lvlf3("Appended block %d (%s) to chain %s", sb.Index, sb.Short(), sbb.GenesisID.Short())
	return sb
}

// Length returns the actual length using mutexes
func (sbb *SkipBlockBunch) Length() int {
	sbb.Lock()
	defer sbb.Unlock()
	return len(sbb.SkipBlocks)
}

// VerifyLinks makes sure that all forward- and backward-links of sb are
// correct. It returns nil in case of success.
func (sbb *SkipBlockBunch) VerifyLinks(sb *SkipBlock) error {
	if !sb.CalculateHash().Equal(sb.Hash) {
		return ocs.Errorf(ocs.ErrCryptoStructure, "wrong hash")
	}
	// We don't check backward-links for genesis-blocks
	if sb.Index == 0 {
		return nil
	}
	if len(sb.BackLinkIDs) == 0 {
		return ocs.Errorf(ocs.ErrCryptoStructure, "need at least one backlink")
	}
	if !sb.GenesisID.Equal(sbb.GenesisID) {
		return ocs.Errorf(ocs.ErrCryptoStructure, "block from another chain")
	}
	sbBack := sbb.GetByID(sb.BackLinkIDs[0])
	if sbBack == nil {
		return ocs.Errorf(ocs.ErrCryptoStructure, "didn't find previous block")
	}
	if sbBack.Index+1 != sb.Index {
		return ocs.Errorf(ocs.ErrCryptoStructure, "previous block has wrong index")
	}
	if !sbBack.GetForward(0).Equal(sb.Hash) {
		return ocs.Errorf(ocs.ErrCryptoStructure, "didn't find our block in forward-links")
	}
	return nil
}

// GetFuzzy searches for a block that resembles the given ID, if ID is not full.
// If there are multiple matching skipblocks, the first one is chosen. If none
// match, nil will be returned.
//
// The search is done in the following order:
//  1. as prefix
//  2. if none is found - as suffix
//  3. if none is found - anywhere
func (sbb *SkipBlockBunch) GetFuzzy(id string) *SkipBlock {
	sbb.Lock()
	defer sbb.Unlock()
	for _, match := range []func(string, string) bool{strings.HasPrefix,
		strings.HasSuffix, strings.Contains} {
		for _, sb := range sbb.SkipBlocks {
			if match(hex.EncodeToString(sb.Hash), id) {
				return sb
			}
		}
	}
	return nil
}

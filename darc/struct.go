package darc

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/ocs/darc/expression"
)

// IDLen is the length of a darc ID, the output size of sha256.
const IDLen = 32

// ID is the identity of a Darc - which is the sha256 over its invariant fields
// [Version, Description, BaseID, PrevID, Rules]. Signatures are excluded. An
// evolving Darc will change its identity.
type ID []byte

// Action is a string that should be associated with an expression.
type Action string

// Rules are action-expression associations.
type Rules map[Action]expression.Expr

// Darc is the basic structure representing an access control. A Darc can
// evolve in the way that a new Darc points to the previous one and is signed
// by the evolve rule of the previous Darc.
type Darc struct {
	// Version should be monotonically increasing over the evolution of a
	// Darc.
	Version uint64
	// Description is a free-form field that can hold any data as required
	// by the user. Darc itself will never depend on any of the data in
	// here.
	Description []byte
	// BaseID is the ID of the first darc of this Series. It is empty for
	// the base darc, use GetBaseID.
	BaseID ID
	// PrevID is the previous darc ID in the chain of evolution. It is
	// empty for the base darc.
	PrevID ID
	// Rules map an action to an expression.
	Rules Rules
	// Signatures proving that the evolution was allowed by the previous
	// darc. Every signature has its own path, so that an AND in the
	// evolve rule can be satisfied by independent signers.
	Signatures []*Signature
}

// Role is what a signature path proves about its signer.
type Role int

const (
	// Owner can sign on behalf of the darc.
	Owner Role = iota
	// Writer can publish documents.
	Writer
	// Reader can ask for the key of a document.
	Reader
	// Admin can evolve the darc.
	Admin
)

// Identity is a public key or a darc. Exactly one field is set.
type Identity struct {
	// Darc identity
	Darc *IdentityDarc
	// Public-key identity
	Ed25519 *IdentityEd25519
}

// IdentityType is the kind of an identity.
type IdentityType int

// The known identity types. Every switch over IdentityType has to handle all
// of them.
const (
	IdentityNone IdentityType = iota - 1
	IdentityTypeDarc
	IdentityTypeEd25519
)

// IdentityEd25519 holds a Ed25519 public key (Point)
type IdentityEd25519 struct {
	Point kyber.Point
}

// IdentityDarc is a structure that points to a Darc with a given ID.
type IdentityDarc struct {
	// Signer SignerEd25519
	ID ID
}

// Signature is a signature on a Darc to accept a given decision.
// can be verified using the appropriate identity.
type Signature struct {
	// The signature itself
	Signature []byte
	// Path is the delegation from the darc the signature is checked
	// against to the signer.
	Path SignaturePath
}

// SignaturePath is a chain of darcs from a base darc to the signer. Every
// darc of the path allows the next one for the role, or the next one is a
// valid evolution of it. The last darc allows the signer for the role.
type SignaturePath struct {
	// Darcs from the base darc to the darc holding the signer
	Darcs []*Darc
	// Signer is the identity that signs
	Signer Identity
	// Role the signer claims
	Role Role
}

// Signer is a generic structure that can hold different types of signers
type Signer struct {
	Ed25519 *SignerEd25519
}

// SignerEd25519 holds a public and private keys necessary to sign Darcs
type SignerEd25519 struct {
	Point  kyber.Point
	Secret kyber.Scalar
}

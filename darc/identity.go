package darc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/ocs"
)

// NewIdentityDarc creates a new darc identity struct given a darc ID.
func NewIdentityDarc(id ID) Identity {
	return Identity{
		Darc: &IdentityDarc{
			ID: id,
		},
	}
}

// NewIdentityEd25519 creates a new Ed25519 identity struct given a point.
func NewIdentityEd25519(point kyber.Point) Identity {
	return Identity{
		Ed25519: &IdentityEd25519{
			Point: point,
		},
	}
}

// ParseIdentity reads the string representation of an identity, as returned
// by Identity.String and used in the expressions.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Identity{}, ocs.Errorf(ocs.ErrCryptoStructure, "identity '%s' has no type", s)
	}
	switch parts[0] {
	case "darc":
		id, err := hex.DecodeString(parts[1])
		if err != nil {
			return Identity{}, ocs.Wrap(ocs.ErrCryptoStructure, err, "darc identity")
		}
		if err := CheckID(id); err != nil {
			return Identity{}, err
		}
		return NewIdentityDarc(id), nil
	case "ed25519":
		p, err := encoding.StringHexToPoint(ocs.Suite, parts[1])
		if err != nil {
			return Identity{}, ocs.Wrap(ocs.ErrCryptoStructure, err, "ed25519 identity")
		}
		return NewIdentityEd25519(p), nil
	default:
		return Identity{}, ocs.Errorf(ocs.ErrCryptoStructure, "unknown identity type '%s'", parts[0])
	}
}

// CheckID returns an error if id cannot be a darc ID.
func CheckID(id []byte) error {
	if len(id) != IDLen {
		return ocs.Errorf(ocs.ErrCryptoStructure, "darc id has length %d instead of %d", len(id), IDLen)
	}
	return nil
}

// Type returns the kind of the identity. An identity with no field set, a
// key identity without a point or a darc identity with a malformed ID is
// IdentityNone.
func (id Identity) Type() IdentityType {
	switch {
	case id.Darc != nil:
		if len(id.Darc.ID) != IDLen {
			return IdentityNone
		}
		return IdentityTypeDarc
	case id.Ed25519 != nil:
		if id.Ed25519.Point == nil {
			return IdentityNone
		}
		return IdentityTypeEd25519
	}
	return IdentityNone
}

// TypeString returns the string of the type of the identity.
func (id Identity) TypeString() string {
	switch id.Type() {
	case IdentityTypeDarc:
		return "darc"
	case IdentityTypeEd25519:
		return "ed25519"
	default:
		return "No identity"
	}
}

// String returns the string representation of the identity.
func (id Identity) String() string {
	switch id.Type() {
	case IdentityTypeDarc:
		return fmt.Sprintf("%s:%x", id.TypeString(), []byte(id.Darc.ID))
	case IdentityTypeEd25519:
		return fmt.Sprintf("%s:%s", id.TypeString(), id.Ed25519.Point.String())
	default:
		return "No identity"
	}
}

// Equal first checks the type of the two identities, and if they match, it
// returns true if their data is the same.
func (id Identity) Equal(id2 *Identity) bool {
	if id2 == nil || id.Type() != id2.Type() {
		return false
	}
	switch id.Type() {
	case IdentityTypeDarc:
		return id.Darc.Equal(id2.Darc)
	case IdentityTypeEd25519:
		return id.Ed25519.Equal(id2.Ed25519)
	}
	return false
}

// Verify returns nil if the signature is correct, or an error if something
// went wrong.
func (id Identity) Verify(msg, sig []byte) error {
	switch id.Type() {
	case IdentityTypeDarc:
		return errors.New("cannot verify a darc-signature")
	case IdentityTypeEd25519:
		return id.Ed25519.Verify(msg, sig)
	default:
		return errors.New("unknown identity")
	}
}

// SatisfiedBy returns true if the candidate acts for this identity. A key is
// only satisfied by the same key. A darc is satisfied by a valid path that
// starts at that darc and ends at the candidate.
func (id Identity) SatisfiedBy(candidate Identity, path *SignaturePath) bool {
	switch id.Type() {
	case IdentityTypeEd25519:
		return id.Equal(&candidate)
	case IdentityTypeDarc:
		if path == nil || len(path.Darcs) == 0 || path.Darcs[0] == nil {
			return false
		}
		if !path.Darcs[0].GetID().Equal(id.Darc.ID) || !path.Signer.Equal(&candidate) {
			return false
		}
		return path.Verify() == nil
	}
	return false
}

// Equal returns true if both IdentityDarcs point to the same data.
func (idd IdentityDarc) Equal(idd2 *IdentityDarc) bool {
	return bytes.Equal(idd.ID, idd2.ID)
}

// Equal returns true if both IdentityEd25519 point to the same data.
func (ide IdentityEd25519) Equal(ide2 *IdentityEd25519) bool {
	return ide.Point.Equal(ide2.Point)
}

// Verify returns nil if the signature is correct, or an error if something
// fails.
func (ide IdentityEd25519) Verify(msg, sig []byte) error {
	return schnorr.Verify(ocs.Suite, ide.Point, msg, sig)
}

// NewSignerEd25519 initializes a new SignerEd25519 signer given public and
// private keys. If either of the given keys is nil, then a new key pair is
// generated.
func NewSignerEd25519(public kyber.Point, private kyber.Scalar) Signer {
	if public == nil || private == nil {
		kp := key.NewKeyPair(ocs.Suite)
		public, private = kp.Public, kp.Private
	}
	return Signer{Ed25519: &SignerEd25519{
		Point:  public,
		Secret: private,
	}}
}

// Type returns the kind of identity this signer signs for.
func (s Signer) Type() IdentityType {
	if s.Ed25519 != nil {
		return IdentityTypeEd25519
	}
	return IdentityNone
}

// Identity returns an identity struct with the pre initialised fields for the
// appropriate signer.
func (s Signer) Identity() Identity {
	switch s.Type() {
	case IdentityTypeEd25519:
		return NewIdentityEd25519(s.Ed25519.Point)
	default:
		return Identity{}
	}
}

// Sign returns a signature in bytes for a given messages by the signer.
func (s Signer) Sign(msg []byte) ([]byte, error) {
	if msg == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "nothing to sign, message is empty")
	}
	switch s.Type() {
	case IdentityTypeEd25519:
		return s.Ed25519.Sign(msg)
	default:
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "unknown signer type")
	}
}

// GetPrivate returns the private key, if one exists.
func (s Signer) GetPrivate() (kyber.Scalar, error) {
	switch s.Type() {
	case IdentityTypeEd25519:
		return s.Ed25519.Secret, nil
	default:
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "signer is of unknown type")
	}
}

// Sign creates a schnorr signature on the message.
func (eds SignerEd25519) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(ocs.Suite, eds.Secret, msg)
}

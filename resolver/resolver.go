// Package resolver finds the signature path proving that an identity holds a
// role in a darc. The ledger sees all darcs and their history, so it does
// the search; the resolver only checks the path it gets back, hop by hop,
// before anybody signs with it. A path that fails the check is an
// ocs.ErrAuthorization and is never repaired or searched again locally.
package resolver

import (
	"context"

	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// PathFinder returns a candidate path of darcs from the base darc to a darc
// holding the identity for the role.
type PathFinder interface {
	GetDarcPath(ctx context.Context, base darc.ID, id darc.Identity, role darc.Role) ([]*darc.Darc, error)
}

// FinderFunc is an adapter to use a function as a PathFinder.
type FinderFunc func(ctx context.Context, base darc.ID, id darc.Identity, role darc.Role) ([]*darc.Darc, error)

// GetDarcPath calls f.
func (f FinderFunc) GetDarcPath(ctx context.Context, base darc.ID, id darc.Identity,
	role darc.Role) ([]*darc.Darc, error) {
	return f(ctx, base, id, role)
}

// Resolver validates the paths of a PathFinder.
type Resolver struct {
	finder PathFinder
}

// New returns a resolver asking finder for the paths.
func New(finder PathFinder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve returns a validated path from the base darc to the target for the
// role. A malformed base id fails before the finder is asked.
func (r *Resolver) Resolve(ctx context.Context, base darc.ID, target darc.Identity,
	role darc.Role) (*darc.SignaturePath, error) {
	if err := darc.CheckID(base); err != nil {
		return nil, err
	}
	if target.Type() == darc.IdentityNone {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "empty target identity")
	}
	if _, err := role.Action(); err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "")
	}
	darcs, err := r.finder.GetDarcPath(ctx, base, target, role)
	if err != nil {
		return nil, err
	}
	path := darc.NewSignaturePath(darcs, target, role)
	if err := Validate(base, path); err != nil {
		log.Lvlf2("Rejecting path from %x to %s: %v", []byte(base), target.String(), err)
		return nil, err
	}
	log.Lvlf3("Resolved path of length %d from %x to %s", len(darcs), []byte(base), target.String())
	return path, nil
}

// Validate checks that the path starts at the base darc, that every hop is
// either a delegation for the role or a valid evolution, that no darc
// appears twice, and that the last darc allows the signer of the path.
func Validate(base darc.ID, path *darc.SignaturePath) error {
	if path == nil || len(path.Darcs) == 0 {
		return ocs.Errorf(ocs.ErrAuthorization, "empty path")
	}
	if path.Darcs[0] == nil || !path.Darcs[0].GetID().Equal(base) {
		return ocs.Errorf(ocs.ErrAuthorization, "path doesn't start at darc %x", []byte(base))
	}
	err := path.Verify()
	if err != nil && !xerrors.Is(err, ocs.ErrAuthorization) {
		return ocs.Errorf(ocs.ErrAuthorization, "invalid path: %v", err)
	}
	return err
}

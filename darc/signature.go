package darc

import (
	"crypto/sha256"

	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3/log"
)

// NewSignaturePath returns an initialized SignaturePath structure.
func NewSignaturePath(darcs []*Darc, signer Identity, role Role) *SignaturePath {
	return &SignaturePath{
		Darcs:  darcs,
		Signer: signer,
		Role:   role,
	}
}

// NewDarcSignature creates a new darc signature by hashing (PathMsg + msg),
// where PathMsg is retrieved from a given signature path, and signing it
// with a given signer.
func NewDarcSignature(msg []byte, sigpath *SignaturePath, signer Signer) (*Signature, error) {
	if sigpath == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "signature path is missing")
	}
	id := signer.Identity()
	if !sigpath.Signer.Equal(&id) {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "signer is not the signer of the path")
	}
	sig, err := signer.Sign(sigHash(sigpath, msg))
	if err != nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "failed to sign a hash: %v", err)
	}
	return &Signature{Signature: sig, Path: *sigpath}, nil
}

// Verify returns nil if the signature on msg is correct and its path is a
// valid path starting at base.
func (ds *Signature) Verify(msg []byte, base *Darc) error {
	return ds.verify(msg, base, true)
}

// verify checks the signature. If strict is false, the base darc only needs
// to name the first hop of the path in its rule, the caller has to evaluate
// the rule over all signatures with EvaluateSignatures.
func (ds *Signature) verify(msg []byte, base *Darc, strict bool) error {
	if base == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "base darc is missing")
	}
	if len(ds.Path.Darcs) == 0 || ds.Path.Darcs[0] == nil {
		return ocs.Errorf(ocs.ErrAuthorization, "no path stored in signature")
	}
	if !ds.Path.Darcs[0].GetID().Equal(base.GetID()) {
		return ocs.Errorf(ocs.ErrAuthorization, "base darc is not at root of path")
	}
	if err := ds.Path.verify(strict); err != nil {
		return err
	}
	err := ds.Path.Signer.Verify(sigHash(&ds.Path, msg), ds.Signature)
	return ocs.Wrap(ocs.ErrAuthorization, err, "wrong signature")
}

// sigHash returns the hash needed to create or verify a DarcSignature.
func sigHash(sigpath *SignaturePath, msg []byte) []byte {
	h := sha256.New()
	h.Write(sigpath.GetPathMsg())
	h.Write(msg)
	return h.Sum(nil)
}

// GetPathMsg returns the concatenated Darc-IDs of the path.
func (sigpath *SignaturePath) GetPathMsg() []byte {
	if sigpath == nil {
		return []byte{}
	}
	var path []byte
	for _, d := range sigpath.Darcs {
		if d != nil {
			path = append(path, d.GetID()...)
		}
	}
	return path
}

// Verify makes sure that every darc of the path allows the next one for the
// role, or is evolved into it, and that the signer is allowed by the last
// darc. A darc appearing twice in the path is a cycle and is rejected.
func (sigpath *SignaturePath) Verify() error {
	return sigpath.verify(true)
}

func (sigpath *SignaturePath) verify(strict bool) error {
	if sigpath == nil || len(sigpath.Darcs) == 0 {
		return ocs.Errorf(ocs.ErrAuthorization, "no path stored")
	}
	if _, err := sigpath.Role.Action(); err != nil {
		return ocs.Wrap(ocs.ErrAuthorization, err, "")
	}
	if sigpath.Signer.Type() == IdentityNone {
		return ocs.Errorf(ocs.ErrAuthorization, "path has no valid signer")
	}
	visited := make(map[string]bool)
	var previous *Darc
	for n, d := range sigpath.Darcs {
		if d == nil {
			return ocs.Errorf(ocs.ErrAuthorization, "null pointer in path list at position %d", n)
		}
		id := d.GetID()
		if visited[string(id)] {
			return ocs.Errorf(ocs.ErrAuthorization, "cycle in path: darc %x appears twice", []byte(id))
		}
		visited[string(id)] = true
		if previous != nil {
			if d.PrevID.Equal(previous.GetID()) {
				log.Lvlf3("Verifying evolution from %x", []byte(d.PrevID))
				if err := d.VerifyEvolution(previous); err != nil {
					return ocs.Errorf(ocs.ErrAuthorization, "not correct evolution of darcs in path: %v", err)
				}
			} else if !previous.allows(sigpath.Role, NewIdentityDarc(id), strict || n > 1) {
				return ocs.Errorf(ocs.ErrAuthorization, "didn't find valid darc-link in chain at position %d", n)
			}
		}
		previous = d
	}
	if !previous.allows(sigpath.Role, sigpath.Signer, strict || len(sigpath.Darcs) > 1) {
		return ocs.Errorf(ocs.ErrAuthorization, "didn't find signer in last darc of path")
	}
	return nil
}

// FirstHop returns the identity that the base darc of the path allows: the
// second darc, or the signer for a path of length one.
func (sigpath *SignaturePath) FirstHop() Identity {
	if len(sigpath.Darcs) > 1 && sigpath.Darcs[1] != nil {
		return NewIdentityDarc(sigpath.Darcs[1].GetID())
	}
	return sigpath.Signer
}

// EvaluateSignatures returns true if the rule of the role in base is
// satisfied by the signatures together. Every identity in the rule is
// satisfied by a signature whose path starts with it, so every conjunct of an
// AND needs its own signature. The signatures themselves are not verified.
func EvaluateSignatures(base *Darc, role Role, sigs []*Signature) bool {
	hops := make(map[string]bool)
	for _, sig := range sigs {
		if sig != nil && sig.Path.Role == role {
			hops[sig.Path.FirstHop().String()] = true
		}
	}
	return base.EvaluateWith(role, func(leaf string) bool {
		return hops[leaf]
	})
}

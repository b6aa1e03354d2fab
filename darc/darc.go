// Package darc implements Distributed Access Right Controls.
//
// A Darc contains a set of rules that determine what type of permission is
// granted to which identity. An identity is either a public key or another
// Darc, the latter giving a group of identities a permission. Every rule is
// an expression over identities, combining them with AND and OR. For more
// information please see the expression package.
//
// A Darc is updated by an evolution: the identities allowed by the
// "invoke:evolve" rule of the current version sign the new version. The
// versions form a chain from the base darc (version 0) to the latest one.
//
// A SignaturePath proves that a signer holds a role in a base darc, hop by
// hop: every darc of the path names the next one in the rule of the role, or
// the next one is a valid evolution of it, and the last darc names the
// signer.
package darc

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc/expression"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
)

// The actions every role maps to.
const (
	ActionSign   = Action("_sign")
	ActionWrite  = Action("ocs:write")
	ActionRead   = Action("ocs:read")
	ActionEvolve = Action("invoke:evolve")
)

// InitRules initialise a set of rules with the default actions
// "invoke:evolve" and "_sign". Admins are joined with logical-AND under
// "invoke:evolve" and owners are joined with logical-Or under "_sign". If
// other expressions are needed, please set the rules manually.
func InitRules(admins []Identity, owners []Identity) Rules {
	rs := make(Rules)
	rs[ActionEvolve] = expression.InitAndExpr(identityStrings(admins)...)
	rs[ActionSign] = expression.InitOrExpr(identityStrings(owners)...)
	return rs
}

// NewDarc initialises a darc-structure given its rules. Its BaseID and
// PrevID are empty, as it is the first version.
func NewDarc(rules Rules, desc []byte) *Darc {
	return &Darc{
		Version:     0,
		Description: desc,
		Rules:       rules,
	}
}

// Copy all the fields of a Darc except the signatures.
func (d *Darc) Copy() *Darc {
	dCopy := &Darc{
		Version:     d.Version,
		Description: copyBytes(d.Description),
		BaseID:      copyBytes(d.BaseID),
		PrevID:      copyBytes(d.PrevID),
	}
	newRules := make(Rules)
	for k, v := range d.Rules {
		newRules[k] = copyBytes(v)
	}
	dCopy.Rules = newRules
	return dCopy
}

// Equal returns true if both darcs point to the same data.
func (d *Darc) Equal(d2 *Darc) bool {
	return d.GetID().Equal(d2.GetID())
}

// ToProto returns a protobuf representation of the Darc-structure,
// including the signatures.
func (d *Darc) ToProto() ([]byte, error) {
	if d == nil {
		return nil, errors.New("darc is nil")
	}
	return protobuf.Encode(d)
}

// NewFromProtobuf interprets a protobuf-representation of the darc and
// returns it.
func NewFromProtobuf(protoDarc []byte) (*Darc, error) {
	d := &Darc{}
	err := protobuf.DecodeWithConstructors(protoDarc, d, network.DefaultConstructors(ocs.Suite))
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "decoding darc")
	}
	return d, nil
}

// GetID returns the Darc ID, which is a digest of the values in the Darc. The
// digest does not include the signatures.
func (d Darc) GetID() ID {
	h := sha256.New()
	verBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(verBytes, d.Version)
	h.Write(verBytes)
	h.Write(d.Description)
	h.Write(d.BaseID)
	h.Write(d.PrevID)

	actions := make([]string, 0, len(d.Rules))
	for k := range d.Rules {
		actions = append(actions, string(k))
	}
	sort.Strings(actions)
	for _, a := range actions {
		h.Write([]byte(a))
		h.Write(d.Rules[Action(a)])
	}
	return h.Sum(nil)
}

// GetIdentityString returns the string representation of the ID.
func (d Darc) GetIdentityString() string {
	return NewIdentityDarc(d.GetID()).String()
}

// GetBaseID returns the base ID or the ID of this darc if its the first darc.
func (d Darc) GetBaseID() ID {
	if d.Version == 0 {
		return d.GetID()
	}
	return d.BaseID
}

// Evaluate returns true if the rule of the role is satisfied by the identity
// alone. Unknown roles, missing rules and unparsable expressions deny.
func (d Darc) Evaluate(role Role, id Identity) bool {
	s := id.String()
	return d.EvaluateWith(role, func(leaf string) bool {
		return leaf == s
	})
}

// EvaluateWith evaluates the rule of the role and lets fn decide which
// identities of the rule are satisfied.
func (d Darc) EvaluateWith(role Role, fn expression.ValueCheckFn) bool {
	action, err := role.Action()
	if err != nil {
		return false
	}
	expr, ok := d.Rules[action]
	if !ok {
		return false
	}
	res, err := expression.Evaluate(expr, fn)
	return err == nil && res
}

// Names returns true if the identity appears in the rule of the role, whether
// or not it satisfies the rule alone.
func (d Darc) Names(role Role, id Identity) bool {
	action, err := role.Action()
	if err != nil {
		return false
	}
	ids, err := d.Rules[action].IDs()
	if err != nil {
		return false
	}
	s := id.String()
	for _, leaf := range ids {
		if leaf == s {
			return true
		}
	}
	return false
}

func (d Darc) allows(role Role, id Identity, strict bool) bool {
	if strict {
		return d.Evaluate(role, id)
	}
	return d.Names(role, id)
}

// Evolution returns the unsigned next version of the darc with the new
// rules. It has to be signed before it is accepted.
func (d *Darc) Evolution(rules Rules) *Darc {
	next := d.Copy()
	next.Version = d.Version + 1
	next.BaseID = d.GetBaseID()
	next.PrevID = d.GetID()
	next.Rules = rules
	return next
}

// Evolve returns the next version of the darc with the new rules and the
// given signatures. The evolution is verified against the receiver, so that
// a badly signed evolution fails here and not on the ledger.
func (d *Darc) Evolve(rules Rules, sigs ...*Signature) (*Darc, error) {
	next := d.Evolution(rules)
	next.Signatures = sigs
	if err := next.VerifyEvolution(d); err != nil {
		return nil, err
	}
	return next, nil
}

// EvolveWith is like Evolve, but creates the signatures. Every signer must be
// named directly in the evolve rule of the receiver.
func (d *Darc) EvolveWith(rules Rules, signers ...Signer) (*Darc, error) {
	next := d.Evolution(rules)
	sigs := make([]*Signature, len(signers))
	for i, s := range signers {
		path := NewSignaturePath([]*Darc{d}, s.Identity(), Admin)
		sig, err := NewDarcSignature(next.GetID(), path, s)
		if err != nil {
			return nil, err
		}
		sigs[i] = sig
	}
	return d.Evolve(rules, sigs...)
}

// SanityCheck performs a sanity check on the receiver against the previous
// darc. It does not check the expression or signature.
func (d Darc) SanityCheck(prev *Darc) error {
	if prev == nil {
		return ocs.Errorf(ocs.ErrCryptoStructure, "previous darc is missing")
	}
	if d.BaseID == nil {
		return ocs.Errorf(ocs.ErrCryptoStructure, "nil base ID")
	}
	if !d.GetBaseID().Equal(prev.GetBaseID()) {
		return ocs.Errorf(ocs.ErrCryptoStructure, "base IDs are not equal")
	}
	if d.Version != prev.Version+1 {
		return ocs.Errorf(ocs.ErrCryptoStructure, "incorrect version, new version should be %d but it is %d",
			prev.Version+1, d.Version)
	}
	if !d.PrevID.Equal(prev.GetID()) {
		return ocs.Errorf(ocs.ErrCryptoStructure, "prev ID is wrong")
	}
	return nil
}

// VerifyEvolution checks that the receiver is a valid evolution of prev:
// the sanity check passes, every signature proves the Admin role in prev,
// and the evolve rule of prev is satisfied by the signers together.
func (d *Darc) VerifyEvolution(prev *Darc) error {
	if err := d.SanityCheck(prev); err != nil {
		return err
	}
	if len(d.Signatures) == 0 {
		return ocs.Errorf(ocs.ErrAuthorization, "evolution to version %d has no signature", d.Version)
	}
	id := d.GetID()
	for i, sig := range d.Signatures {
		if sig == nil {
			return ocs.Errorf(ocs.ErrAuthorization, "signature %d is nil", i)
		}
		if sig.Path.Role != Admin {
			return ocs.Errorf(ocs.ErrAuthorization, "signature %d is for role %s", i, sig.Path.Role)
		}
		if sig.Path.Signer.Type() == IdentityNone {
			return ocs.Errorf(ocs.ErrAuthorization, "signature %d has no valid signer", i)
		}
		if err := sig.verify(id, prev, false); err != nil {
			return ocs.Errorf(ocs.ErrAuthorization, "signature %d: %v", i, err)
		}
	}
	if !EvaluateSignatures(prev, Admin, d.Signatures) {
		return ocs.Errorf(ocs.ErrAuthorization, "signers do not satisfy '%s'", prev.Rules[ActionEvolve])
	}
	return nil
}

// VerifyChain checks that every darc of the slice is a valid evolution of the
// one before it. The first darc is trusted.
func VerifyChain(darcs []*Darc) error {
	if len(darcs) == 0 {
		return ocs.Errorf(ocs.ErrCryptoStructure, "empty darc chain")
	}
	for i := 1; i < len(darcs); i++ {
		if darcs[i] == nil {
			return ocs.Errorf(ocs.ErrCryptoStructure, "nil darc at position %d", i)
		}
		if err := darcs[i].VerifyEvolution(darcs[i-1]); err != nil {
			return err
		}
	}
	return nil
}

// String returns a human-readable string representation of the darc.
func (d Darc) String() string {
	s := fmt.Sprintf("ID:\t%x\nBase:\t%x\nPrev:\t%x\nVer:\t%d\nRules:", []byte(d.GetID()),
		[]byte(d.GetBaseID()), []byte(d.PrevID), d.Version)
	actions := make([]string, 0, len(d.Rules))
	for k := range d.Rules {
		actions = append(actions, string(k))
	}
	sort.Strings(actions)
	for _, a := range actions {
		s += fmt.Sprintf("\n\t%s - \"%s\"", a, d.Rules[Action(a)])
	}
	for i, sig := range d.Signatures {
		s += fmt.Sprintf("\n\t%d - id: %s, sig: %x", i, sig.Path.Signer.String(), sig.Signature)
	}
	return s
}

// AddRule adds a new action expression-pair, the action must not exist.
func (r Rules) AddRule(a Action, expr expression.Expr) error {
	if _, ok := r[a]; ok {
		return ocs.Errorf(ocs.ErrCryptoStructure, "action %s already exists", a)
	}
	r[a] = expr
	return nil
}

// UpdateRule updates an existing action-expression pair.
func (r Rules) UpdateRule(a Action, expr expression.Expr) error {
	if _, ok := r[a]; !ok {
		return ocs.Errorf(ocs.ErrCryptoStructure, "action %s does not exist", a)
	}
	r[a] = expr
	return nil
}

// DeleteRule deletes an action, it cannot delete the evolve or sign action.
func (r Rules) DeleteRule(a Action) error {
	if a == ActionEvolve || a == ActionSign {
		return ocs.Errorf(ocs.ErrCryptoStructure, "cannot delete action %s", a)
	}
	if _, ok := r[a]; !ok {
		return ocs.Errorf(ocs.ErrCryptoStructure, "action %s does not exist", a)
	}
	delete(r, a)
	return nil
}

// Contains checks if the action a is in the rules.
func (r Rules) Contains(a Action) bool {
	_, ok := r[a]
	return ok
}

// Action returns the action holding the rule of the role.
func (r Role) Action() (Action, error) {
	switch r {
	case Owner:
		return ActionSign, nil
	case Writer:
		return ActionWrite, nil
	case Reader:
		return ActionRead, nil
	case Admin:
		return ActionEvolve, nil
	}
	return "", fmt.Errorf("unknown role %d", int(r))
}

func (r Role) String() string {
	switch r {
	case Owner:
		return "owner"
	case Writer:
		return "writer"
	case Reader:
		return "reader"
	case Admin:
		return "admin"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// IsNull returns true if this DarcID is not initialised.
func (id ID) IsNull() bool {
	return id == nil
}

// Equal compares with another DarcID.
func (id ID) Equal(other ID) bool {
	return bytes.Equal([]byte(id), []byte(other))
}

func identityStrings(ids []Identity) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}

func copyBytes(a []byte) []byte {
	if a == nil {
		return nil
	}
	b := make([]byte, len(a))
	copy(b, a)
	return b
}

package darc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc/expression"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestRules(t *testing.T) {
	admin := NewSignerEd25519(nil, nil)
	owner1 := NewSignerEd25519(nil, nil)
	owner2 := NewSignerEd25519(nil, nil)
	rules := InitRules([]Identity{admin.Identity()},
		[]Identity{owner1.Identity(), owner2.Identity()})
	require.True(t, rules.Contains(ActionEvolve))
	require.True(t, rules.Contains(ActionSign))
	require.Equal(t, expression.Expr(admin.Identity().String()), rules[ActionEvolve])
	require.Equal(t, expression.InitOrExpr(owner1.Identity().String(), owner2.Identity().String()),
		rules[ActionSign])

	require.Nil(t, rules.AddRule(ActionWrite, []byte(owner1.Identity().String())))
	require.NotNil(t, rules.AddRule(ActionWrite, []byte(owner2.Identity().String())))
	require.Nil(t, rules.UpdateRule(ActionWrite, []byte(owner2.Identity().String())))
	require.NotNil(t, rules.UpdateRule(ActionRead, []byte(owner2.Identity().String())))
	require.Nil(t, rules.DeleteRule(ActionWrite))
	require.False(t, rules.Contains(ActionWrite))
	require.NotNil(t, rules.DeleteRule(ActionWrite))
	require.NotNil(t, rules.DeleteRule(ActionEvolve))
	require.NotNil(t, rules.DeleteRule(ActionSign))
}

// Checks that a copied darc is independent of the original one.
func TestDarc_Copy(t *testing.T) {
	d1 := createDarc("testdarc1").darc
	d2 := d1.Copy()
	require.Equal(t, d1.GetID(), d2.GetID())

	d1.Version = 3
	d1.Description[0] = 'x'
	d1.Rules[ActionRead] = []byte("ed25519:aa")
	require.NotEqual(t, d1.Version, d2.Version)
	require.NotEqual(t, d1.Description, d2.Description)
	require.False(t, d2.Rules.Contains(ActionRead))
}

func TestDarc_Evaluate(t *testing.T) {
	td := createDarc("testdarc")
	d := td.darc
	require.True(t, d.Evaluate(Admin, td.admin.Identity()))
	require.True(t, d.Evaluate(Owner, td.owner.Identity()))
	require.False(t, d.Evaluate(Admin, td.owner.Identity()))
	// no rule for writing, and an unknown role
	require.False(t, d.Evaluate(Writer, td.owner.Identity()))
	require.False(t, d.Evaluate(Role(42), td.admin.Identity()))

	d.Rules[ActionWrite] = []byte("not an expression")
	require.False(t, d.Evaluate(Writer, td.owner.Identity()))
}

func TestDarc_ID(t *testing.T) {
	d := createDarc("testdarc").darc
	require.Equal(t, IDLen, len(d.GetID()))
	require.Equal(t, d.GetID(), d.GetBaseID())
	require.Nil(t, CheckID(d.GetID()))
	require.True(t, xerrors.Is(CheckID(d.GetID()[1:]), ocs.ErrCryptoStructure))

	// signatures are not part of the ID
	d2, err := d.EvolveWith(d.Rules, createDarc("other").admin)
	require.NotNil(t, err)
	require.Nil(t, d2)
	id := d.GetID()
	d.Signatures = []*Signature{{Signature: []byte{1}}}
	require.Equal(t, id, d.GetID())
}

// TestDarc_EvolveOne evolves a darc with a single admin, then with a rule
// needing two admins.
func TestDarc_EvolveOne(t *testing.T) {
	td := createDarc("testdarc")
	d := td.darc
	admin2 := NewSignerEd25519(nil, nil)

	// a signer without the evolve permission is rejected
	_, err := d.EvolveWith(d.Rules, admin2)
	require.NotNil(t, err)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))

	// an evolution without signature is rejected
	_, err = d.Evolve(d.Rules)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))

	rules := d.Copy().Rules
	rules[ActionEvolve] = expression.InitAndExpr(td.admin.Identity().String(),
		admin2.Identity().String())
	d1, err := d.EvolveWith(rules, td.admin)
	require.Nil(t, err)
	require.Equal(t, uint64(1), d1.Version)
	require.Equal(t, d.GetID(), d1.GetBaseID())
	require.Equal(t, d.GetID(), d1.PrevID)
	require.Nil(t, d1.VerifyEvolution(d))

	// with logical-and, one admin is not enough
	_, err = d1.EvolveWith(d1.Rules, td.admin)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
	_, err = d1.EvolveWith(d1.Rules, admin2)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
	d2, err := d1.EvolveWith(d1.Rules, td.admin, admin2)
	require.Nil(t, err)
	require.Equal(t, 2, len(d2.Signatures))
	require.Nil(t, VerifyChain([]*Darc{d, d1, d2}))
}

// A signature over another darc cannot be reused.
func TestDarc_EvolveWrongSignature(t *testing.T) {
	td := createDarc("testdarc")
	d := td.darc
	d1, err := d.EvolveWith(d.Rules, td.admin)
	require.Nil(t, err)

	rules := d.Copy().Rules
	rules[ActionRead] = []byte(td.owner.Identity().String())
	_, err = d.Evolve(rules, d1.Signatures...)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))

	// a signature for another role is rejected
	next := d.Evolution(d.Rules)
	path := NewSignaturePath([]*Darc{d}, td.owner.Identity(), Owner)
	sig, err := NewDarcSignature(next.GetID(), path, td.owner)
	require.Nil(t, err)
	_, err = d.Evolve(d.Rules, sig)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
}

func TestDarc_EvolveMore(t *testing.T) {
	td := createDarc("testdarc")
	darcs := []*Darc{td.darc}
	prevAdmin := td.admin
	for i := 0; i < 10; i++ {
		newAdmin := NewSignerEd25519(nil, nil)
		prev := darcs[len(darcs)-1]
		rules := prev.Copy().Rules
		rules[ActionEvolve] = []byte(newAdmin.Identity().String())
		dNew, err := prev.EvolveWith(rules, prevAdmin)
		require.Nil(t, err)
		darcs = append(darcs, dNew)
		prevAdmin = newAdmin
	}
	require.Nil(t, VerifyChain(darcs))

	// verification fails if the rules are tampered (ID is changed)
	last := darcs[len(darcs)-1]
	last.Rules[ActionEvolve] = []byte(td.admin.Identity().String())
	require.NotNil(t, VerifyChain(darcs))
	require.Nil(t, VerifyChain(darcs[:len(darcs)-1]))

	darcs[1].Version = 0
	require.NotNil(t, VerifyChain(darcs[:3]))
	darcs[1].Version = 1
	require.Nil(t, VerifyChain(darcs[:3]))
	require.NotNil(t, VerifyChain(nil))
}

func TestDarc_String(t *testing.T) {
	td := createDarc("testdarc")
	d1, err := td.darc.EvolveWith(td.darc.Rules, td.admin)
	require.Nil(t, err)
	s := d1.String()
	require.Contains(t, s, "invoke:evolve")
	require.Contains(t, s, td.admin.Identity().String())
}

// Darcs and identities keep all their fields when going through protobuf.
func TestDarc_RoundTrip(t *testing.T) {
	td := createDarc("testdarc")
	d1, err := td.darc.EvolveWith(td.darc.Rules, td.admin)
	require.Nil(t, err)

	buf, err := d1.ToProto()
	require.Nil(t, err)
	d1Copy, err := NewFromProtobuf(buf)
	require.Nil(t, err)
	require.Equal(t, d1.GetID(), d1Copy.GetID())
	require.Equal(t, d1.Version, d1Copy.Version)
	require.Equal(t, d1.Description, d1Copy.Description)
	require.Equal(t, d1.BaseID, d1Copy.BaseID)
	require.Equal(t, d1.PrevID, d1Copy.PrevID)
	require.Equal(t, d1.Rules, d1Copy.Rules)
	require.Equal(t, 1, len(d1Copy.Signatures))
	sig := d1Copy.Signatures[0]
	require.Equal(t, d1.Signatures[0].Signature, sig.Signature)
	require.Equal(t, Admin, sig.Path.Role)
	require.True(t, sig.Path.Signer.Equal(&d1.Signatures[0].Path.Signer))
	require.Equal(t, td.darc.GetID(), sig.Path.Darcs[0].GetID())
	require.Nil(t, d1Copy.VerifyEvolution(td.darc))

	_, err = NewFromProtobuf([]byte{1, 2, 3})
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))

	for _, id := range []Identity{td.owner.Identity(), NewIdentityDarc(td.darc.GetID())} {
		buf, err := protobuf.Encode(&id)
		require.Nil(t, err)
		var idCopy Identity
		require.Nil(t, protobuf.DecodeWithConstructors(buf, &idCopy,
			network.DefaultConstructors(ocs.Suite)))
		require.True(t, id.Equal(&idCopy))
		require.Equal(t, id.String(), idCopy.String())
	}
}

func TestParseIdentity(t *testing.T) {
	td := createDarc("testdarc")
	for _, id := range []Identity{td.owner.Identity(), NewIdentityDarc(td.darc.GetID())} {
		parsed, err := ParseIdentity(id.String())
		require.Nil(t, err)
		require.True(t, id.Equal(&parsed))
	}

	for _, s := range []string{"ed25519", "darc:1234", "darc:xyz", "ed25519:00", "rsa:1234"} {
		_, err := ParseIdentity(s)
		require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure), s)
	}
}

func TestIdentity_Type(t *testing.T) {
	require.Equal(t, IdentityNone, Identity{}.Type())
	require.Equal(t, "No identity", Identity{}.String())
	require.False(t, Identity{}.Equal(&Identity{}))
	require.NotNil(t, Identity{}.Verify([]byte("msg"), nil))
	require.Equal(t, IdentityNone, Signer{}.Type())
	_, err := Signer{}.Sign([]byte("msg"))
	require.NotNil(t, err)

	darcID := NewIdentityDarc(createDarc("testdarc").darc.GetID())
	require.Equal(t, IdentityTypeDarc, darcID.Type())
	require.NotNil(t, darcID.Verify([]byte("msg"), nil))

	// Identities as they can come out of a malformed reply.
	for _, id := range []Identity{
		{Ed25519: &IdentityEd25519{}},
		NewIdentityEd25519(nil),
		NewIdentityDarc(ID{1, 2, 3}),
	} {
		require.Equal(t, IdentityNone, id.Type())
		require.Equal(t, "No identity", id.String())
		require.False(t, id.Equal(&darcID))
		require.False(t, darcID.Equal(&id))
		require.NotNil(t, id.Verify([]byte("msg"), nil))
	}
}

type testDarc struct {
	darc  *Darc
	admin Signer
	owner Signer
}

func createDarc(desc string) *testDarc {
	td := &testDarc{
		admin: NewSignerEd25519(nil, nil),
		owner: NewSignerEd25519(nil, nil),
	}
	rules := InitRules([]Identity{td.admin.Identity()}, []Identity{td.owner.Identity()})
	td.darc = NewDarc(rules, []byte(desc))
	return td
}

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/darc/expression"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

// fixed returns the same path for every request and counts the requests.
func fixed(darcs []*darc.Darc, calls *int) FinderFunc {
	return func(context.Context, darc.ID, darc.Identity, darc.Role) ([]*darc.Darc, error) {
		*calls++
		return darcs, nil
	}
}

func newDarc(t *testing.T, action darc.Action, ids ...darc.Identity) (*darc.Darc, darc.Signer) {
	admin := darc.NewSignerEd25519(nil, nil)
	owner := []darc.Identity{admin.Identity()}
	rules := darc.InitRules(owner, owner)
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if len(strs) > 0 {
		require.Nil(t, rules.AddRule(action, expression.InitOrExpr(strs...)))
	}
	return darc.NewDarc(rules, []byte(action)), admin
}

func TestResolve_SingleHop(t *testing.T) {
	a := darc.NewSignerEd25519(nil, nil)
	d0, _ := newDarc(t, darc.ActionWrite, a.Identity())
	var calls int
	r := New(fixed([]*darc.Darc{d0}, &calls))

	path, err := r.Resolve(context.Background(), d0.GetID(), a.Identity(), darc.Writer)
	require.Nil(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, len(path.Darcs))
	require.Equal(t, d0.GetID(), path.Darcs[0].GetID())
	require.True(t, path.Darcs[len(path.Darcs)-1].Evaluate(path.Role, path.Signer))
	require.Nil(t, Validate(d0.GetID(), path))

	// The same darc doesn't give the reader role.
	_, err = r.Resolve(context.Background(), d0.GetID(), a.Identity(), darc.Reader)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
}

func TestResolve_Delegation(t *testing.T) {
	member := darc.NewSignerEd25519(nil, nil)
	group, admin := newDarc(t, darc.ActionRead, member.Identity())
	doc, _ := newDarc(t, darc.ActionRead, darc.NewIdentityDarc(group.GetID()))
	group1, err := group.EvolveWith(group.Copy().Rules, admin)
	require.Nil(t, err)

	var calls int
	path, err := New(fixed([]*darc.Darc{doc, group, group1}, &calls)).Resolve(context.Background(),
		doc.GetID(), member.Identity(), darc.Reader)
	require.Nil(t, err)
	require.Equal(t, 3, len(path.Darcs))

	// A path from another base is refused.
	_, err = New(fixed([]*darc.Darc{group}, &calls)).Resolve(context.Background(),
		doc.GetID(), member.Identity(), darc.Reader)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
	require.Contains(t, err.Error(), "doesn't start")
}

func TestResolve_Rejects(t *testing.T) {
	member := darc.NewSignerEd25519(nil, nil)
	stranger := darc.NewSignerEd25519(nil, nil)
	group, _ := newDarc(t, darc.ActionRead, member.Identity())
	unrelated, _ := newDarc(t, darc.ActionRead, member.Identity())
	doc, _ := newDarc(t, darc.ActionRead, darc.NewIdentityDarc(group.GetID()))

	// a and b name each other.
	b, _ := newDarc(t, darc.ActionRead, member.Identity())
	a, _ := newDarc(t, darc.ActionRead, darc.NewIdentityDarc(b.GetID()))
	b.Rules[darc.ActionRead] = expression.InitOrExpr(a.GetIdentityString(), member.Identity().String())

	// An evolution hop that skips versions.
	skip := group.Evolution(group.Copy().Rules)
	skip.Version = 5

	for _, tc := range []struct {
		name   string
		base   darc.ID
		darcs  []*darc.Darc
		target darc.Identity
	}{
		{"cycle", a.GetID(), []*darc.Darc{a, b, a}, member.Identity()},
		{"bad hop", doc.GetID(), []*darc.Darc{doc, unrelated}, member.Identity()},
		{"bad terminal", doc.GetID(), []*darc.Darc{doc, group}, stranger.Identity()},
		{"empty", doc.GetID(), nil, member.Identity()},
		{"nil darc", doc.GetID(), []*darc.Darc{doc, nil}, member.Identity()},
		{"wrong version", group.GetID(), []*darc.Darc{group, skip}, member.Identity()},
	} {
		var calls int
		_, err := New(fixed(tc.darcs, &calls)).Resolve(context.Background(), tc.base, tc.target, darc.Reader)
		require.True(t, xerrors.Is(err, ocs.ErrAuthorization), tc.name)
		require.False(t, xerrors.Is(err, ocs.ErrCommunication), tc.name)
		require.False(t, xerrors.Is(err, ocs.ErrCryptoStructure), tc.name)
		require.Equal(t, 1, calls, tc.name)
	}
}

func TestResolve_LocalErrors(t *testing.T) {
	member := darc.NewSignerEd25519(nil, nil)
	d, _ := newDarc(t, darc.ActionRead, member.Identity())
	var calls int
	r := New(fixed([]*darc.Darc{d}, &calls))

	_, err := r.Resolve(context.Background(), d.GetID()[:10], member.Identity(), darc.Reader)
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	_, err = r.Resolve(context.Background(), d.GetID(), darc.Identity{}, darc.Reader)
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	_, err = r.Resolve(context.Background(), d.GetID(), member.Identity(), darc.Role(42))
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	require.Equal(t, 0, calls)

	down := FinderFunc(func(context.Context, darc.ID, darc.Identity, darc.Role) ([]*darc.Darc, error) {
		return nil, ocs.Wrap(ocs.ErrCommunication, errors.New("connection refused"), "")
	})
	_, err = New(down).Resolve(context.Background(), d.GetID(), member.Identity(), darc.Reader)
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))
}

package client

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/darc/expression"
	"go.dedis.ch/ocs/service"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/ocs/transport"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type testLedger struct {
	cluster *service.Cluster
	client  *Client
	owner   darc.Signer
	admin   *darc.Darc
}

// newTestLedger creates a ledger whose admin darc is owned by owner, who
// is also the only writer.
func newTestLedger(t *testing.T, n int) *testLedger {
	cluster, err := service.NewCluster(n)
	require.Nil(t, err)
	l := &testLedger{cluster: cluster, owner: darc.NewSignerEd25519(nil, nil)}
	l.admin = newDarc(t, l.owner, "admin", darc.ActionWrite, l.owner.Identity())
	l.client = l.newClient(t)
	_, err = l.client.CreateChain(context.Background(), l.admin)
	require.Nil(t, err)
	return l
}

func (l *testLedger) newClient(t *testing.T) *Client {
	cl, err := NewClient(Config{Roster: l.cluster.Roster}, l.cluster)
	require.Nil(t, err)
	return cl
}

func (l *testLedger) Close() {
	l.cluster.Close()
}

func newDarc(t *testing.T, owner darc.Signer, desc string, action darc.Action, ids ...darc.Identity) *darc.Darc {
	own := []darc.Identity{owner.Identity()}
	rules := darc.InitRules(own, own)
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	require.Nil(t, rules.AddRule(action, expression.InitOrExpr(strs...)))
	return darc.NewDarc(rules, []byte(desc))
}

func TestClient_Lifecycle(t *testing.T) {
	l := newTestLedger(t, 3)
	defer l.Close()
	ctx := context.Background()
	require.NotNil(t, l.client.LedgerID())
	require.NotNil(t, l.client.SharedPublicKey())

	other := l.newClient(t)
	require.Nil(t, other.Attach(ctx, l.client.LedgerID()))
	require.True(t, l.client.SharedPublicKey().Equal(other.SharedPublicKey()))
	require.Equal(t, l.admin.GetID(), other.CachedAdminDarc().GetID())
	require.Equal(t, l.client.LedgerID(), other.Config().LedgerID)

	reader := darc.NewSignerEd25519(nil, nil)
	readers := newDarc(t, l.owner, "readers", darc.ActionRead, reader.Identity())
	symKey := random.Bits(256, true, random.New())
	writeSB, err := l.client.WriteDocument(ctx, []byte("secret document"), symKey, readers, l.owner)
	require.Nil(t, err)

	write, err := other.GetWrite(ctx, writeSB.Hash)
	require.Nil(t, err)
	require.Equal(t, []byte("secret document"), write.Data)
	require.Equal(t, readers.GetID(), write.Reader.GetID())
	_, err = other.GetRead(ctx, writeSB.Hash)
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))

	readSB, err := other.ReadDocument(ctx, writeSB.Hash, reader)
	require.Nil(t, err)
	read, err := l.client.GetRead(ctx, readSB.Hash)
	require.Nil(t, err)
	require.Equal(t, writeSB.Hash, read.DataID)

	dk, err := other.GetDecryptionKey(ctx, readSB.Hash)
	require.Nil(t, err)
	priv, err := reader.GetPrivate()
	require.Nil(t, err)
	k, err := dk.DecodeKey(priv)
	require.Nil(t, err)
	require.Equal(t, symKey, k)

	eph := key.NewKeyPair(ocs.Suite)
	sig, err := other.SignEphemeral(ctx, writeSB.Hash, reader, eph.Public)
	require.Nil(t, err)
	dk, err = other.GetDecryptionKeyEphemeral(ctx, readSB.Hash, sig, eph.Public)
	require.Nil(t, err)
	k, err = dk.DecodeKey(eph.Private)
	require.Nil(t, err)
	require.Equal(t, symKey, k)

	docs, err := l.client.ListReadRequests(ctx, writeSB.Hash, 0)
	require.Nil(t, err)
	require.Equal(t, 1, len(docs))
	readerID := reader.Identity()
	require.True(t, docs[0].Reader.Equal(&readerID))
	require.Equal(t, readSB.Hash, docs[0].ReadID)

	tx, err := l.client.GetTransaction(ctx, l.client.LedgerID())
	require.Nil(t, err)
	require.NotNil(t, tx.Darc)
	require.Equal(t, l.admin.GetID(), tx.Darc.GetID())

	// Somebody not in the reader darc.
	stranger := darc.NewSignerEd25519(nil, nil)
	_, err = other.ReadDocument(ctx, writeSB.Hash, stranger)
	require.NotNil(t, err)
}

func TestClient_DecryptMissingRecords(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()

	_, err := l.client.GetDecryptionKey(ctx, random.Bits(256, true, random.New()))
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))

	// The genesis block is not a read-request.
	_, err = l.client.GetDecryptionKey(ctx, l.client.LedgerID())
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))

	calls := l.cluster.TotalCalls()
	_, err = l.client.GetDecryptionKey(ctx, []byte("short"))
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	require.Equal(t, calls, l.cluster.TotalCalls())
}

func TestClient_UpdateDarc(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()

	writer := darc.NewSignerEd25519(nil, nil)
	rules := darc.InitRules([]darc.Identity{l.owner.Identity()}, []darc.Identity{l.owner.Identity()})
	require.Nil(t, rules.AddRule(darc.ActionWrite, expression.InitOrExpr(l.owner.Identity().String(),
		writer.Identity().String())))
	admin1, err := l.admin.EvolveWith(rules, l.owner)
	require.Nil(t, err)
	sb, err := l.client.UpdateDarc(ctx, l.admin, admin1)
	require.Nil(t, err)
	require.NotNil(t, sb)

	// The cache only changes on an explicit refresh.
	require.Equal(t, 0, int(l.client.CachedAdminDarc().Version))
	latest, err := l.client.AdminDarc(ctx)
	require.Nil(t, err)
	require.Equal(t, admin1.GetID(), latest.GetID())
	require.Equal(t, 0, int(l.client.CachedAdminDarc().Version))
	_, err = l.client.RefreshAdminDarc(ctx)
	require.Nil(t, err)
	require.Equal(t, admin1.GetID(), l.client.CachedAdminDarc().GetID())

	chain, err := l.client.GetLatestDarcChain(ctx, l.admin.GetID())
	require.Nil(t, err)
	require.Equal(t, 2, len(chain))
	require.Equal(t, l.admin.GetID(), chain[0].GetID())

	// The new writer can publish.
	readers := newDarc(t, l.owner, "readers", darc.ActionRead, writer.Identity())
	_, err = l.client.WriteDocument(ctx, nil, []byte("key"), readers, writer)
	require.Nil(t, err)

	x, err := l.client.RefreshSharedPublicKey(ctx)
	require.Nil(t, err)
	require.True(t, x.Equal(l.client.SharedPublicKey()))
}

func TestClient_EvolutionWithoutAdmin(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()

	a := darc.NewSignerEd25519(nil, nil)
	d0 := newDarc(t, l.owner, "d0", darc.ActionWrite, a.Identity())
	_, err := l.client.UpdateDarc(ctx, nil, d0)
	require.Nil(t, err)

	calls := l.cluster.TotalCalls()
	path, err := l.client.Resolve(ctx, d0.GetID(), a.Identity(), darc.Writer)
	require.Nil(t, err)
	require.Equal(t, 1, len(path.Darcs))
	require.Equal(t, d0.GetID(), path.Darcs[0].GetID())
	require.True(t, path.Darcs[0].Evaluate(darc.Writer, a.Identity()))
	require.Equal(t, calls+1, l.cluster.TotalCalls())

	// a is a writer, but not an admin of d0.
	next := d0.Evolution(d0.Copy().Rules)
	adminPath := darc.NewSignaturePath([]*darc.Darc{d0}, a.Identity(), darc.Admin)
	sig, err := darc.NewDarcSignature(next.GetID(), adminPath, a)
	require.Nil(t, err)
	next.Signatures = []*darc.Signature{sig}
	_, err = d0.Evolve(next.Rules, sig)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))

	calls = l.cluster.TotalCalls()
	_, err = l.client.UpdateDarc(ctx, d0, next)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
	next.Signatures = nil
	_, err = l.client.UpdateDarc(ctx, d0, next)
	require.True(t, xerrors.Is(err, ocs.ErrAuthorization))
	_, err = l.client.UpdateDarc(ctx, nil, next)
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	require.Equal(t, calls, l.cluster.TotalCalls())
}

func TestClient_Unattached(t *testing.T) {
	cluster, err := service.NewCluster(1)
	require.Nil(t, err)
	defer cluster.Close()
	ctx := context.Background()

	cl, err := NewClient(Config{Roster: cluster.Roster}, cluster)
	require.Nil(t, err)
	require.Nil(t, cl.LedgerID())
	_, err = cl.GetSkipblock(ctx, random.Bits(256, true, random.New()))
	require.True(t, xerrors.Is(err, ErrUnattached))
	_, err = cl.AdminDarc(ctx)
	require.True(t, xerrors.Is(err, ErrUnattached))
	_, err = cl.RefreshSharedPublicKey(ctx)
	require.True(t, xerrors.Is(err, ErrUnattached))
	require.Equal(t, 0, cluster.TotalCalls())

	// No ledger with this id.
	err = cl.Attach(ctx, random.Bits(256, true, random.New()))
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))
	require.Nil(t, cl.LedgerID())
	require.True(t, xerrors.Is(cl.Attach(ctx, []byte{1, 2}), ocs.ErrCryptoStructure))

	_, err = NewClient(Config{}, cluster)
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
}

func TestClient_AttachOnce(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()
	id := l.client.LedgerID()

	calls := l.cluster.TotalCalls()
	require.True(t, xerrors.Is(l.client.Attach(ctx, id), ErrAttached))
	_, err := l.client.CreateChain(ctx, newDarc(t, l.owner, "other", darc.ActionWrite, l.owner.Identity()))
	require.True(t, xerrors.Is(err, ErrAttached))
	require.Equal(t, calls, l.cluster.TotalCalls())
	require.Equal(t, id, l.client.LedgerID())
	require.Equal(t, l.admin.GetID(), l.client.CachedAdminDarc().GetID())

	other := l.newClient(t)
	require.Nil(t, other.Attach(ctx, id))
	require.True(t, xerrors.Is(other.Attach(ctx, id), ErrAttached))
}

// A reply holding an evolution signed by a key identity without a point
// must be refused, not crash the client.
func TestClient_MalformedDarcReply(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()

	next := l.admin.Evolution(l.admin.Copy().Rules)
	next.Signatures = []*darc.Signature{{
		Signature: []byte("sig"),
		Path: *darc.NewSignaturePath([]*darc.Darc{l.admin},
			darc.Identity{Ed25519: &darc.IdentityEd25519{}}, darc.Admin),
	}}
	bad := transport.Func(func(ctx context.Context, dst *network.ServerIdentity, name, path string,
		buf []byte) ([]byte, error) {
		if path == transport.Path(&service.GetLatestDarc{}) {
			return transport.Encode(&service.GetLatestDarcReply{Darcs: []*darc.Darc{l.admin, next}})
		}
		return l.cluster.Send(ctx, dst, name, path, buf)
	})
	cl, err := NewClient(Config{Roster: l.cluster.Roster}, bad)
	require.Nil(t, err)
	require.Nil(t, cl.Attach(ctx, l.client.LedgerID()))

	_, err = cl.GetLatestDarcChain(ctx, l.admin.GetID())
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))
	require.False(t, xerrors.Is(err, ocs.ErrAuthorization))
	_, err = cl.AdminDarc(ctx)
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))
	require.Equal(t, l.admin.GetID(), cl.CachedAdminDarc().GetID())
}

func TestClient_Verify(t *testing.T) {
	cluster, err := service.NewCluster(3)
	require.Nil(t, err)
	defer cluster.Close()
	cl, err := NewClient(Config{Roster: cluster.Roster}, cluster)
	require.Nil(t, err)
	ctx := context.Background()

	require.True(t, cl.Verify(ctx))
	cluster.SetDown(1, true)
	require.False(t, cl.Verify(ctx))
	for i := range cluster.Roster.List {
		require.Equal(t, 2, cluster.Calls(i))
	}

	statuses := cl.VerifyNodes(ctx)
	require.Equal(t, 3, len(statuses))
	require.Nil(t, statuses[0].Err)
	require.True(t, xerrors.Is(statuses[1].Err, ocs.ErrCommunication))
	require.Nil(t, statuses[2].Err)
	require.Equal(t, cluster.Roster.List[2].ID, statuses[2].Server.ID)
	require.Equal(t, "0", statuses[2].Status[service.ServiceName].Field["Ledgers"])
}

func TestClient_VerifyDown(t *testing.T) {
	cluster, err := service.NewCluster(3)
	require.Nil(t, err)
	defer cluster.Close()
	cluster.SetDown(1, true)
	cl, err := NewClient(Config{Roster: cluster.Roster}, cluster)
	require.Nil(t, err)

	require.False(t, cl.Verify(context.Background()))
	for i := range cluster.Roster.List {
		require.Equal(t, 1, cluster.Calls(i))
	}
}

func TestClient_VerifyTimeout(t *testing.T) {
	cluster, err := service.NewCluster(2)
	require.Nil(t, err)
	defer cluster.Close()
	hanging := transport.Func(func(ctx context.Context, dst *network.ServerIdentity, name, path string,
		buf []byte) ([]byte, error) {
		if dst.Equal(cluster.Roster.List[0]) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return cluster.Send(ctx, dst, name, path, buf)
	})
	cl, err := NewClient(Config{Roster: cluster.Roster, Timeout: 50 * time.Millisecond}, hanging)
	require.Nil(t, err)

	statuses := cl.VerifyNodes(context.Background())
	require.True(t, xerrors.Is(statuses[0].Err, ocs.ErrCommunication))
	require.True(t, xerrors.Is(statuses[0].Err, context.DeadlineExceeded))
	require.Nil(t, statuses[1].Err)
	require.False(t, cl.Verify(context.Background()))
}

func TestConfig_Toml(t *testing.T) {
	cluster, err := service.NewCluster(3)
	require.Nil(t, err)
	defer cluster.Close()

	cfg := &Config{
		Roster:   cluster.Roster,
		LedgerID: random.Bits(256, true, random.New()),
		Timeout:  5 * time.Second,
	}
	var buf bytes.Buffer
	require.Nil(t, cfg.Save(&buf))
	require.Contains(t, buf.String(), "[[Servers]]")

	loaded, err := LoadConfig(&buf)
	require.Nil(t, err)
	require.Equal(t, cfg.LedgerID, loaded.LedgerID)
	require.Equal(t, cfg.Timeout, loaded.Timeout)
	require.Equal(t, len(cfg.Roster.List), len(loaded.Roster.List))
	for i, si := range cfg.Roster.List {
		require.True(t, si.Public.Equal(loaded.Roster.List[i].Public))
		require.Equal(t, si.Address, loaded.Roster.List[i].Address)
		require.Equal(t, si.Description, loaded.Roster.List[i].Description)
	}

	_, err = LoadConfig(strings.NewReader(`
[[Servers]]
  Address = "tcp://127.0.0.1:2000"
  Public = "not hex"
`))
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
	_, err = LoadConfig(strings.NewReader(`LedgerID = "abcd"`))
	require.True(t, xerrors.Is(err, ocs.ErrCryptoStructure))
}

func TestClient_GetSkipblock(t *testing.T) {
	l := newTestLedger(t, 1)
	defer l.Close()
	ctx := context.Background()

	genesis, err := l.client.GetSkipblock(ctx, l.client.LedgerID())
	require.Nil(t, err)
	require.Equal(t, 0, genesis.Index)
	readers := newDarc(t, l.owner, "readers", darc.ActionRead, l.owner.Identity())
	writeSB, err := l.client.WriteDocument(ctx, nil, []byte("key"), readers, l.owner)
	require.Nil(t, err)
	sb, err := l.client.GetSkipblock(ctx, writeSB.Hash)
	require.Nil(t, err)
	require.Equal(t, 1, sb.Index)

	// A transport returning another block than the one asked for.
	wrong := transport.Func(func(ctx context.Context, dst *network.ServerIdentity, name, path string,
		buf []byte) ([]byte, error) {
		if name == skipchain.ServiceName {
			buf, _ = transport.Encode(&skipchain.GetSingleBlock{ID: writeSB.Hash})
		}
		return l.cluster.Send(ctx, dst, name, path, buf)
	})
	cl, err := NewClient(Config{Roster: l.cluster.Roster}, wrong)
	require.Nil(t, err)
	err = cl.Attach(ctx, l.client.LedgerID())
	require.True(t, xerrors.Is(err, ocs.ErrCommunication))
	require.Nil(t, cl.LedgerID())
}

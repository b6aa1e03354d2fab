// ocsadmin publishes encrypted documents on an onchain-secrets ledger and
// gets them back for the readers allowed by the darc of the document.
//
// The configuration directory holds the key pair of the user in key.toml
// and the roster and id of the ledger in ledger.toml.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/client"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/darc/expression"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

var cliApp = cli.NewApp()

// out is where the results go, tests replace it.
var out io.Writer = os.Stdout

var gitTag = "dev"

func init() {
	cliApp.Name = "ocsadmin"
	cliApp.Usage = "Publish and read documents on an onchain-secrets ledger"
	cliApp.Version = gitTag
	cliApp.Commands = cmds // stored in "commands.go"
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:   "config, c",
			EnvVar: "OCS_CONFIG",
			Value:  ".",
			Usage:  "path to configuration-directory",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
}

func main() {
	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func keygen(c *cli.Context) error {
	dir := configDir(c)
	if _, err := os.Stat(filepath.Join(dir, keyFile)); err == nil && !c.Bool("force") {
		return xerrors.New("key exists already, use --force to overwrite")
	}
	signer := darc.NewSignerEd25519(nil, nil)
	if err := saveSigner(dir, signer); err != nil {
		return err
	}
	log.Info("Created new key pair")
	fmt.Fprintln(out, signer.Identity().String())
	return nil
}

func verify(c *cli.Context) error {
	file := filepath.Join(configDir(c), ledgerFile)
	if c.NArg() > 0 {
		file = c.Args().First()
	}
	cfg, err := loadConfig(file)
	if err != nil {
		return err
	}
	t := newTransport()
	defer closeTransport(t)
	cl, err := client.NewClient(*cfg, t)
	if err != nil {
		return err
	}
	healthy := true
	for _, s := range cl.VerifyNodes(context.Background()) {
		if s.Err != nil {
			healthy = false
			fmt.Fprintf(out, "%s: %v\n", s.Server.Address, s.Err)
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", s.Server.Address)
	}
	if !healthy {
		return xerrors.New("not all nodes are healthy")
	}
	return nil
}

func create(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: group.toml")
	}
	signer, err := loadSigner(configDir(c))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c.Args().First())
	if err != nil {
		return err
	}
	own := []darc.Identity{signer.Identity()}
	rules := darc.InitRules(own, own)
	if err := rules.AddRule(darc.ActionWrite, expression.InitOrExpr(signer.Identity().String())); err != nil {
		return err
	}
	admin := darc.NewDarc(rules, []byte(c.String("desc")))
	t := newTransport()
	defer closeTransport(t)
	cl, err := client.NewClient(*cfg, t)
	if err != nil {
		return err
	}
	id, err := cl.CreateChain(context.Background(), admin)
	if err != nil {
		return err
	}
	if err := saveConfig(configDir(c), cl.Config()); err != nil {
		return err
	}
	log.Infof("Created ledger with admin darc %x", []byte(admin.GetID()))
	fmt.Fprintf(out, "%x\n", []byte(id))
	return nil
}

func attach(c *cli.Context) error {
	if c.NArg() != 2 {
		return xerrors.New("please give: group.toml ledger-id")
	}
	cfg, err := loadConfig(c.Args().First())
	if err != nil {
		return err
	}
	id, err := blockID(c.Args().Get(1))
	if err != nil {
		return err
	}
	t := newTransport()
	defer closeTransport(t)
	cl, err := client.NewClient(*cfg, t)
	if err != nil {
		return err
	}
	if err := cl.Attach(context.Background(), id); err != nil {
		return err
	}
	return saveConfig(configDir(c), cl.Config())
}

func darcShow(c *cli.Context) error {
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()
	id := s.CachedAdminDarc().GetID()
	if c.NArg() > 0 {
		if id, err = hex.DecodeString(c.Args().First()); err != nil {
			return err
		}
	}
	darcs, err := s.GetLatestDarcChain(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range darcs {
		fmt.Fprintln(out, d.String())
	}
	return nil
}

func darcPath(c *cli.Context) error {
	if c.NArg() != 2 {
		return xerrors.New("please give: darc-id identity")
	}
	role, err := parseRole(c.String("role"))
	if err != nil {
		return err
	}
	base, err := hex.DecodeString(c.Args().First())
	if err != nil {
		return err
	}
	target, err := darc.ParseIdentity(c.Args().Get(1))
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()
	path, err := s.Resolve(ctx, base, target, role)
	if err != nil {
		return err
	}
	for _, d := range path.Darcs {
		fmt.Fprintf(out, "%x version %d\n", []byte(d.GetID()), d.Version)
	}
	return nil
}

func darcWriter(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: identity")
	}
	writer, err := darc.ParseIdentity(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()
	latest, err := s.RefreshAdminDarc(ctx)
	if err != nil {
		return err
	}
	rules := latest.Copy().Rules
	expr := expression.Expr(writer.String())
	if old, ok := rules[darc.ActionWrite]; ok {
		expr = expression.Expr("(" + string(old) + ") | " + writer.String())
	}
	rules[darc.ActionWrite] = expr
	next, err := latest.EvolveWith(rules, s.signer)
	if err != nil {
		return err
	}
	if _, err := s.UpdateDarc(ctx, latest, next); err != nil {
		return err
	}
	log.Infof("Evolved admin darc to version %d", next.Version)
	fmt.Fprintf(out, "%x\n", []byte(next.GetID()))
	return nil
}

func write(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: file")
	}
	doc, err := ioutil.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	readers := []string{s.signer.Identity().String()}
	if r := c.StringSlice("reader"); len(r) > 0 {
		readers = readers[:0]
		for _, str := range r {
			id, err := darc.ParseIdentity(str)
			if err != nil {
				return err
			}
			readers = append(readers, id.String())
		}
	}
	own := []darc.Identity{s.signer.Identity()}
	rules := darc.InitRules(own, own)
	if err := rules.AddRule(darc.ActionRead, expression.InitOrExpr(readers...)); err != nil {
		return err
	}
	readerDarc := darc.NewDarc(rules, []byte(filepath.Base(c.Args().First())))

	symKey := newSymKey()
	data, err := encrypt(symKey, doc)
	if err != nil {
		return err
	}
	sb, err := s.WriteDocument(ctx, data, symKey, readerDarc, s.signer)
	if err != nil {
		return err
	}
	log.Infof("Published %s with reader darc %x", c.Args().First(), []byte(readerDarc.GetID()))
	fmt.Fprintf(out, "%x\n", []byte(sb.Hash))
	return nil
}

func read(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: write-id")
	}
	writeID, err := blockID(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()
	sb, err := s.ReadDocument(ctx, writeID, s.signer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%x\n", []byte(sb.Hash))
	return nil
}

// decryptDoc uses an ephemeral key, so the private key of the user never
// leaves this tool, not even in re-encrypted form.
func decryptDoc(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: read-id")
	}
	readID, err := blockID(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	rd, err := s.GetRead(ctx, readID)
	if err != nil {
		return err
	}
	eph := key.NewKeyPair(ocs.Suite)
	sig, err := s.SignEphemeral(ctx, rd.DataID, s.signer, eph.Public)
	if err != nil {
		return err
	}
	dk, err := s.GetDecryptionKeyEphemeral(ctx, readID, sig, eph.Public)
	if err != nil {
		return err
	}
	symKey, err := dk.DecodeKey(eph.Private)
	if err != nil {
		return err
	}
	wr, err := s.GetWrite(ctx, rd.DataID)
	if err != nil {
		return err
	}
	doc, err := decrypt(symKey, wr.Data)
	if err != nil {
		return xerrors.Errorf("couldn't decrypt document: %v", err)
	}
	if file := c.String("out"); file != "" {
		return ioutil.WriteFile(file, doc, 0600)
	}
	_, err = out.Write(doc)
	return err
}

func list(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give: write-id")
	}
	writeID, err := blockID(c.Args().First())
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()
	docs, err := s.ListReadRequests(ctx, writeID, 0)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(out, "%x %s\n", []byte(d.ReadID), d.Reader.String())
	}
	return nil
}

func blockID(s string) (skipchain.SkipBlockID, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("invalid id %q: %v", s, err)
	}
	id := skipchain.SkipBlockID(buf)
	return id, id.Check()
}

func parseRole(s string) (darc.Role, error) {
	for _, r := range []darc.Role{darc.Owner, darc.Writer, darc.Reader, darc.Admin} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, xerrors.Errorf("unknown role %q", s)
}

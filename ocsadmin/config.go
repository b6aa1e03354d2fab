package main

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/client"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/transport"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

const (
	ledgerFile = "ledger.toml"
	keyFile    = "key.toml"
)

// newTransport is a function pointer so that tests can replace the conodes.
var newTransport = func() transport.Transport {
	return transport.NewOnet()
}

// keyToml holds the key pair of the user of the tool.
type keyToml struct {
	Public  string
	Private string
}

func configDir(c *cli.Context) string {
	return c.GlobalString("config")
}

func loadSigner(dir string) (darc.Signer, error) {
	kt := &keyToml{}
	if _, err := toml.DecodeFile(filepath.Join(dir, keyFile), kt); err != nil {
		return darc.Signer{}, xerrors.Errorf("couldn't read key, use 'keygen' first: %v", err)
	}
	pub, err := encoding.StringHexToPoint(ocs.Suite, kt.Public)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("public key: %v", err)
	}
	priv, err := encoding.StringHexToScalar(ocs.Suite, kt.Private)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("private key: %v", err)
	}
	return darc.NewSignerEd25519(pub, priv), nil
}

func saveSigner(dir string, s darc.Signer) error {
	priv, err := s.GetPrivate()
	if err != nil {
		return err
	}
	kt := &keyToml{}
	if kt.Public, err = encoding.PointToStringHex(ocs.Suite, s.Ed25519.Point); err != nil {
		return err
	}
	if kt.Private, err = encoding.ScalarToStringHex(ocs.Suite, priv); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(kt); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, keyFile), buf.Bytes(), 0600)
}

func loadConfig(file string) (*client.Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return client.LoadConfig(f)
}

func saveConfig(dir string, cfg client.Config) error {
	var buf bytes.Buffer
	if err := cfg.Save(&buf); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ledgerFile), buf.Bytes(), 0644)
}

func writeFile(file string, buf []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(file, buf, perm)
}

// session is a client attached to the ledger of the configuration, together
// with the key of the user.
type session struct {
	*client.Client
	signer darc.Signer
	t      transport.Transport
}

// newSession loads the ledger and the key from the configuration directory
// and attaches to the ledger.
func newSession(ctx context.Context, c *cli.Context) (*session, error) {
	dir := configDir(c)
	signer, err := loadSigner(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(filepath.Join(dir, ledgerFile))
	if err != nil {
		return nil, xerrors.Errorf("couldn't read ledger, use 'create' or 'attach' first: %v", err)
	}
	if cfg.LedgerID == nil {
		return nil, xerrors.New("no ledger in config, use 'create' or 'attach' first")
	}
	t := newTransport()
	cl, err := client.NewClient(*cfg, t)
	if err == nil {
		err = cl.Attach(ctx, cfg.LedgerID)
	}
	if err != nil {
		closeTransport(t)
		return nil, err
	}
	log.Lvlf2("Attached to %x", []byte(cfg.LedgerID))
	return &session{Client: cl, signer: signer, t: t}, nil
}

func (s *session) Close() {
	closeTransport(s.t)
}

func closeTransport(t transport.Transport) {
	if cl, ok := t.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			log.Error(err)
		}
	}
}

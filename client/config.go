package client

import (
	"encoding/hex"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

// DefaultTimeout is used for every request when the configuration doesn't
// give one.
const DefaultTimeout = 20 * time.Second

// Config holds everything a client needs to talk to a ledger. LedgerID is
// empty before the ledger is created.
type Config struct {
	Roster   *onet.Roster
	LedgerID skipchain.SkipBlockID
	Timeout  time.Duration
}

// configToml is the representation of Config in a toml file.
type configToml struct {
	LedgerID string
	Timeout  string
	Servers  []serverToml
}

// serverToml is one entry of the roster in the toml file.
type serverToml struct {
	Address     string
	Public      string
	Description string
}

// LoadConfig reads a configuration in toml format.
func LoadConfig(r io.Reader) (*Config, error) {
	ct := &configToml{}
	if _, err := toml.DecodeReader(r, ct); err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "decoding config")
	}
	if len(ct.Servers) == 0 {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "no servers in config")
	}
	list := make([]*network.ServerIdentity, len(ct.Servers))
	for i, s := range ct.Servers {
		si, err := s.toServerIdentity()
		if err != nil {
			return nil, err
		}
		list[i] = si
	}
	cfg := &Config{Roster: onet.NewRoster(list)}
	if ct.LedgerID != "" {
		id, err := hex.DecodeString(ct.LedgerID)
		if err != nil {
			return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "ledger id")
		}
		cfg.LedgerID = id
		if err := cfg.LedgerID.Check(); err != nil {
			return nil, err
		}
	}
	if ct.Timeout != "" {
		t, err := time.ParseDuration(ct.Timeout)
		if err != nil {
			return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "timeout")
		}
		cfg.Timeout = t
	}
	return cfg, nil
}

// Save writes the configuration in toml format.
func (cfg *Config) Save(w io.Writer) error {
	if cfg.Roster == nil {
		return ocs.Errorf(ocs.ErrCryptoStructure, "config without roster")
	}
	ct := &configToml{}
	if cfg.LedgerID != nil {
		ct.LedgerID = hex.EncodeToString(cfg.LedgerID)
	}
	if cfg.Timeout > 0 {
		ct.Timeout = cfg.Timeout.String()
	}
	for _, si := range cfg.Roster.List {
		pub, err := encoding.PointToStringHex(ocs.Suite, si.Public)
		if err != nil {
			return ocs.Wrap(ocs.ErrCryptoStructure, err, "public key of "+si.Address.String())
		}
		ct.Servers = append(ct.Servers, serverToml{
			Address:     si.Address.String(),
			Public:      pub,
			Description: si.Description,
		})
	}
	return toml.NewEncoder(w).Encode(ct)
}

func (cfg *Config) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

func (s serverToml) toServerIdentity() (*network.ServerIdentity, error) {
	pub, err := encoding.StringHexToPoint(ocs.Suite, s.Public)
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "public key of "+s.Address)
	}
	addr := network.Address(s.Address)
	if !addr.Valid() {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "invalid address %q", s.Address)
	}
	si := network.NewServerIdentity(pub, addr)
	si.Description = s.Description
	return si, nil
}

package ocs

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the cryptographic suite shared by every package of the module:
// darc identities, the ElGamal encryption of the symmetric keys and the
// decoding of re-encrypted keys all use it.
var Suite = suites.MustFind("Ed25519")

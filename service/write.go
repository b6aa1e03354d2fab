package service

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/ocs"
	"go.dedis.ch/ocs/darc"
	"go.dedis.ch/ocs/skipchain"
	"go.dedis.ch/onet/v3/log"
)

type suite interface {
	kyber.Group
	kyber.XOFFactory
	kyber.Random
}

// NewWrite is used by the writer to a ledger to encode his symmetric key
// under the collective public key.
// As this method uses `Embed` to encode the key, depending on the key-length
// more than one point is needed to encode the data.
//
// Input:
//   - suite - the cryptographic suite to use
//   - scid - the id of the ledger - used to create the second generator
//   - X - the shared public key of the ledger
//   - reader - the darc that points to valid readers
//   - key - the symmetric key for the document
//
// Output:
//   - write - structure containing the encrypted key U, Cs and the NIZKP of
//   it containing the reader-darc.
func NewWrite(suite suite, scid skipchain.SkipBlockID, X kyber.Point, reader *darc.Darc, key []byte) *Write {
	wr := &Write{
		Reader: *reader,
	}
	r := suite.Scalar().Pick(suite.RandomStream())
	C := suite.Point().Mul(r, X)
	wr.U = suite.Point().Mul(r, nil)

	for len(key) > 0 {
		kp := suite.Point().Embed(key, suite.RandomStream())
		wr.Cs = append(wr.Cs, suite.Point().Add(C, kp))
		key = key[min(len(key), kp.EmbedLen()):]
	}

	gBar := suite.Point().Pick(suite.XOF(scid))
	wr.Ubar = suite.Point().Mul(r, gBar)
	s := suite.Scalar().Pick(suite.RandomStream())
	w := suite.Point().Mul(s, nil)
	wBar := suite.Point().Mul(s, gBar)
	wr.E = wr.challenge(suite, w, wBar)
	wr.F = suite.Scalar().Add(s, suite.Scalar().Mul(wr.E, r))
	return wr
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CheckProof verifies that the write-request has actually been created with
// somebody having access to the secret key.
func (wr *Write) CheckProof(suite suite, scid skipchain.SkipBlockID) error {
	if wr.U == nil || wr.Ubar == nil || wr.E == nil || wr.F == nil {
		return ocs.Errorf(ocs.ErrCryptoStructure, "incomplete proof in write")
	}
	gf := suite.Point().Mul(wr.F, nil)
	ue := suite.Point().Mul(suite.Scalar().Neg(wr.E), wr.U)
	w := suite.Point().Add(gf, ue)

	gBar := suite.Point().Pick(suite.XOF(scid))
	gfBar := suite.Point().Mul(wr.F, gBar)
	ueBar := suite.Point().Mul(suite.Scalar().Neg(wr.E), wr.Ubar)
	wBar := suite.Point().Add(gfBar, ueBar)

	if wr.challenge(suite, w, wBar).Equal(wr.E) {
		return nil
	}
	return ocs.Errorf(ocs.ErrCryptoStructure, "recreated proof is not equal to stored proof")
}

func (wr *Write) challenge(suite suite, w, wBar kyber.Point) kyber.Scalar {
	hash := sha256.New()
	for _, c := range wr.Cs {
		c.MarshalTo(hash)
	}
	wr.U.MarshalTo(hash)
	wr.Ubar.MarshalTo(hash)
	w.MarshalTo(hash)
	wBar.MarshalTo(hash)
	hash.Write(wr.Reader.GetID())
	return suite.Scalar().SetBytes(hash.Sum(nil))
}

// DecodeKey can be used by the reader of a document to convert the
// re-encrypted secret back to the symmetric key of the document.
//
// Input:
//   - suite - the cryptographic suite to use
//   - X - the shared public key of the ledger
//   - Cs - the encrypted key-slices
//   - XhatEnc - the re-encrypted schnorr-commit
//   - xc - the private key of the reader, or the ephemeral private key
//
// Output:
//   - key - the re-assembled key
//   - err - an eventual error when trying to recover the data from the points
func DecodeKey(suite kyber.Group, X kyber.Point, Cs []kyber.Point, XhatEnc kyber.Point,
	xc kyber.Scalar) (key []byte, err error) {
	if X == nil || XhatEnc == nil || xc == nil {
		return nil, ocs.Errorf(ocs.ErrCryptoStructure, "missing key material")
	}
	xcInv := suite.Scalar().Neg(xc)
	XhatDec := suite.Point().Mul(xcInv, X)
	Xhat := suite.Point().Add(XhatEnc, XhatDec)
	XhatInv := suite.Point().Neg(Xhat)
	log.Lvl4("Xhat:", Xhat)

	// Decrypt Cs to keyPointHat
	for _, C := range Cs {
		keyPointHat := suite.Point().Add(C, XhatInv)
		keyPart, err := keyPointHat.Data()
		if err != nil {
			return nil, ocs.Wrap(ocs.ErrCryptoStructure, err, "key point holds no data")
		}
		key = append(key, keyPart...)
	}
	return
}

// DecodeKey recovers the symmetric key of the reply with the private key the
// reply has been re-encrypted to.
func (r *DecryptKeyReply) DecodeKey(xc kyber.Scalar) ([]byte, error) {
	return DecodeKey(ocs.Suite, r.X, r.Cs, r.XhatEnc, xc)
}

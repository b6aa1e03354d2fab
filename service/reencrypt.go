package service

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/ocs"
	"go.dedis.ch/onet/v3/log"
)

// ReencryptReply is the part of a node in a re-encryption: its share Ui of
// x(U + Xc) with a proof (Ei, Fi) that it used the share committed to in the
// public polynomial of the ledger.
type ReencryptReply struct {
	Ui *share.PubShare
	Ei kyber.Scalar
	Fi kyber.Scalar
}

// reencryptShare is computed by every node with its share of the ledger
// secret.
func reencryptShare(shared *share.PriShare, U, Xc kyber.Point) *ReencryptReply {
	suite := ocs.Suite
	uxc := suite.Point().Add(U, Xc)
	ui := &share.PubShare{
		I: shared.I,
		V: suite.Point().Mul(shared.V, uxc),
	}

	si := suite.Scalar().Pick(suite.RandomStream())
	uiHat := suite.Point().Mul(si, uxc)
	hiHat := suite.Point().Mul(si, nil)
	ei := proofChallenge(ui.V, uiHat, hiHat)
	return &ReencryptReply{
		Ui: ui,
		Ei: ei,
		Fi: suite.Scalar().Add(si, suite.Scalar().Mul(ei, shared.V)),
	}
}

// verify checks the proof of the reply against the public polynomial.
func (r *ReencryptReply) verify(poly *share.PubPoly, U, Xc kyber.Point) bool {
	if r == nil || r.Ui == nil || r.Ei == nil || r.Fi == nil {
		return false
	}
	suite := ocs.Suite
	ufi := suite.Point().Mul(r.Fi, suite.Point().Add(U, Xc))
	uiei := suite.Point().Mul(suite.Scalar().Neg(r.Ei), r.Ui.V)
	uiHat := suite.Point().Add(ufi, uiei)

	gfi := suite.Point().Mul(r.Fi, nil)
	gxi := poly.Eval(r.Ui.I).V
	hiei := suite.Point().Mul(suite.Scalar().Neg(r.Ei), gxi)
	hiHat := suite.Point().Add(gfi, hiei)
	return proofChallenge(r.Ui.V, uiHat, hiHat).Equal(r.Ei)
}

func proofChallenge(ui, uiHat, hiHat kyber.Point) kyber.Scalar {
	hash := sha256.New()
	ui.MarshalTo(hash)
	uiHat.MarshalTo(hash)
	hiHat.MarshalTo(hash)
	return ocs.Suite.Scalar().SetBytes(hash.Sum(nil))
}

// recoverReencryption verifies the replies and interpolates x(U + Xc) from
// at least threshold of them.
func recoverReencryption(poly *share.PubPoly, replies []*ReencryptReply, U, Xc kyber.Point,
	threshold, n int) (kyber.Point, error) {
	uis := make([]*share.PubShare, n)
	valid := 0
	for _, r := range replies {
		if !r.verify(poly, U, Xc) {
			log.Lvl1("Received invalid share from node", r.Ui)
			continue
		}
		if r.Ui.I < 0 || r.Ui.I >= n {
			continue
		}
		uis[r.Ui.I] = r.Ui
		valid++
	}
	if valid < threshold {
		return nil, ocs.Errorf(ocs.ErrCommunication, "only %d valid shares out of %d needed", valid, threshold)
	}
	xhatEnc, err := share.RecoverCommit(ocs.Suite, uis, threshold, n)
	if err != nil {
		return nil, ocs.Wrap(ocs.ErrCommunication, err, "recovering re-encryption")
	}
	return xhatEnc, nil
}

// threshold returns the number of shares needed for n nodes.
func threshold(n int) int {
	return n - (n-1)/3
}

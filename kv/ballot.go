package kv

import "fmt"

// BallotNumber totally orders as (Ordinal, HostId); HostId is the
// proposer-id tiebreak spec.md §3 requires. Grounded on the
// teacher's Vote/Ballot pairing in txnengine/ballot.go, adapted from a
// capnp-backed vote record to the plain ordinal/tiebreak pair this
// single-decree core needs.
type BallotNumber struct {
	Ordinal uint64
	HostId  PeerID
}

// ZeroBallot is the ballot an acceptor starts with: no proposer has promised
// anything yet, and it is dominated by every real ballot a proposer
// can form (proposer ids are assigned starting at 1).
var ZeroBallot = BallotNumber{}

func (b BallotNumber) Less(o BallotNumber) bool {
	return b.Ordinal < o.Ordinal || (b.Ordinal == o.Ordinal && b.HostId < o.HostId)
}

func (b BallotNumber) Compare(o BallotNumber) int {
	switch {
	case b.Ordinal != o.Ordinal:
		if b.Ordinal < o.Ordinal {
			return -1
		}
		return 1
	case b.HostId != o.HostId:
		if b.HostId < o.HostId {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (b BallotNumber) Equal(o BallotNumber) bool {
	return b.Ordinal == o.Ordinal && b.HostId == o.HostId
}

func (b BallotNumber) String() string {
	return fmt.Sprintf("(%d,%d)", b.Ordinal, b.HostId)
}

// Value is an opaque byte-string. Once chosen for a key it is immutable
// forever.
type Value []byte

func (v Value) Equal(o Value) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Proposal is the optional (ballot, value) pair an acceptor holds: the
// highest ballot it has accepted, and the value that went with it.
// Go idiom prefers a (Proposal, bool) pair to a boxed Option.
type Proposal struct {
	Ballot BallotNumber
	Value  Value
}

// MaxProposal returns whichever of a, b carries the larger ballot; an
// absent proposal (ok=false) is dominated by any present one. This is
// the `agreement`/`max(proposed, prop)` rule from spec.md §4.2.
func MaxProposal(a Proposal, aOk bool, b Proposal, bOk bool) (Proposal, bool) {
	switch {
	case !aOk && !bOk:
		return Proposal{}, false
	case !aOk:
		return b, true
	case !bOk:
		return a, true
	case b.Ballot.Compare(a.Ballot) > 0:
		return b, true
	default:
		return a, true
	}
}

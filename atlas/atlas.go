// Package atlas is the versioned description of replica placement and
// quorum rules spec.md's glossary calls the Atlas: "which peer set
// forms a quorum for a key at a given moment". Grounded on
// configuration/topology.go's Topology type (F/TwoFInc quorum sizing,
// generation via DBVersion/Version) from the teacher, adapted from a
// capnp-backed cluster-wide configuration object to the narrower
// (peer-set, fault-tolerance) pair this core actually consumes.
package atlas

import "github.com/maniacs-db/store/kv"

// Atlas describes, for one generation, the full peer set and how many
// of them may fail while a quorum is still reachable (F). A quorum is
// any set of more than F peers — i.e. F+1 — exactly
// Topology.FInc in the teacher.
type Atlas struct {
	Generation uint64
	Peers      []kv.PeerID
	F          int
}

func New(generation uint64, peers []kv.PeerID, f int) *Atlas {
	cp := append([]kv.PeerID(nil), peers...)
	return &Atlas{Generation: generation, Peers: cp, F: f}
}

// Quorum reports whether have, a set of peers known to have replied,
// forms a quorum under this atlas: spec.md's `atlas.quorum(have)`.
func (a *Atlas) Quorum(have map[kv.PeerID]struct{}) bool {
	if a == nil {
		return false
	}
	return len(have) > a.F
}

// Awaiting returns the peers in this atlas's set that are not yet in
// have: spec.md's `atlas.awaiting(have)`, used by the ScanDirector's
// rouse step to know who still needs to be re-sent a request.
func (a *Atlas) Awaiting(have map[kv.PeerID]struct{}) []kv.PeerID {
	if a == nil {
		return nil
	}
	awaiting := make([]kv.PeerID, 0, len(a.Peers))
	for _, p := range a.Peers {
		if _, found := have[p]; !found {
			awaiting = append(awaiting, p)
		}
	}
	return awaiting
}

// QuorumSize is F+1, the teacher's Topology.FInc.
func (a *Atlas) QuorumSize() int {
	if a == nil {
		return 0
	}
	return a.F + 1
}

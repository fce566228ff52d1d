package kv

import "testing"

func TestBallotNumberCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b BallotNumber
		want int
	}{
		{"equal", BallotNumber{Ordinal: 3, HostId: 1}, BallotNumber{Ordinal: 3, HostId: 1}, 0},
		{"lower ordinal", BallotNumber{Ordinal: 1, HostId: 9}, BallotNumber{Ordinal: 2, HostId: 1}, -1},
		{"higher ordinal", BallotNumber{Ordinal: 5, HostId: 1}, BallotNumber{Ordinal: 2, HostId: 9}, 1},
		{"tiebreak by host", BallotNumber{Ordinal: 2, HostId: 1}, BallotNumber{Ordinal: 2, HostId: 2}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if tc.a.Less(tc.b) != (tc.want < 0) {
				t.Fatalf("Less(%v, %v) = %v, want %v", tc.a, tc.b, tc.a.Less(tc.b), tc.want < 0)
			}
		})
	}
}

func TestZeroBallotIsDominated(t *testing.T) {
	real := BallotNumber{Ordinal: 1, HostId: 1}
	if !ZeroBallot.Less(real) {
		t.Fatalf("ZeroBallot should be less than any real ballot, got ZeroBallot=%v real=%v", ZeroBallot, real)
	}
}

func TestMaxProposal(t *testing.T) {
	low := Proposal{Ballot: BallotNumber{Ordinal: 1, HostId: 1}, Value: Value("low")}
	high := Proposal{Ballot: BallotNumber{Ordinal: 2, HostId: 1}, Value: Value("high")}

	cases := []struct {
		name           string
		a    Proposal
		aOk  bool
		b    Proposal
		bOk  bool
		want Proposal
		ok   bool
	}{
		{"both absent", Proposal{}, false, Proposal{}, false, Proposal{}, false},
		{"only a present", low, true, Proposal{}, false, low, true},
		{"only b present", Proposal{}, false, low, true, low, true},
		{"a dominates", high, true, low, true, high, true},
		{"b dominates", low, true, high, true, high, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MaxProposal(tc.a, tc.aOk, tc.b, tc.bOk)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && !got.Value.Equal(tc.want.Value) {
				t.Fatalf("value = %q, want %q", got.Value, tc.want.Value)
			}
		})
	}
}

func TestValueEqual(t *testing.T) {
	if !Value("abc").Equal(Value("abc")) {
		t.Fatal("identical values should be equal")
	}
	if Value("abc").Equal(Value("ab")) {
		t.Fatal("different-length values should not be equal")
	}
	if Value("abc").Equal(Value("abd")) {
		t.Fatal("differing values should not be equal")
	}
}

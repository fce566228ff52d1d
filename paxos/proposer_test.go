package paxos

import (
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store/atlas"
	"github.com/maniacs-db/store/configuration"
	"github.com/maniacs-db/store/fiber"
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

func newTestProposerManager(t *testing.T, a *atlas.Atlas, tuning configuration.Tuning) (*ProposerManager, *fiber.Dispatcher, *fakeCluster) {
	t.Helper()
	fibers := fiber.NewDispatcher(1, log.NewNopLogger())
	cluster := &fakeCluster{}
	pm := newProposerManager(1, fibers.Executors[0], cluster, func(kv.Key) *atlas.Atlas { return a }, tuning, nil, log.NewNopLogger(), 1)
	return pm, fibers, cluster
}

// TestProposerZeroBallotSkipsQueryRound exercises spec.md's "implicit
// acceptance of ballot zero": Open with the zero ballot proposes
// directly instead of running a query round first.
func TestProposerZeroBallotSkipsQueryRound(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk1"))

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(kv.ZeroBallot, kv.Value("v1"), a)
	})

	propose := cluster.waitForKind(t, wire.KindPropose, time.Second)
	if !propose.msg.Value.Equal(kv.Value("v1")) {
		t.Fatalf("propose carried %q, want v1", propose.msg.Value)
	}
	if propose.msg.Ballot.Ordinal != 0 {
		t.Fatalf("propose used ballot %v, want zero", propose.msg.Ballot)
	}
}

// TestProposerZeroBallotQuorumAcceptClosesAndLearns drives a full
// zero-ballot decree to completion and checks the registered learner
// observes the agreed value.
func TestProposerZeroBallotQuorumAcceptClosesAndLearns(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1) // F=1, quorum needs 2 of 3
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk2"))

	learned := make(chan kv.Value, 1)
	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Learn(func(value kv.Value, err error) {
			if err == nil {
				learned <- value
			}
		})
		p.Open(kv.ZeroBallot, kv.Value("v1"), a)
	})
	cluster.waitForKind(t, wire.KindPropose, time.Second)

	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Accept(2, kv.ZeroBallot)
		p.Accept(3, kv.ZeroBallot)
	})

	choose := cluster.waitForKind(t, wire.KindChoose, time.Second)
	if !choose.msg.Value.Equal(kv.Value("v1")) {
		t.Fatalf("choose carried %q, want v1", choose.msg.Value)
	}

	select {
	case v := <-learned:
		if !v.Equal(kv.Value("v1")) {
			t.Fatalf("learner observed %q, want v1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("learner was never notified of the closed decree")
	}
}

// TestProposerPromiseQuorumSendsProposeWithOwnValue covers the
// non-zero-ballot path: query round first, then propose once a quorum
// of promises with no prior proposal has been gathered.
func TestProposerPromiseQuorumSendsProposeWithOwnValue(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk3"))
	ballot := kv.BallotNumber{Ordinal: 1, HostId: 1}

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(ballot, kv.Value("mine"), a)
	})
	cluster.waitForKind(t, wire.KindQuery, time.Second)

	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Promise(2, ballot, kv.Proposal{}, false)
		p.Promise(3, ballot, kv.Proposal{}, false)
	})

	propose := cluster.waitForKind(t, wire.KindPropose, time.Second)
	if !propose.msg.Value.Equal(kv.Value("mine")) {
		t.Fatalf("propose carried %q, want mine", propose.msg.Value)
	}
}

// TestProposerPromiseAdoptsExistingProposal checks the Paxos safety
// requirement: if a promise reports an already-accepted proposal, the
// proposer must adopt that value instead of its own preferred one.
func TestProposerPromiseAdoptsExistingProposal(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk4"))
	ballot := kv.BallotNumber{Ordinal: 5, HostId: 1}
	priorAccept := kv.Proposal{Ballot: kv.BallotNumber{Ordinal: 2, HostId: 2}, Value: kv.Value("already-accepted")}

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(ballot, kv.Value("mine"), a)
	})
	cluster.waitForKind(t, wire.KindQuery, time.Second)

	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Promise(2, ballot, priorAccept, true)
		p.Promise(3, ballot, kv.Proposal{}, false)
	})

	propose := cluster.waitForKind(t, wire.KindPropose, time.Second)
	if !propose.msg.Value.Equal(kv.Value("already-accepted")) {
		t.Fatalf("propose carried %q, want the adopted already-accepted value", propose.msg.Value)
	}
}

// TestProposerRetriesWithHigherBallotAfterRefusal exercises the
// capped randomized backoff retry loop: a refusal bumps the tracked
// ballot floor and the proposer re-queries at a strictly higher
// ordinal once its backoff fires.
func TestProposerRetriesWithHigherBallotAfterRefusal(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	tuning := configuration.DefaultTuning()
	tuning.ProposingBackoff = configuration.Backoff{Min: 50 * time.Millisecond, Rand: 50 * time.Millisecond, Max: 150 * time.Millisecond, Retries: 3}
	pm, fibers, cluster := newTestProposerManager(t, a, tuning)
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk5"))
	ballot := kv.BallotNumber{Ordinal: 1, HostId: 1}

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(ballot, kv.Value("mine"), a)
	})
	first := cluster.waitForKind(t, wire.KindQuery, time.Second)

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Refuse(2, kv.BallotNumber{Ordinal: 5, HostId: 2})
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		cluster.mu.Lock()
		count := 0
		var last sentMessage
		for _, s := range cluster.sent {
			if s.msg.Kind == wire.KindQuery {
				count++
				last = s
			}
		}
		cluster.mu.Unlock()
		if count >= 2 {
			if last.msg.Ballot.Ordinal <= first.msg.Ballot.Ordinal {
				t.Fatalf("retry ballot %v did not exceed the initial ballot %v", last.msg.Ballot, first.msg.Ballot)
			}
			if last.msg.Ballot.Ordinal <= 5 {
				t.Fatalf("retry ballot ordinal %d did not clear the refusal floor of 5", last.msg.Ballot.Ordinal)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("proposer never retried after refusal")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestProposerClosedPhaseGossipsChooseToLateArrivals checks that once
// a decree is closed, a straggling acceptor's late message at the
// winning ballot gets an immediate one-shot choose reply rather than
// waiting on its own timeout to rediscover the outcome.
func TestProposerClosedPhaseGossipsChooseToLateArrivals(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk6"))

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(kv.ZeroBallot, kv.Value("v1"), a)
	})
	cluster.waitForKind(t, wire.KindPropose, time.Second)
	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Accept(2, kv.ZeroBallot)
		p.Accept(3, kv.ZeroBallot)
	})
	cluster.waitForKind(t, wire.KindChoose, time.Second)

	// peer 99 is outside the atlas and never received the broadcast
	// choose; its late promise at the winning ballot should get a
	// targeted choose reply.
	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Promise(99, kv.ZeroBallot, kv.Proposal{}, false)
	})

	deadline := time.Now().Add(time.Second)
	for {
		cluster.mu.Lock()
		var found bool
		for _, s := range cluster.sent {
			if s.to.Peer == 99 && s.msg.Kind == wire.KindChoose {
				found = true
				break
			}
		}
		cluster.mu.Unlock()
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("closed proposer never gossiped choose to the late arrival")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestProposerClosedPhaseLearnIsImmediate checks Learn registered
// after the decree has already closed fires right away instead of
// waiting for a future state transition that will never come.
func TestProposerClosedPhaseLearnIsImmediate(t *testing.T) {
	a := atlas.New(1, []kv.PeerID{1, 2, 3}, 1)
	pm, fibers, cluster := newTestProposerManager(t, a, configuration.DefaultTuning())
	defer fibers.Shutdown()
	key := kv.NewKey([]byte("pk7"))

	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Open(kv.ZeroBallot, kv.Value("v1"), a)
	})
	cluster.waitForKind(t, wire.KindPropose, time.Second)
	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, 1)
		p.Accept(2, kv.ZeroBallot)
		p.Accept(3, kv.ZeroBallot)
	})
	cluster.waitForKind(t, wire.KindChoose, time.Second)

	learned := make(chan kv.Value, 1)
	pm.executor.Enqueue(func() {
		pm.proposerFor(key, 1).Learn(func(value kv.Value, err error) {
			if err == nil {
				learned <- value
			}
		})
	})

	select {
	case v := <-learned:
		if !v.Equal(kv.Value("v1")) {
			t.Fatalf("late learner observed %q, want v1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("learner registered after close was never notified")
	}
}

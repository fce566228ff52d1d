package paxos

import (
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store"
	"github.com/maniacs-db/store/atlas"
	"github.com/maniacs-db/store/configuration"
	"github.com/maniacs-db/store/fiber"
	"github.com/maniacs-db/store/kv"
)

// proposerBackoff wraps store.RetryBackoff with the Proposer's
// configured schedule; kept as its own tiny type so openProposerPhase
// doesn't reach into configuration directly.
type proposerBackoff struct {
	*store.RetryBackoff
}

func newProposerBackoff(pm *ProposerManager) *proposerBackoff {
	b := pm.tuning.ProposingBackoff
	return &proposerBackoff{store.NewRetryBackoff(pm.rng, b.Min, b.Max, b.Retries)}
}

func (pb *proposerBackoff) fire(fun func()) bool { return pb.Fire(fun) }

// ProposerManager owns one fiber.Executor's worth of Proposers. Like
// AcceptorManager, its registry is only ever touched from its own
// executor's goroutine. Grounded on paxos/proposermanager.go's
// ProposerManager (Topology/ConnectionManager/VarDispatcher
// collaborators in the teacher), narrowed to this core's
// Cluster/Atlas/configuration collaborators.
type ProposerManager struct {
	self     kv.PeerID
	executor *fiber.Executor
	cluster  Cluster
	tuning   configuration.Tuning
	metrics  *Metrics
	logger   log.Logger
	rng      *rand.Rand

	atlasFor func(key kv.Key) *atlas.Atlas

	proposers map[kv.KeyTime]*Proposer
}

func newProposerManager(self kv.PeerID, exe *fiber.Executor, cluster Cluster, atlasFor func(kv.Key) *atlas.Atlas, tuning configuration.Tuning, metrics *Metrics, logger log.Logger, seed int64) *ProposerManager {
	return &ProposerManager{
		self: self, executor: exe, cluster: cluster, tuning: tuning, metrics: metrics, logger: logger,
		rng: rand.New(rand.NewSource(seed)), atlasFor: atlasFor,
		proposers: make(map[kv.KeyTime]*Proposer),
	}
}

func (pm *ProposerManager) proposerFor(key kv.Key, t uint64) *Proposer {
	kt := key.At(t)
	p, found := pm.proposers[kt]
	if !found {
		p = newProposer(key, t, pm)
		pm.proposers[kt] = p
		if pm.metrics != nil {
			pm.metrics.ProposersLive.Inc()
		}
	}
	return p
}

func (pm *ProposerManager) evict(key kv.Key, t uint64) {
	kt := key.At(t)
	if _, found := pm.proposers[kt]; !found {
		return
	}
	delete(pm.proposers, kt)
	if pm.metrics != nil {
		pm.metrics.ProposersLive.Dec()
	}
}

// OpenSelfDecree opens a Proposer for key at the reserved self-propose
// time on behalf of an Acceptor's deliberatingTimeout, with an initial
// ballot of zero so it proposes def directly without a promise round
// (spec.md §4.2's "implicit acceptance of ballot zero").
func (pm *ProposerManager) OpenSelfDecree(key kv.Key, def kv.Value, learned func(kv.Value)) {
	pm.executor.Enqueue(func() {
		p := pm.proposerFor(key, selfProposeTime)
		p.Learn(func(value kv.Value, err error) {
			if err == nil {
				learned(value)
			}
		})
		p.Open(kv.ZeroBallot, def, pm.atlasFor(key))
	})
}

// ProposerDispatcher shards Proposers across a fixed pool of fibers by
// key, mirroring AcceptorDispatcher: every decree of one key, whatever
// its time, lands on the same fiber, whose ProposerManager registers it
// by (key, time).
type ProposerDispatcher struct {
	fibers   *fiber.Dispatcher
	managers []*ProposerManager
}

func NewProposerDispatcher(count uint8, self kv.PeerID, cluster Cluster, atlasFor func(kv.Key) *atlas.Atlas, tuning configuration.Tuning, metrics *Metrics, logger log.Logger) *ProposerDispatcher {
	fibers := fiber.NewDispatcher(count, logger)
	pd := &ProposerDispatcher{fibers: fibers, managers: make([]*ProposerManager, len(fibers.Executors))}
	for idx, exe := range fibers.Executors {
		pd.managers[idx] = newProposerManager(self, exe, cluster, atlasFor, tuning, metrics, logger, time.Now().UnixNano()+int64(idx))
	}
	return pd
}

func (pd *ProposerDispatcher) route(key kv.Key, t uint64) (*fiber.Executor, *ProposerManager) {
	idx := 0
	if n := len(key.Bytes); n > 0 && len(pd.managers) > 0 {
		idx = int(key.Bytes[n-1]) % len(pd.managers)
	}
	return pd.fibers.Executors[idx], pd.managers[idx]
}

// Open begins a new decree for (key, time).
func (pd *ProposerDispatcher) Open(key kv.Key, t uint64, ballot kv.BallotNumber, value kv.Value) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() { pm.proposerFor(key, t).Open(ballot, value, pm.atlasFor(key)) })
}

func (pd *ProposerDispatcher) Learn(key kv.Key, t uint64, l learner) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() { pm.proposerFor(key, t).Learn(l) })
}

func (pd *ProposerDispatcher) Refuse(key kv.Key, t uint64, from kv.PeerID, ballotOrdinal uint64) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() {
		pm.proposerFor(key, t).Refuse(from, kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from})
	})
}

func (pd *ProposerDispatcher) Promise(key kv.Key, t uint64, from kv.PeerID, ballotOrdinal uint64, prop kv.Proposal, hasProp bool) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() {
		pm.proposerFor(key, t).Promise(from, kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from}, prop, hasProp)
	})
}

func (pd *ProposerDispatcher) Accept(key kv.Key, t uint64, from kv.PeerID, ballotOrdinal uint64) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() {
		pm.proposerFor(key, t).Accept(from, kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from})
	})
}

func (pd *ProposerDispatcher) Chosen(key kv.Key, t uint64, value kv.Value) {
	exe, pm := pd.route(key, t)
	exe.Enqueue(func() { pm.proposerFor(key, t).Chosen(value) })
}

func (pd *ProposerDispatcher) Shutdown() { pd.fibers.Shutdown() }

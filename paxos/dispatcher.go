package paxos

import (
	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store/configuration"
	"github.com/maniacs-db/store/fiber"
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/storage"
	"github.com/maniacs-db/store/wire"
)

// RecordLog is the write-ahead log contract an Acceptor needs: append
// one record before replying, replay a key's run of records while
// restoring. storage.Log satisfies this; tests substitute an
// in-memory fake so Acceptor's state-machine logic can be exercised
// without an LMDB environment.
type RecordLog interface {
	Append(key kv.Key, seq uint64, record wire.Record, done func(error))
	Replay(key kv.Key, replayed func([]wire.Record, error))
}

// Archive is the terminal chosen-value store an Acceptor consults
// while restoring and writes to on choose. storage.Archive satisfies
// this.
type Archive interface {
	Lookup(key kv.Key, found func(kv.Value, bool, error))
	Store(key kv.Key, value kv.Value, done func(error))
}

// AcceptorManager owns one fiber.Executor's worth of Acceptors: the
// get-or-create registry, plus every shared handle an Acceptor needs
// (disk, cluster, tuning, metrics). Because every key this manager
// serves hashes to the same executor, the registry map below is never
// touched from more than one goroutine — no lock needed, the same
// invariant the teacher's acceptormanagers[idx] relies on.
type AcceptorManager struct {
	self     kv.PeerID
	executor *fiber.Executor
	cluster  Cluster
	log      RecordLog
	archive  Archive
	tuning   configuration.Tuning
	metrics  *Metrics
	logger   log.Logger

	proposers *ProposerDispatcher

	acceptors map[string]*Acceptor
}

func newAcceptorManager(self kv.PeerID, exe *fiber.Executor, cluster Cluster, lg RecordLog, ar Archive, tuning configuration.Tuning, metrics *Metrics, logger log.Logger) *AcceptorManager {
	return &AcceptorManager{
		self: self, executor: exe, cluster: cluster, log: lg, archive: ar,
		tuning: tuning, metrics: metrics, logger: logger,
		acceptors: make(map[string]*Acceptor),
	}
}

func (am *AcceptorManager) acceptorFor(key kv.Key) *Acceptor {
	k := string(key.Bytes)
	a, found := am.acceptors[k]
	if !found {
		a = newAcceptor(key, am)
		am.acceptors[k] = a
		if am.metrics != nil {
			am.metrics.AcceptorsLive.Inc()
		}
	}
	return a
}

func (am *AcceptorManager) evict(key kv.Key) {
	k := string(key.Bytes)
	if _, found := am.acceptors[k]; !found {
		return
	}
	delete(am.acceptors, k)
	if am.metrics != nil {
		am.metrics.AcceptorsLive.Dec()
	}
}

// selfPropose implements the Acceptor's deliberatingTimeout rule: the
// acceptor instigates its own decree for its default value, addressed
// to whatever quorum the atlas names for this key, and choose()s
// itself once that decree resolves.
func (am *AcceptorManager) selfPropose(a *Acceptor) {
	key, def := a.key, a.defaultValue
	am.proposers.OpenSelfDecree(key, def, func(value kv.Value) {
		am.executor.Enqueue(func() {
			target, found := am.acceptors[string(key.Bytes)]
			if !found || target != a {
				return
			}
			a.Choose(am.self, selfProposeTime, value)
		})
	})
}

// selfProposeTime is the reserved proposer-time value an Acceptor's own
// deliberatingTimeout decree uses; it never collides with a real
// client time because it is not derived from the transaction clock.
const selfProposeTime uint64 = ^uint64(0)

// AcceptorDispatcher shards Acceptors across a fixed pool of fibers by
// key, per spec.md §5: each key always lands on the same goroutine, so
// its Acceptor is touched by exactly one goroutine at a time, while
// distinct keys proceed fully in parallel. Grounded on
// paxos/acceptordispatcher.go's AcceptorDispatcher/withAcceptorManager.
type AcceptorDispatcher struct {
	fibers   *fiber.Dispatcher
	managers []*AcceptorManager
}

// NewAcceptorDispatcher builds one AcceptorManager per fiber of its own
// pool, pairing manager idx with proposers' ProposerManager at the same
// idx. Both dispatchers route a key by its last byte modulo their pool
// size, so with equal counts that ProposerManager is the one serving
// the key. A deliberatingTimeout's selfPropose still crosses executors:
// OpenSelfDecree runs on the ProposerManager's executor, and the
// learned value is enqueued back onto this manager's executor.
func NewAcceptorDispatcher(count uint8, self kv.PeerID, cluster Cluster, db *storage.Databases, proposers *ProposerDispatcher, tuning configuration.Tuning, metrics *Metrics, logger log.Logger) *AcceptorDispatcher {
	fibers := fiber.NewDispatcher(count, logger)
	l := storage.NewLog(db)
	ar := storage.NewArchive(db)
	ad := &AcceptorDispatcher{fibers: fibers, managers: make([]*AcceptorManager, len(fibers.Executors))}
	for idx, exe := range fibers.Executors {
		am := newAcceptorManager(self, exe, cluster, l, ar, tuning, metrics, logger)
		if idx < len(proposers.managers) {
			am.proposers = proposers.managers[idx]
		}
		ad.managers[idx] = am
	}
	return ad
}

func (ad *AcceptorDispatcher) route(key kv.Key) (*fiber.Executor, *AcceptorManager) {
	idx := 0
	if n := len(key.Bytes); n > 0 && len(ad.managers) > 0 {
		idx = int(key.Bytes[n-1]) % len(ad.managers)
	}
	return ad.fibers.Executors[idx], ad.managers[idx]
}

func (ad *AcceptorDispatcher) Query(key kv.Key, time uint64, from kv.PeerID, ballotOrdinal uint64, def kv.Value) {
	exe, am := ad.route(key)
	exe.Enqueue(func() { am.acceptorFor(key).Query(from, time, ballotOrdinal, def) })
}

func (ad *AcceptorDispatcher) Propose(key kv.Key, time uint64, from kv.PeerID, ballotOrdinal uint64, value kv.Value) {
	exe, am := ad.route(key)
	exe.Enqueue(func() { am.acceptorFor(key).Propose(from, time, ballotOrdinal, value) })
}

func (ad *AcceptorDispatcher) Choose(key kv.Key, time uint64, from kv.PeerID, value kv.Value) {
	exe, am := ad.route(key)
	exe.Enqueue(func() { am.acceptorFor(key).Choose(from, time, value) })
}

func (ad *AcceptorDispatcher) Shutdown() { ad.fibers.Shutdown() }

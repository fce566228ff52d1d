package paxos

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store"
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

// proposerRef names the (peer, time) pair a promise/accept/chosen reply
// is routed back to — an Acceptor serves many decrees for one key over
// its lifetime (one per proposer time), but holds only one ballot/
// proposal pair, per spec.md §3's Key/Proposal rows.
type proposerRef struct {
	From kv.PeerID
	Time uint64
}

// post is one durable record an Acceptor wants written before it may
// reply. Only one post may be outstanding at a time; submitPost
// coalesces a newer post over an older queued one, per spec.md §4.1's
// "Log serialization" rule and §9's "Log coalescing" note.
type post struct {
	record wire.Record
	reply  func()
}

// Acceptor is the durable Paxos acceptor for one key (spec.md §4.1). It
// is always touched from exactly one fiber.Executor goroutine — the
// one its key hashes to — so every field below is unsynchronized.
type Acceptor struct {
	key     kv.Key
	manager *AcceptorManager
	phase   acceptorPhase

	birthday time.Time

	defaultValue kv.Value
	ballot       kv.BallotNumber
	hasProposal  bool
	proposal     kv.Proposal
	proposers    map[proposerRef]struct{}

	outstandingLog bool
	queuedPost     *post
	nextSeq        uint64
	archiveGen     uint64

	deliberatingTimer *time.Timer
	closedTimer       *time.Timer

	chosen kv.Value
}

func newAcceptor(key kv.Key, am *AcceptorManager) *Acceptor {
	a := &Acceptor{
		key:       key,
		manager:   am,
		birthday:  time.Now(),
		proposers: make(map[proposerRef]struct{}),
	}
	a.phase = &openingAcceptorPhase{a: a}
	return a
}

func (a *Acceptor) Log(keyvals ...interface{}) error {
	return log.With(a.manager.logger, "key", a.key).Log(keyvals...)
}

// Query is Phase-1 from a proposer: spec.md §4.1's query(proposer,
// ballot, default).
func (a *Acceptor) Query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value) {
	a.phase.query(from, time, ballotOrdinal, def)
}

// Propose is Phase-2 from a proposer: propose(proposer, ballot, value).
func (a *Acceptor) Propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value) {
	a.phase.propose(from, time, ballotOrdinal, value)
}

// Choose notifies the acceptor that a value has been decided.
func (a *Acceptor) Choose(from kv.PeerID, time uint64, value kv.Value) {
	a.phase.choose(from, time, value)
}

// Checkpoint snapshots the acceptor's active state for migration or
// recovery tooling: spec.md §6's ActiveStatus tagged union.
func (a *Acceptor) Checkpoint() (ActiveStatus, bool) {
	return a.phase.checkpoint()
}

func (a *Acceptor) Shutdown() {
	a.phase.shutdown()
}

// ActiveStatus is spec.md §6's checkpoint union: Restoring,
// Deliberating or Closed.
type ActiveStatus struct {
	Key         kv.Key
	Restoring   bool
	Deliberating bool
	Closed      bool
	Default     kv.Value
	Ballot      kv.BallotNumber
	HasProposal bool
	Proposal    kv.Proposal
	Chosen      kv.Value
}

// acceptorPhase is the dispatch-table interface every Acceptor state
// implements — spec.md §9's "tagged variants with a dispatch table".
type acceptorPhase interface {
	query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value)
	propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value)
	choose(from kv.PeerID, time uint64, value kv.Value)
	checkpoint() (ActiveStatus, bool)
	shutdown()
}

func (a *Acceptor) sendRefuse(to kv.PeerID, time uint64) {
	a.manager.cluster.Send(PeerAddress{Peer: to, ToKind: ToProposer}, wire.Message{
		Kind: wire.KindRefuse, Key: a.key, Time: time, From: a.manager.self, Ballot: a.ballot,
	})
}

func (a *Acceptor) sendPromise(to kv.PeerID, time uint64, ballot kv.BallotNumber, prop kv.Proposal, hasProp bool) {
	a.manager.cluster.Send(PeerAddress{Peer: to, ToKind: ToProposer}, wire.Message{
		Kind: wire.KindPromise, Key: a.key, Time: time, From: a.manager.self, Ballot: ballot,
		HasProposal: hasProp, Proposal: prop,
	})
}

func (a *Acceptor) sendAccept(to kv.PeerID, time uint64, ballot kv.BallotNumber) {
	a.manager.cluster.Send(PeerAddress{Peer: to, ToKind: ToProposer}, wire.Message{
		Kind: wire.KindAccept, Key: a.key, Time: time, From: a.manager.self, Ballot: ballot,
	})
}

func (a *Acceptor) sendChosenTo(to kv.PeerID, time uint64, value kv.Value) {
	a.manager.cluster.Send(PeerAddress{Peer: to, ToKind: ToProposer}, wire.Message{
		Kind: wire.KindChosen, Key: a.key, Time: time, From: a.manager.self, Value: value,
	})
}

// submitPost enforces the at-most-one-outstanding, at-most-one-queued
// discipline: a newer post replaces whatever was queued, and the
// replaced post's reply is never called — its caller will retry.
func (a *Acceptor) submitPost(p post) {
	if a.outstandingLog {
		a.queuedPost = &p
		return
	}
	a.outstandingLog = true
	a.writeLog(p)
}

func (a *Acceptor) writeLog(p post) {
	seq := a.nextSeq
	a.nextSeq++
	a.manager.log.Append(a.key, seq, p.record, func(err error) {
		a.manager.executor.Enqueue(func() {
			if err != nil {
				a.toPanicked(err)
				return
			}
			p.reply()
			a.outstandingLog = false
			if a.queuedPost != nil {
				next := *a.queuedPost
				a.queuedPost = nil
				a.submitPost(next)
			}
		})
	})
}

func (a *Acceptor) toPanicked(err error) {
	store.CheckWarn(fmt.Errorf("acceptor for key %v panicked: %w", a.key, err), a)
	a.phase = &panickedAcceptorPhase{}
	if a.deliberatingTimer != nil {
		a.deliberatingTimer.Stop()
	}
}

func (a *Acceptor) armDeliberatingTimeout(timeout time.Duration) {
	a.deliberatingTimer = time.AfterFunc(timeout, func() {
		a.manager.executor.Enqueue(func() {
			if _, ok := a.phase.(*deliberatingAcceptorPhase); !ok {
				return
			}
			a.manager.selfPropose(a)
		})
	})
}

func (a *Acceptor) armClosedEviction(lifetime time.Duration) {
	a.closedTimer = time.AfterFunc(lifetime, func() {
		a.manager.executor.Enqueue(func() { a.manager.evict(a.key) })
	})
}

func (a *Acceptor) nextArchiveGeneration() uint64 {
	a.archiveGen++
	return a.archiveGen
}

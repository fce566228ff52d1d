package paxos

import (
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store"
	"github.com/maniacs-db/store/atlas"
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

// learner is one registered consumer of a Proposer's eventual outcome:
// spec.md §4.2's learn(learner).
type learner func(value kv.Value, err error)

// Proposer drives one decree for (key, time) to completion — spec.md
// §4.2. Like Acceptor, every Proposer is touched from exactly one
// fiber.Executor goroutine.
type Proposer struct {
	key     kv.Key
	time    uint64
	manager *ProposerManager
	phase   proposerPhase

	atlas *atlas.Atlas

	learners []learner
	birthday time.Time
	timer    *time.Timer
}

func newProposer(key kv.Key, t uint64, pm *ProposerManager) *Proposer {
	p := &Proposer{key: key, time: t, manager: pm, birthday: time.Now()}
	p.phase = &openingProposerPhase{p: p}
	return p
}

func (p *Proposer) Log(keyvals ...interface{}) error {
	return log.With(p.manager.logger, "key", p.key, "time", p.time).Log(keyvals...)
}

// Open begins the decree with an initial ballot and preferred value.
func (p *Proposer) Open(ballot kv.BallotNumber, value kv.Value, a *atlas.Atlas) {
	p.atlas = a
	p.phase.open(ballot, value)
}

// Learn registers l to be notified of the decree's outcome, or
// immediately if it has already resolved.
func (p *Proposer) Learn(l learner) {
	p.phase.learn(l)
}

func (p *Proposer) Refuse(from kv.PeerID, ballot kv.BallotNumber)                 { p.phase.refuse(from, ballot) }
func (p *Proposer) Promise(from kv.PeerID, ballot kv.BallotNumber, prop kv.Proposal, hasProp bool) {
	p.phase.promise(from, ballot, prop, hasProp)
}
func (p *Proposer) Accept(from kv.PeerID, ballot kv.BallotNumber) { p.phase.accept(from, ballot) }
func (p *Proposer) Chosen(value kv.Value)                        { p.phase.chosen(value) }
func (p *Proposer) Shutdown()                                    { p.phase.shutdown() }

type proposerPhase interface {
	open(ballot kv.BallotNumber, value kv.Value)
	learn(l learner)
	refuse(from kv.PeerID, ballot kv.BallotNumber)
	promise(from kv.PeerID, ballot kv.BallotNumber, prop kv.Proposal, hasProp bool)
	accept(from kv.PeerID, ballot kv.BallotNumber)
	chosen(value kv.Value)
	shutdown()
}

func (p *Proposer) peers() []kv.PeerID {
	if p.atlas == nil {
		return nil
	}
	return p.atlas.Peers
}

func (p *Proposer) sendToAll(kind wire.MessageKind, ballot kv.BallotNumber, def, value kv.Value) {
	for _, peer := range p.peers() {
		p.manager.cluster.Send(PeerAddress{Peer: peer, ToKind: ToAcceptor}, wire.Message{
			Kind: kind, Key: p.key, Time: p.time, From: p.manager.self, Ballot: ballot, Default: def, Value: value,
		})
	}
}

func (p *Proposer) sendQuery(ballot kv.BallotNumber, def kv.Value) {
	p.sendToAll(wire.KindQuery, ballot, def, nil)
}

func (p *Proposer) sendPropose(ballot kv.BallotNumber, value kv.Value) {
	p.sendToAll(wire.KindPropose, ballot, nil, value)
}

func (p *Proposer) sendChoose(value kv.Value) {
	p.sendToAll(wire.KindChoose, kv.ZeroBallot, nil, value)
}

func (p *Proposer) sendChooseTo(to kv.PeerID, value kv.Value) {
	p.manager.cluster.Send(PeerAddress{Peer: to, ToKind: ToAcceptor}, wire.Message{
		Kind: wire.KindChoose, Key: p.key, Time: p.time, From: p.manager.self, Value: value,
	})
}

func (p *Proposer) deliverToLearners(value kv.Value, err error) {
	for _, l := range p.learners {
		l(value, err)
	}
	p.learners = nil
}

func (p *Proposer) becomeClosed(ballot kv.BallotNumber, value kv.Value) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.manager.metrics != nil {
		p.manager.metrics.DecreeLatency.Observe(time.Since(p.birthday).Seconds())
	}
	c := &closedProposerPhase{p: p, ballot: ballot, value: value}
	p.phase = c
	p.deliverToLearners(value, nil)
	p.armEviction()
}

func (p *Proposer) armEviction() {
	p.timer = time.AfterFunc(p.manager.tuning.ClosedLifetime, func() {
		p.manager.executor.Enqueue(func() { p.manager.evict(p.key, p.time) })
	})
}

func (p *Proposer) fail(err error) {
	store.CheckWarn(err, p)
	p.phase = &shutdownProposerPhase{}
	p.deliverToLearners(nil, err)
	p.manager.executor.Enqueue(func() { p.manager.evict(p.key, p.time) })
}

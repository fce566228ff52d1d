package paxos

import (
	"fmt"

	"github.com/maniacs-db/store/kv"
)

// openingProposerPhase is the zero state: open() starts the decree, a
// stray chosen() (learned indirectly, e.g. via a replayed gossip message
// before this decree was ever locally opened) closes it, and learn()
// registers a learner for the eventual outcome; other inputs are
// ignored.
type openingProposerPhase struct{ p *Proposer }

func (o *openingProposerPhase) open(ballot kv.BallotNumber, value kv.Value) {
	op := &openProposerPhase{p: o.p}
	o.p.phase = op
	op.start(ballot, value)
}

func (o *openingProposerPhase) learn(l learner)                       { o.p.learners = append(o.p.learners, l) }
func (o *openingProposerPhase) refuse(kv.PeerID, kv.BallotNumber)      {}
func (o *openingProposerPhase) promise(kv.PeerID, kv.BallotNumber, kv.Proposal, bool) {}
func (o *openingProposerPhase) accept(kv.PeerID, kv.BallotNumber)      {}
func (o *openingProposerPhase) chosen(value kv.Value)                 { o.p.becomeClosed(kv.ZeroBallot, value) }
func (o *openingProposerPhase) shutdown()                             { o.p.phase = &shutdownProposerPhase{} }

// openProposerPhase drives one ballot at a time through query/promise,
// propose/accept, retrying on a capped randomized exponential backoff
// per spec.md §4.2.
type openProposerPhase struct {
	p *Proposer

	ballot kv.BallotNumber
	value  kv.Value
	refused kv.BallotNumber

	promised map[kv.PeerID]struct{}
	accepted map[kv.PeerID]struct{}

	proposed     kv.Proposal
	hasProposed  bool
	proposedSent bool

	backoff *proposerBackoff
}

func (o *openProposerPhase) start(ballot kv.BallotNumber, value kv.Value) {
	p := o.p
	o.ballot = ballot
	o.value = value
	o.refused = ballot
	o.resetTrackers()
	o.backoff = newProposerBackoff(p.manager)
	o.sendInitial()
	if !o.arm() {
		p.fail(fmt.Errorf("store: proposer for key %v time %d exhausted its retry budget before starting", p.key, p.time))
	}
}

func (o *openProposerPhase) resetTrackers() {
	o.promised = make(map[kv.PeerID]struct{})
	o.accepted = make(map[kv.PeerID]struct{})
	o.hasProposed = false
	o.proposedSent = false
}

func (o *openProposerPhase) sendInitial() {
	p := o.p
	if o.ballot.Ordinal == 0 {
		o.hasProposed = true
		o.proposedSent = true
		o.proposed = kv.Proposal{Ballot: o.ballot, Value: o.value}
		p.sendPropose(o.ballot, o.value)
	} else {
		p.sendQuery(o.ballot, o.value)
	}
}

func (o *openProposerPhase) arm() bool {
	p := o.p
	return o.backoff.fire(func() {
		p.manager.executor.Enqueue(func() {
			if p.phase != o {
				return
			}
			o.retry()
		})
	})
}

func (o *openProposerPhase) retry() {
	p := o.p
	jitter := 1 + p.manager.rng.Intn(17)
	next := kv.BallotNumber{Ordinal: o.refused.Ordinal + uint64(jitter), HostId: p.manager.self}
	o.refused = next
	o.ballot = next
	o.resetTrackers()
	p.sendQuery(o.ballot, o.value)
	if !o.arm() {
		p.fail(fmt.Errorf("store: proposer for key %v time %d exhausted its retry budget", p.key, p.time))
	}
}

func (o *openProposerPhase) open(kv.BallotNumber, kv.Value) {}

func (o *openProposerPhase) learn(l learner) { o.p.learners = append(o.p.learners, l) }

func (o *openProposerPhase) refuse(from kv.PeerID, b kv.BallotNumber) {
	if b.Compare(o.refused) > 0 {
		o.refused = b
	}
	o.resetTrackers()
}

func (o *openProposerPhase) promise(from kv.PeerID, b kv.BallotNumber, prop kv.Proposal, hasProp bool) {
	if !b.Equal(o.ballot) || o.proposedSent {
		return
	}
	o.promised[from] = struct{}{}
	o.proposed, o.hasProposed = kv.MaxProposal(o.proposed, o.hasProposed, prop, hasProp)
	if o.p.atlas.Quorum(o.promised) {
		value := o.value
		if o.hasProposed {
			value = o.proposed.Value
		}
		o.proposedSent = true
		o.p.sendPropose(o.ballot, value)
	}
}

func (o *openProposerPhase) accept(from kv.PeerID, b kv.BallotNumber) {
	if !b.Equal(o.ballot) {
		return
	}
	o.accepted[from] = struct{}{}
	if o.p.atlas.Quorum(o.accepted) {
		agreed := o.value
		if o.hasProposed {
			agreed = o.proposed.Value
		}
		o.p.sendChoose(agreed)
		o.p.becomeClosed(o.ballot, agreed)
	}
}

func (o *openProposerPhase) chosen(value kv.Value) {
	o.p.becomeClosed(o.ballot, value)
}

func (o *openProposerPhase) shutdown() {
	o.p.phase = &shutdownProposerPhase{}
}

// closedProposerPhase: the decree is done. Late messages at the
// winning ballot trigger a one-shot choose back to the sender so a
// straggling acceptor converges without waiting for its own timeout.
type closedProposerPhase struct {
	p      *Proposer
	ballot kv.BallotNumber
	value  kv.Value
}

func (c *closedProposerPhase) open(kv.BallotNumber, kv.Value) {}
func (c *closedProposerPhase) learn(l learner)                { l(c.value, nil) }

func (c *closedProposerPhase) refuse(from kv.PeerID, b kv.BallotNumber) {
	if b.Equal(c.ballot) {
		c.p.sendChooseTo(from, c.value)
	}
}

func (c *closedProposerPhase) promise(from kv.PeerID, b kv.BallotNumber, _ kv.Proposal, _ bool) {
	if b.Equal(c.ballot) {
		c.p.sendChooseTo(from, c.value)
	}
}

func (c *closedProposerPhase) accept(from kv.PeerID, b kv.BallotNumber) {
	if b.Equal(c.ballot) {
		c.p.sendChooseTo(from, c.value)
	}
}

func (c *closedProposerPhase) chosen(value kv.Value) {
	if !value.Equal(c.value) {
		panic(fmt.Sprintf("store: safety violation: proposer for key %v learned both %q and %q", c.p.key, c.value, value))
	}
}

func (c *closedProposerPhase) shutdown() { c.p.phase = &shutdownProposerPhase{} }

type shutdownProposerPhase struct{}

func (shutdownProposerPhase) open(kv.BallotNumber, kv.Value)                     {}
func (shutdownProposerPhase) learn(learner)                                     {}
func (shutdownProposerPhase) refuse(kv.PeerID, kv.BallotNumber)                  {}
func (shutdownProposerPhase) promise(kv.PeerID, kv.BallotNumber, kv.Proposal, bool) {}
func (shutdownProposerPhase) accept(kv.PeerID, kv.BallotNumber)                  {}
func (shutdownProposerPhase) chosen(kv.Value)                                   {}
func (shutdownProposerPhase) shutdown()                                         {}

package paxos

import (
	"fmt"

	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

// openingAcceptorPhase is the zero state: on first input it moves to
// Restoring, replays the same input into it, and kicks off the
// archive/log lookup.
type openingAcceptorPhase struct{ a *Acceptor }

func (p *openingAcceptorPhase) enterRestoring(def kv.Value) *restoringAcceptorPhase {
	a := p.a
	r := &restoringAcceptorPhase{a: a}
	a.defaultValue = def
	a.phase = r
	a.manager.archive.Lookup(a.key, func(value kv.Value, found bool, err error) {
		a.manager.executor.Enqueue(func() {
			if _, ok := a.phase.(*restoringAcceptorPhase); !ok {
				return
			}
			r.onArchiveResult(value, found, err)
		})
	})
	return r
}

func (p *openingAcceptorPhase) query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value) {
	p.enterRestoring(def).query(from, time, ballotOrdinal, def)
}

func (p *openingAcceptorPhase) propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value) {
	p.enterRestoring(nil).propose(from, time, ballotOrdinal, value)
}

func (p *openingAcceptorPhase) choose(from kv.PeerID, time uint64, value kv.Value) {
	p.enterRestoring(nil).choose(from, time, value)
}

func (p *openingAcceptorPhase) checkpoint() (ActiveStatus, bool) { return ActiveStatus{}, false }
func (p *openingAcceptorPhase) shutdown()                        { p.a.phase = &shutdownAcceptorPhase{} }

// restoringAcceptorPhase is in flight while the archive lookup (and,
// per this expansion, a log replay to recover any in-flight ballot/
// proposal — spec.md's scenario 3 requires an acceptor that crashed
// mid-Deliberating to recover its ballot, which the archive alone
// cannot supply) runs. New inputs update an in-memory ballot/proposal
// and buffer exactly one pending post, per spec.md §4.1 and the open
// question in §9.
type restoringAcceptorPhase struct {
	a *Acceptor

	ballot      kv.BallotNumber
	hasProposal bool
	proposal    kv.Proposal
	proposers   map[proposerRef]struct{}

	pending func(defliberating *deliberatingAcceptorPhase)

	archiveDone   bool
	archiveValue  kv.Value
	archiveFound  bool
	logDone       bool
	anyLogRecords bool
}

func (r *restoringAcceptorPhase) ensureInit() {
	if r.proposers == nil {
		r.proposers = make(map[proposerRef]struct{})
	}
}

func (r *restoringAcceptorPhase) query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value) {
	r.ensureInit()
	B := kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from}
	if B.Compare(r.ballot) >= 0 {
		r.ballot = B
	}
	r.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	r.pending = func(d *deliberatingAcceptorPhase) { d.query(from, time, ballotOrdinal, def) }
}

func (r *restoringAcceptorPhase) propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value) {
	r.ensureInit()
	B := kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from}
	if B.Compare(r.ballot) >= 0 {
		r.ballot = B
		r.hasProposal = true
		r.proposal = kv.Proposal{Ballot: B, Value: value}
	}
	r.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	r.pending = func(d *deliberatingAcceptorPhase) { d.propose(from, time, ballotOrdinal, value) }
}

func (r *restoringAcceptorPhase) choose(from kv.PeerID, time uint64, value kv.Value) {
	r.ensureInit()
	r.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	r.pending = func(d *deliberatingAcceptorPhase) { d.choose(from, time, value) }
}

func (r *restoringAcceptorPhase) checkpoint() (ActiveStatus, bool) {
	return ActiveStatus{Key: r.a.key, Restoring: true, Default: r.a.defaultValue}, true
}

func (r *restoringAcceptorPhase) shutdown() { r.a.phase = &shutdownAcceptorPhase{} }

// onLogReplay folds a replayed record run into the in-memory ballot/
// proposal recovered so far, preferring whatever the live input stream
// already observed if it is newer.
func (r *restoringAcceptorPhase) onLogReplay(records []wire.Record, err error) {
	a := r.a
	if err != nil {
		a.phase = &panickedAcceptorPhase{}
		return
	}
	r.anyLogRecords = len(records) > 0
	for _, rec := range records {
		switch rec.Kind {
		case wire.RecordOpen:
			if a.defaultValue == nil {
				a.defaultValue = rec.Default
			}
		case wire.RecordPromise:
			if rec.Ballot.Compare(r.ballot) > 0 {
				r.ballot = rec.Ballot
			}
		case wire.RecordAccept, wire.RecordReaccept:
			if rec.Ballot.Compare(r.ballot) >= 0 {
				r.ballot = rec.Ballot
				if rec.Kind == wire.RecordAccept {
					r.hasProposal = true
					r.proposal = kv.Proposal{Ballot: rec.Ballot, Value: rec.Value}
				} else if r.hasProposal {
					r.proposal.Ballot = rec.Ballot
				}
			}
		}
	}
	r.logDone = true
	r.maybeFinish()
}

func (r *restoringAcceptorPhase) onArchiveResult(value kv.Value, found bool, err error) {
	a := r.a
	if err != nil {
		a.phase = &panickedAcceptorPhase{}
		return
	}
	r.archiveDone = true
	r.archiveValue = value
	r.archiveFound = found
	if found {
		r.finishClosed(value)
		return
	}
	a.manager.log.Replay(a.key, r.onLogReplay)
}

func (r *restoringAcceptorPhase) maybeFinish() {
	if !r.archiveDone || !r.logDone {
		return
	}
	if r.archiveFound {
		r.finishClosed(r.archiveValue)
		return
	}
	r.finishDeliberating()
}

func (r *restoringAcceptorPhase) finishClosed(value kv.Value) {
	a := r.a
	for ref := range r.proposers {
		a.sendChosenTo(ref.From, ref.Time, value)
	}
	a.becomeClosed(value)
}

func (r *restoringAcceptorPhase) finishDeliberating() {
	a := r.a
	d := &deliberatingAcceptorPhase{a: a}
	a.ballot = r.ballot
	a.hasProposal = r.hasProposal
	a.proposal = r.proposal
	a.proposers = r.proposers
	if a.proposers == nil {
		a.proposers = make(map[proposerRef]struct{})
	}
	a.phase = d
	d.start()
	if !r.anyLogRecords {
		// First time this key has ever reached Deliberating: persist the
		// open record so a restart that replays the log before seeing
		// another query recovers the default from wire.RecordOpen instead
		// of depending on live input supplying it again (propose/choose
		// arriving first, per openingAcceptorPhase, never carry one).
		a.submitPost(post{
			record: wire.Record{Kind: wire.RecordOpen, Key: a.key, Default: a.defaultValue},
			reply:  func() {},
		})
	}
	if r.pending != nil {
		r.pending(d)
	}
}

// deliberatingAcceptorPhase is the acceptor's working state: spec.md
// §4.1's Promise rule, Accept rule and self-initiated timeout.
type deliberatingAcceptorPhase struct{ a *Acceptor }

func (d *deliberatingAcceptorPhase) start() {
	d.a.armDeliberatingTimeout(d.a.manager.tuning.DeliberatingTimeout)
}

func (d *deliberatingAcceptorPhase) query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value) {
	a := d.a
	B := kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from}
	if B.Compare(a.ballot) < 0 {
		a.sendRefuse(from, time)
		return
	}
	a.ballot = B
	a.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	prop, hasProp := a.proposal, a.hasProposal
	a.submitPost(post{
		record: wire.Record{Kind: wire.RecordPromise, Key: a.key, Ballot: B},
		reply:  func() { a.sendPromise(from, time, B, prop, hasProp) },
	})
}

func (d *deliberatingAcceptorPhase) propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value) {
	a := d.a
	B := kv.BallotNumber{Ordinal: ballotOrdinal, HostId: from}
	if B.Compare(a.ballot) < 0 {
		a.sendRefuse(from, time)
		return
	}
	kind := wire.RecordAccept
	if a.hasProposal && a.proposal.Value.Equal(value) {
		kind = wire.RecordReaccept
	}
	a.ballot = B
	a.hasProposal = true
	a.proposal = kv.Proposal{Ballot: B, Value: value}
	a.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	a.submitPost(post{
		record: wire.Record{Kind: kind, Key: a.key, Ballot: B, Value: value},
		reply:  func() { a.sendAccept(from, time, B) },
	})
}

func (d *deliberatingAcceptorPhase) choose(from kv.PeerID, time uint64, value kv.Value) {
	a := d.a
	a.proposers[proposerRef{From: from, Time: time}] = struct{}{}
	a.manager.archive.Store(a.key, value, func(err error) {
		a.manager.executor.Enqueue(func() {
			if _, ok := a.phase.(*deliberatingAcceptorPhase); !ok {
				return
			}
			if err != nil {
				a.toPanicked(err)
				return
			}
			a.submitPost(post{
				record: wire.Record{Kind: wire.RecordClose, Key: a.key, Chosen: value, ArchiveGeneration: a.nextArchiveGeneration()},
				reply: func() {
					for ref := range a.proposers {
						a.sendChosenTo(ref.From, ref.Time, value)
					}
					a.becomeClosed(value)
				},
			})
		})
	})
}

func (d *deliberatingAcceptorPhase) checkpoint() (ActiveStatus, bool) {
	a := d.a
	return ActiveStatus{
		Key: a.key, Deliberating: true, Default: a.defaultValue,
		Ballot: a.ballot, HasProposal: a.hasProposal, Proposal: a.proposal,
	}, true
}

func (d *deliberatingAcceptorPhase) shutdown() {
	if d.a.deliberatingTimer != nil {
		d.a.deliberatingTimer.Stop()
	}
	d.a.phase = &shutdownAcceptorPhase{}
}

// becomeClosed finalizes a key's decree. Once here the value is
// immutable forever: any later choose must agree, or the process has
// observed a safety violation.
func (a *Acceptor) becomeClosed(value kv.Value) {
	if a.deliberatingTimer != nil {
		a.deliberatingTimer.Stop()
	}
	a.chosen = value
	a.phase = &closedAcceptorPhase{a: a}
	a.armClosedEviction(a.manager.tuning.ClosedLifetime)
}

// closedAcceptorPhase: query/propose reply chosen immediately; a
// disagreeing choose is a fatal invariant violation.
type closedAcceptorPhase struct{ a *Acceptor }

func (c *closedAcceptorPhase) query(from kv.PeerID, time uint64, ballotOrdinal uint64, def kv.Value) {
	c.a.sendChosenTo(from, time, c.a.chosen)
}

func (c *closedAcceptorPhase) propose(from kv.PeerID, time uint64, ballotOrdinal uint64, value kv.Value) {
	c.a.sendChosenTo(from, time, c.a.chosen)
}

func (c *closedAcceptorPhase) choose(from kv.PeerID, time uint64, value kv.Value) {
	a := c.a
	if !value.Equal(a.chosen) {
		panic(fmt.Sprintf("store: safety violation: key %v chosen both %q and %q", a.key, a.chosen, value))
	}
	a.sendChosenTo(from, time, a.chosen)
}

func (c *closedAcceptorPhase) checkpoint() (ActiveStatus, bool) {
	return ActiveStatus{Key: c.a.key, Closed: true, Chosen: c.a.chosen}, true
}

func (c *closedAcceptorPhase) shutdown() {
	if c.a.closedTimer != nil {
		c.a.closedTimer.Stop()
	}
	c.a.phase = &shutdownAcceptorPhase{}
}

// shutdownAcceptorPhase and panickedAcceptorPhase: every input is a
// no-op from here on.
type shutdownAcceptorPhase struct{}

func (shutdownAcceptorPhase) query(kv.PeerID, uint64, uint64, kv.Value)   {}
func (shutdownAcceptorPhase) propose(kv.PeerID, uint64, uint64, kv.Value) {}
func (shutdownAcceptorPhase) choose(kv.PeerID, uint64, kv.Value)          {}
func (shutdownAcceptorPhase) checkpoint() (ActiveStatus, bool)            { return ActiveStatus{}, false }
func (shutdownAcceptorPhase) shutdown()                                  {}

type panickedAcceptorPhase struct{}

func (panickedAcceptorPhase) query(kv.PeerID, uint64, uint64, kv.Value)   {}
func (panickedAcceptorPhase) propose(kv.PeerID, uint64, uint64, kv.Value) {}
func (panickedAcceptorPhase) choose(kv.PeerID, uint64, kv.Value)          {}
func (panickedAcceptorPhase) checkpoint() (ActiveStatus, bool)            { return ActiveStatus{}, false }
func (panickedAcceptorPhase) shutdown()                                  {}

package paxos

import "github.com/maniacs-db/store/wire"

// Demux is the receiving half of the Cluster contract: a Cluster
// implementation decodes bytes off the wire into a wire.Message and
// hands it here, which routes it to the right dispatcher and method by
// Kind. Grounded on the teacher's per-message receive methods on
// AcceptorDispatcher (OneATxnVotesReceived, TwoATxnVotesReceived, ...),
// collapsed to one table since this core's message set is uniform.
type Demux struct {
	Acceptors *AcceptorDispatcher
	Proposers *ProposerDispatcher
}

func (d *Demux) Deliver(msg wire.Message) {
	switch msg.Kind {
	case wire.KindQuery:
		d.Acceptors.Query(msg.Key, msg.Time, msg.From, msg.Ballot.Ordinal, msg.Default)
	case wire.KindPropose:
		d.Acceptors.Propose(msg.Key, msg.Time, msg.From, msg.Ballot.Ordinal, msg.Value)
	case wire.KindChoose:
		d.Acceptors.Choose(msg.Key, msg.Time, msg.From, msg.Value)
	case wire.KindRefuse:
		d.Proposers.Refuse(msg.Key, msg.Time, msg.From, msg.Ballot.Ordinal)
	case wire.KindPromise:
		d.Proposers.Promise(msg.Key, msg.Time, msg.From, msg.Ballot.Ordinal, msg.Proposal, msg.HasProposal)
	case wire.KindAccept:
		d.Proposers.Accept(msg.Key, msg.Time, msg.From, msg.Ballot.Ordinal)
	case wire.KindChosen:
		d.Proposers.Chosen(msg.Key, msg.Time, msg.Value)
	}
}

package paxos

import (
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

// Cluster is the transport external collaborator named in spec.md §1:
// peer identity, message send and port multiplexing belong to it, not
// to the Acceptor or Proposer state machines. Grounded on the
// teacher's ConnectionManager interface (paxos/acceptor.go's
// ConnectionManager/ServerConnectionSubscriber), narrowed from its
// capnp-segment-sending surface to the plain wire.Message values this
// core already frames.
type Cluster interface {
	// Send delivers msg to the named peer. Delivery is best-effort;
	// loss is tolerated by Proposer retries per spec.md §7.
	Send(to PeerAddress, msg wire.Message)
}

// PeerAddress names where a wire.Message is headed: the receiving
// peer and whether it is that peer's Acceptor or Proposer registry
// that should handle it.
type PeerAddress struct {
	Peer   kv.PeerID
	ToKind Destination
}

type Destination uint8

const (
	ToAcceptor Destination = iota
	ToProposer
)

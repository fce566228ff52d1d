// Package wire frames the Paxos wire messages and durable log records
// named in spec.md §6. The teacher (goshawkdb.io/server) frames every
// message as a Cap'n Proto segment generated by a schema compiler this
// harness does not have; see DESIGN.md for why this package instead
// hand-frames with encoding/binary, the same primitive the teacher
// itself reaches for directly to lay out fixed-shape keys
// (paxos.instanceIdPrefix, common.TxnId).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/maniacs-db/store/kv"
)

// MessageKind is the stable id spec.md §6 requires for wire framing.
type MessageKind uint8

const (
	KindQuery MessageKind = iota + 1
	KindPropose
	KindChoose
	KindRefuse
	KindPromise
	KindAccept
	KindChosen
)

func (k MessageKind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindPropose:
		return "propose"
	case KindChoose:
		return "choose"
	case KindRefuse:
		return "refuse"
	case KindPromise:
		return "promise"
	case KindAccept:
		return "accept"
	case KindChosen:
		return "chosen"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Message is the union of every wire message in spec.md §6. Only the
// fields relevant to Kind are populated. The Paxos state machines hand
// Message values to the Cluster contract (it takes Go values, not
// bytes — see paxos/cluster.go); transport.Transport uses Encode and
// DecodeMessage to carry them across a TCP socket.
type Message struct {
	Kind MessageKind
	Key  kv.Key
	Time uint64

	From   kv.PeerID // the sending acceptor/proposer's id, for replies
	Ballot kv.BallotNumber

	Default kv.Value // query's default value
	Value   kv.Value // propose/choose/chosen's value

	HasProposal bool
	Proposal    kv.Proposal // promise's optional accepted proposal
}

func (m Message) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	writeBytes(&buf, m.Key.Bytes)
	writeUint64(&buf, m.Time)
	writeUint32(&buf, uint32(m.From))
	writeUint64(&buf, m.Ballot.Ordinal)
	writeUint32(&buf, uint32(m.Ballot.HostId))
	writeBytes(&buf, m.Default)
	writeBytes(&buf, m.Value)
	if m.HasProposal {
		buf.WriteByte(1)
		writeUint64(&buf, m.Proposal.Ballot.Ordinal)
		writeUint32(&buf, uint32(m.Proposal.Ballot.HostId))
		writeBytes(&buf, m.Proposal.Value)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func DecodeMessage(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("wire: decode message: %w", err)
	}
	m := Message{Kind: MessageKind(kindByte)}
	if m.Key.Bytes, err = readBytes(r); err != nil {
		return Message{}, err
	}
	if m.Time, err = readUint64(r); err != nil {
		return Message{}, err
	}
	from, err := readUint32(r)
	if err != nil {
		return Message{}, err
	}
	m.From = kv.PeerID(from)
	if m.Ballot.Ordinal, err = readUint64(r); err != nil {
		return Message{}, err
	}
	hostId, err := readUint32(r)
	if err != nil {
		return Message{}, err
	}
	m.Ballot.HostId = kv.PeerID(hostId)
	if m.Default, err = readBytes(r); err != nil {
		return Message{}, err
	}
	if m.Value, err = readBytes(r); err != nil {
		return Message{}, err
	}
	hasProposal, err := r.ReadByte()
	if err != nil {
		return Message{}, err
	}
	if hasProposal == 1 {
		m.HasProposal = true
		if m.Proposal.Ballot.Ordinal, err = readUint64(r); err != nil {
			return Message{}, err
		}
		ph, err := readUint32(r)
		if err != nil {
			return Message{}, err
		}
		m.Proposal.Ballot.HostId = kv.PeerID(ph)
		if m.Proposal.Value, err = readBytes(r); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("wire: short read: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("wire: short read: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, fmt.Errorf("wire: short read: %w", err)
	}
	return b, nil
}

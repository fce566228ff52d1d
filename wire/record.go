package wire

import (
	"bytes"
	"fmt"

	"github.com/maniacs-db/store/kv"
)

// RecordKind is the stable 32-bit id spec.md §6 requires for durable
// log records. Kept as a distinct type from MessageKind (and a wider
// int) because the two id spaces are independent per spec.md and the
// teacher tags on-disk records and wire messages with separate id
// tables.
type RecordKind uint32

const (
	RecordOpen RecordKind = iota + 1
	RecordPromise
	RecordAccept
	RecordReaccept
	RecordClose
)

func (k RecordKind) String() string {
	switch k {
	case RecordOpen:
		return "open"
	case RecordPromise:
		return "promise"
	case RecordAccept:
		return "accept"
	case RecordReaccept:
		return "reaccept"
	case RecordClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Record is the union of the five durable record kinds from spec.md
// §6: open(key,default), promise(key,ballot), accept(key,ballot,value),
// reaccept(key,ballot), close(key,chosen,archive-generation).
type Record struct {
	Kind    RecordKind
	Key     kv.Key
	Default kv.Value
	Ballot  kv.BallotNumber
	Value   kv.Value
	Chosen  kv.Value
	ArchiveGeneration uint64
}

func (r Record) Encode() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(r.Kind))
	writeBytes(&buf, r.Key.Bytes)
	writeUint64(&buf, r.Ballot.Ordinal)
	writeUint32(&buf, uint32(r.Ballot.HostId))
	writeBytes(&buf, r.Default)
	writeBytes(&buf, r.Value)
	writeBytes(&buf, r.Chosen)
	writeUint64(&buf, r.ArchiveGeneration)
	return buf.Bytes()
}

func DecodeRecord(data []byte) (Record, error) {
	r := bytes.NewReader(data)
	kind, err := readUint32(r)
	if err != nil {
		return Record{}, fmt.Errorf("wire: decode record: %w", err)
	}
	rec := Record{Kind: RecordKind(kind)}
	if rec.Key.Bytes, err = readBytes(r); err != nil {
		return Record{}, err
	}
	if rec.Ballot.Ordinal, err = readUint64(r); err != nil {
		return Record{}, err
	}
	hostId, err := readUint32(r)
	if err != nil {
		return Record{}, err
	}
	rec.Ballot.HostId = kv.PeerID(hostId)
	if rec.Default, err = readBytes(r); err != nil {
		return Record{}, err
	}
	if rec.Value, err = readBytes(r); err != nil {
		return Record{}, err
	}
	if rec.Chosen, err = readBytes(r); err != nil {
		return Record{}, err
	}
	if rec.ArchiveGeneration, err = readUint64(r); err != nil {
		return Record{}, err
	}
	return rec, nil
}

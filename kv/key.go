// Package kv holds the data model shared by the Paxos core and the scan
// coordinator: keys, ballots, proposals, values and cells.
package kv

import (
	"bytes"
	"fmt"
)

// PeerID identifies a replica (acceptor, proposer host, scan deputy)
// within the cluster. It stands in for the teacher's common.RMId.
type PeerID uint32

// Key is an opaque byte-string identity. Two keys are equal iff their
// bytes are equal.
type Key struct {
	Bytes []byte
}

func NewKey(b []byte) Key {
	return Key{Bytes: append([]byte(nil), b...)}
}

func (k Key) Equal(o Key) bool {
	return bytes.Equal(k.Bytes, o.Bytes)
}

func (k Key) Compare(o Key) int {
	return bytes.Compare(k.Bytes, o.Bytes)
}

func (k Key) String() string {
	return fmt.Sprintf("%x", k.Bytes)
}

// KeyTime is the little helper used everywhere a (Key, Time) pair
// needs to key a map: a comparable, hashable value.
type KeyTime struct {
	Key  string
	Time uint64
}

func (k Key) At(t uint64) KeyTime {
	return KeyTime{Key: string(k.Bytes), Time: t}
}

package storage

import (
	"encoding/binary"

	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"

	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/wire"
)

// Log is the Acceptor's write-ahead record log: every Promise, Accept,
// Reaccept and Close for a key is appended here, keyed by keyBytes ++
// big-endian sequence number, before the Acceptor ever replies.
// Restoring replays a key's run of records in order to recover its
// ballot and outstanding proposal after a crash — spec.md §4.1's
// Restoring state, concretized beyond "archive lookup is in flight" to
// include log replay, since a key that crashed mid-Deliberating has no
// chosen value in the archive yet and must recover its ballot from
// here instead. Grounded on paxos/acceptor.go's append-then-reply
// pattern (`db.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn)
// interface{} {...}); future.ResultError()`) and its cursor-based
// recovery scan in acceptordispatcher.go (`cursor.Get(nil, nil,
// mdb.FIRST)` / `mdb.NEXT` until mdb.NotFound).
type Log struct {
	db *Databases
}

func NewLog(db *Databases) *Log { return &Log{db: db} }

func logKey(key kv.Key, seq uint64) []byte {
	out := make([]byte, len(key.Bytes)+8)
	n := copy(out, key.Bytes)
	binary.BigEndian.PutUint64(out[n:], seq)
	return out
}

// Append durably stores record as the seq'th record for key and calls
// back with the outcome once the disk server has committed it. The
// callback runs on a goroutine started for the purpose, never the
// caller's fiber, matching the teacher's future.ResultError() handoff.
func (l *Log) Append(key kv.Key, seq uint64, record wire.Record, done func(error)) {
	future := l.db.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		err := rwtxn.Put(l.db.Tables.Log, logKey(key, seq), record.Encode(), 0)
		return err
	})
	go func() {
		res, err := future.ResultError()
		if err == nil {
			if putErr, ok := res.(error); ok {
				err = putErr
			}
		}
		if done != nil {
			done(err)
		}
	}()
}

// Replay loads every record appended for key, in sequence order,
// blocking the calling goroutine until the disk server's read
// completes, and then invokes replayed on that same goroutine with the
// result. Used once per key, on first touch, before an Acceptor
// leaves Restoring.
func (l *Log) Replay(key kv.Key, replayed func([]wire.Record, error)) {
	future := l.db.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		records, err := rtxn.WithCursor(l.db.Tables.Log, func(cursor *mdbs.Cursor) interface{} {
			prefix := key.Bytes
			var out []wire.Record
			k, v, err := cursor.Get(prefix, nil, mdb.SET_RANGE)
			for err == nil && hasPrefix(k, prefix) {
				rec, decErr := wire.DecodeRecord(v)
				if decErr != nil {
					return decErr
				}
				out = append(out, rec)
				k, v, err = cursor.Get(nil, nil, mdb.NEXT)
			}
			if err != nil && err != mdb.NotFound {
				return err
			}
			return out
		})
		if recErr, ok := records.(error); ok {
			return recErr
		}
		return records
	})
	res, err := future.ResultError()
	if err != nil {
		replayed(nil, err)
		return
	}
	if recErr, ok := res.(error); ok {
		replayed(nil, recErr)
		return
	}
	records, _ := res.([]wire.Record)
	replayed(records, nil)
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

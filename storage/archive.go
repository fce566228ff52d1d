package storage

import (
	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"

	"github.com/maniacs-db/store/kv"
)

// Archive is the terminal key-value store: once a key's decree
// closes, its chosen value lands here and the Log entries for that key
// become garbage. Grounded on the same db.Databases pattern as Log,
// kept as a distinct DBI so compaction of one never touches the other.
type Archive struct {
	db *Databases
}

func NewArchive(db *Databases) *Archive { return &Archive{db: db} }

// Lookup reports the chosen value for key, if any, calling back on a
// goroutine started for the purpose once the disk server's read
// completes, never on the caller's.
func (a *Archive) Lookup(key kv.Key, found func(kv.Value, bool, error)) {
	future := a.db.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		val, err := rtxn.Get(a.db.Tables.Archive, key.Bytes)
		if err == mdb.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		cp := append([]byte(nil), val...)
		return cp
	})
	go func() {
		res, err := future.ResultError()
		if err != nil {
			found(nil, false, err)
			return
		}
		if resErr, ok := res.(error); ok {
			found(nil, false, resErr)
			return
		}
		if res == nil {
			found(nil, false, nil)
			return
		}
		found(res.([]byte), true, nil)
	}()
}

// Store durably records value as key's chosen value.
func (a *Archive) Store(key kv.Key, value kv.Value, done func(error)) {
	future := a.db.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		return rwtxn.Put(a.db.Tables.Archive, key.Bytes, value, 0)
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

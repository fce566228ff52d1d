// Package storage is the durable backing for one node's key-value
// store: the Acceptor's write-ahead log and the terminal archive of
// chosen values (spec.md's "on-disk record log engine" and "archive",
// both named external collaborators in spec.md §1 that this expansion
// gives a concrete, in-process implementation). Grounded on the
// teacher's db.Databases/mdbs.DBISettings usage in paxos/acceptor.go,
// paxos/acceptordispatcher.go and cmd/goshawkdb/main.go's
// `mdbs.NewMDBServer(dataDir, 0, mode, initialMmapSize, commitInterval,
// db.DB, logger)` call — a single LMDB environment, opened once,
// shared by every dispatcher.
package storage

import (
	"os"
	"time"

	"github.com/go-kit/kit/log"
	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"

	"github.com/maniacs-db/store"
)

// Tables is the dbiStruct the teacher's mdbs.NewMDBServer walks to open
// one named DBI per field, mirroring `db.DB.Proposers =
// &mdbs.DBISettings{Flags: mdb.CREATE}` in paxos/proposermanager.go.
type Tables struct {
	Log     *mdbs.DBISettings
	Archive *mdbs.DBISettings
}

// Databases embeds the running MDB server so ReadWriteTransaction,
// ReadonlyTransaction and friends are promoted straight through, the
// same embedding the teacher's db.Databases uses.
type Databases struct {
	*mdbs.MDBServer
	Tables
}

func Open(dataDir string, logger log.Logger) (*Databases, error) {
	tables := Tables{
		Log:     &mdbs.DBISettings{Flags: mdb.CREATE},
		Archive: &mdbs.DBISettings{Flags: mdb.CREATE},
	}
	disk, err := mdbs.NewMDBServer(dataDir, 0, os.FileMode(0600), store.MDBInitialSize, 500*time.Microsecond, &tables, logger)
	if err != nil {
		return nil, err
	}
	return &Databases{MDBServer: disk, Tables: tables}, nil
}

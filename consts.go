package store

import (
	"time"
)

const (
	ServerVersion = "dev"
	MDBInitialSize = 1048576

	// Backoff parameters per spec.md §9: proposingBackoff and
	// confirmingBackoff are identical.
	ProposingBackoffMin     = 200 * time.Millisecond
	ProposingBackoffRand    = 300 * time.Millisecond
	ProposingBackoffMax     = time.Minute
	ProposingBackoffRetries = 7

	DefaultDeliberatingTimeout = 10 * time.Second
	DefaultClosedLifetime      = 2 * time.Second
	DefaultScanBatchBackoff    = 500 * time.Millisecond

	MostRandomKeyByteIndex = 7 // not referenced: the dispatchers shard a Key by its last byte.

	HttpProfilePort = 6060
)

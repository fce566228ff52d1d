package atlas

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/maniacs-db/store"
)

// Transmogrifier applies incoming Atlas generations one at a time,
// gating out stale or malformed ones before anything downstream (an
// Acceptor's QuorumSet, a ScanDirector's peer list) ever sees them.
// Grounded on topologytransmogrifier.go's setActiveTopology: ignore a
// goal with a version less than the active one, silently ignore a
// no-op republish, and reject a generation regression with an error,
// leaving the active atlas in place.
type Transmogrifier struct {
	logger log.Logger
	active *Atlas
}

func NewTransmogrifier(logger log.Logger) *Transmogrifier {
	return &Transmogrifier{logger: logger}
}

// Active returns the currently installed atlas, or nil before the
// first one arrives.
func (t *Transmogrifier) Active() *Atlas {
	return t.active
}

// Install attempts to make a the active atlas. It returns an error for
// a nil atlas and for a genuine regression (a strictly lower generation
// arriving after a higher one was already active) — spec.md treats this as the
// atlas's responsibility, not the Paxos core's, but the core must not
// silently accept it either.
func (t *Transmogrifier) Install(a *Atlas) error {
	if a == nil {
		return fmt.Errorf("atlas: refusing to install a nil atlas")
	}
	if t.active != nil && a.Generation < t.active.Generation {
		return fmt.Errorf("atlas: refusing regression from generation %d to %d", t.active.Generation, a.Generation)
	}
	if t.active != nil && a.Generation == t.active.Generation {
		store.DebugLog(t.logger, "debug", "Atlas republish ignored.", "generation", a.Generation)
		return nil
	}
	store.DebugLog(t.logger, "debug", "Atlas generation changed.", "generation", a.Generation)
	t.active = a
	return nil
}

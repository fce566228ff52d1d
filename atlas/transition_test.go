package atlas

import (
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store/kv"
)

func TestTransmogrifierInstallSequence(t *testing.T) {
	tm := NewTransmogrifier(log.NewNopLogger())

	if tm.Active() != nil {
		t.Fatal("a fresh Transmogrifier should have no active atlas")
	}

	gen1 := New(1, []kv.PeerID{1, 2, 3}, 1)
	if err := tm.Install(gen1); err != nil {
		t.Fatalf("installing the first generation should succeed: %v", err)
	}
	if tm.Active() != gen1 {
		t.Fatal("Active should return the just-installed atlas")
	}

	gen2 := New(2, []kv.PeerID{1, 2, 3, 4}, 1)
	if err := tm.Install(gen2); err != nil {
		t.Fatalf("installing a newer generation should succeed: %v", err)
	}
	if tm.Active() != gen2 {
		t.Fatal("Active should now return generation 2")
	}

	// Republishing the same generation is a silent no-op, not an error.
	republish := New(2, []kv.PeerID{1, 2, 3, 4}, 1)
	if err := tm.Install(republish); err != nil {
		t.Fatalf("republishing the active generation should not error: %v", err)
	}
	if tm.Active() != gen2 {
		t.Fatal("a same-generation republish must not replace the active atlas object")
	}

	// A regression to an older generation must be rejected.
	regression := New(1, []kv.PeerID{1, 2, 3}, 1)
	if err := tm.Install(regression); err == nil {
		t.Fatal("installing a lower generation after a higher one was active should fail")
	}
	if tm.Active() != gen2 {
		t.Fatal("a rejected regression must not replace the active atlas")
	}
}

func TestTransmogrifierRejectsNil(t *testing.T) {
	tm := NewTransmogrifier(log.NewNopLogger())
	if err := tm.Install(nil); err == nil {
		t.Fatal("installing a nil atlas should fail")
	}
}

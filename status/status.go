// Package status collects a human-readable status tree from live
// Acceptors, Proposers and scan Directors for an operator-facing debug
// surface. Grounded on the call shape observed at every Status(sc
// *status.StatusConsumer) site kept in the copied tree
// (paxos/acceptor.go, paxos/proposermanager.go, txnengine/var.go):
// Emit a line, Fork a child consumer for each nested component, Join
// when that nested walk is done. The teacher's own status package
// source was not part of this retrieval, so this is reconstructed from
// its call sites rather than adapted from its body.
package status

import "sync"

// Consumer accumulates indented status lines. All Status() walks in
// this codebase are synchronous and depth-first, so Join here is a
// bookkeeping marker rather than a concurrency join; it exists so a
// future concurrent Status implementation (e.g. fanning out across the
// fiber.Dispatcher's executors) can add real waiting without changing
// any call site.
type Consumer struct {
	prefix string
	lines  *[]string
	mu     *sync.Mutex
}

func New() *Consumer {
	lines := make([]string, 0, 16)
	return &Consumer{lines: &lines, mu: new(sync.Mutex)}
}

func (c *Consumer) Emit(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.lines = append(*c.lines, c.prefix+s)
}

// Fork returns a child consumer, indented one level deeper, sharing
// this consumer's line buffer.
func (c *Consumer) Fork() *Consumer {
	return &Consumer{prefix: c.prefix + "  ", lines: c.lines, mu: c.mu}
}

// Join marks a forked subsection as finished contributing.
func (c *Consumer) Join() {}

// Lines returns the accumulated report in emission order.
func (c *Consumer) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), *c.lines...)
}

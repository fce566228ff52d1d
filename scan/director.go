package scan

import (
	"container/heap"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store"
	"github.com/maniacs-db/store/atlas"
	"github.com/maniacs-db/store/configuration"
	"github.com/maniacs-db/store/fiber"
	"github.com/maniacs-db/store/kv"
)

// Params describes one page request to a scan deputy: a starting key
// and the snapshot time the scan reads at. Reissuing to a continuation
// key substitutes Key and keeps Time — spec.md §6's "params carries
// (key, time, window, ...) and is copyable with substituted (key,
// time) for continuation".
type Params struct {
	Key  kv.Key
	Time uint64
}

// Body is the caller's consumer: it is handed one batch of cells at a
// time and must call ack once it has finished with them (possibly
// asynchronously) before the Director will hand it another.
type Body func(cells []kv.Cell, ack func(error))

// Cluster is the scan transport external collaborator: sending a page
// request to a deputy. A real implementation multiplexes replies over
// an ephemeral port (spec.md §6) and calls Director.Receive as they
// arrive; that multiplexing is transport-layer and out of this
// package's scope.
type Cluster interface {
	Send(to kv.PeerID, params Params)
}

// Director runs one scan to completion: spec.md §4.3. Like the Paxos
// entities, it is always driven from exactly one fiber.Executor
// goroutine.
type Director struct {
	logger   log.Logger
	params   Params
	atlas    *atlas.Atlas
	cluster  Cluster
	executor *fiber.Executor
	tuning   configuration.Backoff
	body     Body
	complete func(error)

	queue elementHeap
	have  map[kv.PeerID]struct{}
	done  map[kv.PeerID]struct{}
	last  kv.Cell
	ready bool

	closed  bool
	backoff *store.RetryBackoff
	armedAt kv.Cell
}

// New builds a Director for params against atlasSnapshot, ready to
// Start. tuning is spec.md's scanBatchBackoff.
func New(logger log.Logger, params Params, atlasSnapshot *atlas.Atlas, cluster Cluster, exe *fiber.Executor, tuning configuration.Backoff, body Body, complete func(error)) *Director {
	return &Director{
		logger: logger, params: params, atlas: atlasSnapshot, cluster: cluster, executor: exe,
		tuning: tuning, body: body, complete: complete,
		have: make(map[kv.PeerID]struct{}), done: make(map[kv.PeerID]struct{}),
		last:  kv.Cell{Key: params.Key.Bytes, Time: params.Time + 1},
		ready: true,
	}
}

// Start fans the initial request out to every peer the atlas names and
// arms the first rouse.
func (d *Director) Start() {
	d.backoff = store.NewRetryBackoff(rand.New(rand.NewSource(time.Now().UnixNano())), d.tuning.Min, d.tuning.Max, d.tuning.Retries)
	for _, peer := range d.atlas.Peers {
		d.cluster.Send(peer, d.params)
	}
	d.armRouse()
}

func (d *Director) armRouse() {
	if d.closed {
		return
	}
	d.armedAt = d.last
	if !d.backoff.Fire(func() {
		d.executor.Enqueue(d.rouse)
	}) {
		d.fail(fmt.Errorf("store: scan for key %v timed out short of quorum", d.params.Key))
	}
}

// rouse is the timeout-driven reissue: spec.md §4.3's Rouse algorithm.
func (d *Director) rouse() {
	if d.closed {
		return
	}
	if d.last.Compare(d.armedAt) == 0 {
		resend := Params{Key: kv.NewKey(d.last.Key), Time: d.params.Time}
		for _, peer := range d.atlas.Awaiting(d.have) {
			d.cluster.Send(peer, resend)
		}
	}
	d.armRouse()
}

// Receive delivers one deputy's reply: spec.md §4.3's Receipt
// algorithm. Like Start and rouse, it must run on the Director's own
// executor — callers off that goroutine (a transport receive loop)
// enqueue onto it rather than calling Receive directly, the way Cancel
// does.
func (d *Director) Receive(from kv.PeerID, cells []kv.Cell, next *kv.Key) {
	if d.closed {
		return
	}
	switch {
	case len(cells) > 0:
		head := cells[0]
		heap.Push(&d.queue, &element{head: head, rest: cells[1:], next: next, from: from})
		d.have[from] = struct{}{}
		d.backoff.Reset()
		d.give()
	case next == nil:
		d.have[from] = struct{}{}
		d.done[from] = struct{}{}
		d.give()
	default:
		d.cluster.Send(from, Params{Key: *next, Time: d.params.Time})
	}
}

// merge is spec.md §4.3's Merge algorithm: while a quorum of have
// holds and the queue is non-empty, advance the minimum element past
// last, emitting at most one cell per popped element and returning
// every cell emitted while the quorum held as one batch. A popped element whose
// head is stale (a duplicate of, or older than, last) is never emitted
// directly: advancing it can push its head past a smaller, still-
// queued cell from another replica, so a stale head is re-enqueued and
// the loop re-pops the true minimum instead of trusting the one
// element it happened to advance.
func (d *Director) merge() ([]kv.Cell, bool) {
	var emitted []kv.Cell
	for d.atlas.Quorum(d.have) && d.queue.Len() > 0 {
		e := heap.Pop(&d.queue).(*element)
		if d.last.Compare(e.head) >= 0 {
			if len(e.rest) > 0 {
				e.head, e.rest = e.rest[0], e.rest[1:]
				heap.Push(&d.queue, e)
				continue
			}
			if e.next != nil {
				delete(d.have, e.from)
				d.cluster.Send(e.from, Params{Key: *e.next, Time: d.params.Time})
				continue
			}
			d.done[e.from] = struct{}{}
			continue
		}
		emitted = append(emitted, e.head)
		d.last = e.head
		if len(e.rest) > 0 {
			e.head, e.rest = e.rest[0], e.rest[1:]
			heap.Push(&d.queue, e)
			continue
		}
		if e.next != nil {
			delete(d.have, e.from)
			d.cluster.Send(e.from, Params{Key: *e.next, Time: d.params.Time})
			continue
		}
		d.done[e.from] = struct{}{}
	}
	return emitted, d.atlas.Quorum(d.done) && d.queue.Len() == 0
}

// give is spec.md §4.3's Give algorithm: hand a merged batch to body,
// or finish, or wait for more data.
func (d *Director) give() {
	if !d.ready || d.closed {
		return
	}
	cells, finished := d.merge()
	if len(cells) > 0 {
		d.ready = false
		d.body(cells, func(err error) {
			d.executor.Enqueue(func() {
				if d.closed {
					return
				}
				if err != nil {
					d.fail(err)
					return
				}
				d.ready = true
				d.give()
			})
		})
		return
	}
	if finished {
		d.finish()
		return
	}
	d.armRouse()
}

func (d *Director) finish() {
	d.closed = true
	if d.complete != nil {
		d.complete(nil)
	}
}

func (d *Director) fail(err error) {
	if d.closed {
		return
	}
	d.closed = true
	store.CheckWarn(err, d.logger)
	if d.complete != nil {
		d.complete(err)
	}
}

// Cancel lets a consumer abandon the scan early; the outer async
// resolves with err.
func (d *Director) Cancel(err error) {
	d.executor.Enqueue(func() { d.fail(err) })
}

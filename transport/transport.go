// Package transport is the concrete realization of spec.md §1's
// "cluster transport" external collaborator: peer identity, message
// send/receive and port multiplexing. The Paxos core and ScanDirector
// only ever see the narrow paxos.Cluster / scan.Cluster interfaces;
// this package is the one piece of the tree that actually opens a
// socket. Grounded on the teacher's network.ConnectionManager (a
// shared map of live connections, dial-on-demand, addressed by RMId) —
// reimplemented over plain net.Conn and encoding/binary framing rather
// than capnp segments and connectionmanager's chancell-based mailbox,
// since neither go-capnproto's schema compiler nor chancell's exact
// call surface is available to this harness (see DESIGN.md).
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/paxos"
	"github.com/maniacs-db/store/scan"
	"github.com/maniacs-db/store/wire"
)

// frameKind tags the payload that follows a frame's length prefix, so
// one connection can carry both Paxos wire messages and scan traffic —
// the same multiplexing job the teacher's capnp segments do via a
// discriminated union at the root of the schema.
type frameKind uint8

const (
	frameKindPaxosMessage frameKind = iota + 1
	frameKindScanRequest
	frameKindScanReply
)

// ScanReceiver is notified of a deputy's scan reply. cmd/store's server
// wires this to the right scan.Director, keyed by (key, time) — this
// transport approximates spec.md §6's "ephemeral port" multiplexing
// with that pair rather than a true per-request port, which is
// sufficient for one in-flight scan per (key, time) at a time; see
// DESIGN.md.
type ScanReceiver func(from kv.PeerID, params scan.Params, cells []kv.Cell, next *kv.Key)

// ScanRequestHandler serves an incoming page request from a remote
// scan coordinator. Implementing a real deputy (reading versioned
// cells back out of local storage) is outside this core's scope per
// spec.md §1; cmd/store registers none, so this stays nil unless a
// caller supplies one.
type ScanRequestHandler func(from kv.PeerID, params scan.Params) (cells []kv.Cell, next *kv.Key)

// Transport is a minimal TCP fabric: one persistent outbound
// connection per peer, dialed lazily and redialed on next use after a
// failure. It implements paxos.Cluster directly and scan.Cluster through
// the ScanCluster adapter, so a single fabric serves both traffic
// classes.
type Transport struct {
	self   kv.PeerID
	logger log.Logger

	mu    sync.Mutex
	addrs map[kv.PeerID]string
	conns map[kv.PeerID]net.Conn

	demux       *paxos.Demux
	scanRecv    ScanReceiver
	scanServe   ScanRequestHandler
	listener    net.Listener
}

// New builds a Transport for self, addressed on the wire by the static
// peer→address table addrs (atlas membership is a separate, versioned
// concern — see atlas.Atlas — from the raw dial table a transport
// needs).
func New(self kv.PeerID, addrs map[kv.PeerID]string, logger log.Logger) *Transport {
	cp := make(map[kv.PeerID]string, len(addrs))
	for k, v := range addrs {
		cp[k] = v
	}
	return &Transport{self: self, logger: logger, addrs: cp, conns: make(map[kv.PeerID]net.Conn)}
}

// RegisterDemux wires incoming Paxos messages to d.
func (t *Transport) RegisterDemux(d *paxos.Demux) { t.demux = d }

// RegisterScanReceiver wires incoming scan replies to recv.
func (t *Transport) RegisterScanReceiver(recv ScanReceiver) { t.scanRecv = recv }

// RegisterScanRequestHandler wires incoming scan page requests to
// serve. Leaving this unset is legitimate: a node that issues scans
// but serves none (e.g. a pure coordinator) never needs it.
func (t *Transport) RegisterScanRequestHandler(serve ScanRequestHandler) { t.scanServe = serve }

// Listen opens addr and accepts peer connections until Close.
func (t *Transport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	t.listener = ln
	go t.acceptLoop(ln)
	return nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.serve(conn)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = make(map[kv.PeerID]net.Conn)
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// serve reads frames off one accepted connection until it closes or a
// frame is malformed, at which point the connection is simply dropped
// — message loss is tolerated by the Paxos/scan retry machinery, per
// spec.md §7.
func (t *Transport) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		kind, payload, err := readFrame(r)
		if err != nil {
			return
		}
		switch kind {
		case frameKindPaxosMessage:
			msg, err := wire.DecodeMessage(payload)
			if err != nil {
				t.logger.Log("msg", "dropping malformed paxos frame", "error", err)
				continue
			}
			if t.demux != nil {
				t.demux.Deliver(msg)
			}
		case frameKindScanRequest:
			params, err := decodeScanParams(payload)
			if err != nil {
				t.logger.Log("msg", "dropping malformed scan request", "error", err)
				continue
			}
			if t.scanServe == nil {
				continue
			}
			cells, next := t.scanServe(0, params)
			go t.sendScanReply(params, cells, next, conn)
		case frameKindScanReply:
			params, cells, next, err := decodeScanReply(payload)
			if err != nil {
				t.logger.Log("msg", "dropping malformed scan reply", "error", err)
				continue
			}
			if t.scanRecv != nil {
				t.scanRecv(0, params, cells, next)
			}
		}
	}
}

func (t *Transport) sendScanReply(params scan.Params, cells []kv.Cell, next *kv.Key, conn net.Conn) {
	payload := encodeScanReply(params, cells, next)
	writeFrame(conn, frameKindScanReply, payload)
}

func (t *Transport) conn(to kv.PeerID) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[to]; ok {
		return c, nil
	}
	addr, ok := t.addrs[to]
	if !ok {
		return nil, fmt.Errorf("transport: no address known for peer %d", to)
	}
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.conns[to] = c
	return c, nil
}

func (t *Transport) drop(to kv.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[to]; ok {
		c.Close()
		delete(t.conns, to)
	}
}

// Send implements paxos.Cluster.
func (t *Transport) Send(to paxos.PeerAddress, msg wire.Message) {
	conn, err := t.conn(to.Peer)
	if err != nil {
		t.logger.Log("msg", "send failed", "peer", to.Peer, "error", err)
		return
	}
	if err := writeFrame(conn, frameKindPaxosMessage, msg.Encode()); err != nil {
		t.logger.Log("msg", "send failed, dropping connection", "peer", to.Peer, "error", err)
		t.drop(to.Peer)
	}
}

// ScanSend is the scan-traffic half of this fabric. Transport cannot
// itself implement scan.Cluster — its Send method is already
// committed to paxos.Cluster's signature — so ScanCluster below wraps
// this method for callers (scan.New) that need the narrower
// scan.Cluster interface.
func (t *Transport) ScanSend(to kv.PeerID, params scan.Params) {
	conn, err := t.conn(to)
	if err != nil {
		t.logger.Log("msg", "scan send failed", "peer", to, "error", err)
		return
	}
	if err := writeFrame(conn, frameKindScanRequest, encodeScanParams(params)); err != nil {
		t.logger.Log("msg", "scan send failed, dropping connection", "peer", to, "error", err)
		t.drop(to)
	}
}

// ScanCluster adapts a Transport to scan.Cluster.
type ScanCluster struct{ T *Transport }

func (s ScanCluster) Send(to kv.PeerID, params scan.Params) { s.T.ScanSend(to, params) }

func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (frameKind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return frameKind(header[0]), payload, nil
}

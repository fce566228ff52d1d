// Command store runs one replica of the Paxos key-value core: an
// Acceptor/Proposer pair per key and a ScanDirector per range query,
// wired to durable storage and a TCP peer fabric. Grounded on
// cmd/goshawkdb/main.go's flag/logger/shutdown-stack conventions,
// narrowed to this core's three components — no client-transaction
// layer, no cluster-cert handshake, no WebSocket surface.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	store "github.com/maniacs-db/store"
	"github.com/maniacs-db/store/atlas"
	"github.com/maniacs-db/store/configuration"
	"github.com/maniacs-db/store/fiber"
	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/paxos"
	"github.com/maniacs-db/store/scan"
	"github.com/maniacs-db/store/status"
	"github.com/maniacs-db/store/storage"
	"github.com/maniacs-db/store/transport"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	logger.Log("product", "store", "version", store.ServerVersion, "args", fmt.Sprint(os.Args))

	srv, err := newServer(logger)
	if err != nil {
		fmt.Printf("\n%v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}
	srv.run()
}

// peerList parses "-peers" of the form "2=host:port,3=host:port" into
// the static dial table transport.New needs. Real membership discovery
// is the atlas's job (spec.md §1), out of scope here; a fixed table is
// the simplest thing that lets this binary actually dial its peers.
func parsePeers(spec string) (map[kv.PeerID]string, error) {
	out := make(map[kv.PeerID]string)
	if spec == "" {
		return out, nil
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed -peers entry %q, want id=host:port", entry)
		}
		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed peer id in %q: %w", entry, err)
		}
		out[kv.PeerID(id)] = parts[1]
	}
	return out, nil
}

func newServer(logger log.Logger) (*server, error) {
	var dataDir, listenAddr, peersSpec string
	var selfId uint
	var promPort int
	var httpProf bool
	var replicationFactor int

	flag.StringVar(&dataDir, "dir", "", "`Path` to data directory (required).")
	flag.StringVar(&listenAddr, "listen", ":7070", "`Address` to listen on for peer traffic.")
	flag.StringVar(&peersSpec, "peers", "", "Comma-separated `id=host:port` peer dial table.")
	flag.UintVar(&selfId, "self", 1, "This replica's peer id.")
	flag.IntVar(&promPort, "prometheusPort", 9090, "Port to serve Prometheus metrics on (0 disables).")
	flag.BoolVar(&httpProf, "httpProfile", false, "Enable Go HTTP Profiling on localhost:6060.")
	flag.IntVar(&replicationFactor, "replicationFactor", 0, "Number of peers responsible for each key (0 = every peer serves every key).")
	flag.Parse()

	if dataDir == "" {
		return nil, fmt.Errorf("missing required -dir parameter")
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, err
	}

	peers, err := parsePeers(peersSpec)
	if err != nil {
		return nil, err
	}

	return &server{
		logger:            logger,
		dataDir:           dataDir,
		listenAddr:        listenAddr,
		self:              kv.PeerID(selfId),
		peers:             peers,
		promPort:          promPort,
		httpProf:          httpProf,
		replicationFactor: replicationFactor,
		scans:             make(map[kv.KeyTime]*activeScan),
	}, nil
}

// activeScan pairs a running Director with the fiber.Executor that
// owns it, so a reply arriving on the transport goroutine can be
// enqueued onto the same executor driving Start/rouse/give instead of
// touching the Director's state from a second goroutine.
type activeScan struct {
	director *scan.Director
	exe      *fiber.Executor
}

// server assembles one replica: storage, the Acceptor/Proposer
// dispatchers, the scan fiber pool and the TCP transport. It plays the
// role of the teacher's server struct in cmd/goshawkdb/main.go,
// collapsed around this core's narrower component set.
type server struct {
	logger            log.Logger
	dataDir           string
	listenAddr        string
	self              kv.PeerID
	peers             map[kv.PeerID]string
	promPort          int
	httpProf          bool
	replicationFactor int

	db        *storage.Databases
	tr        *transport.Transport
	atlas     *atlas.Transmogrifier
	acceptors *paxos.AcceptorDispatcher
	proposers *paxos.ProposerDispatcher
	metrics   *paxos.Metrics
	tuning    configuration.Tuning
	scanExec  *fiber.Dispatcher

	mu    sync.Mutex
	scans map[kv.KeyTime]*activeScan

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func (s *server) run() {
	if s.httpProf {
		go func() { s.logger.Log("pprofResult", http.ListenAndServe("localhost:6060", nil)) }()
	}

	s.shutdownChan = make(chan struct{})
	go s.signalHandler()

	db, err := storage.Open(s.dataDir, s.logger)
	s.must(err)
	s.db = db

	s.tuning = configuration.DefaultTuning()
	procs := uint8(len(s.peers) + 1)
	if procs < 2 {
		procs = 2
	}

	s.metrics = paxos.NewMetrics()
	s.metrics.MustRegister(prometheus.DefaultRegisterer)

	s.atlas = atlas.NewTransmogrifier(s.logger)
	allPeers := make([]kv.PeerID, 0, len(s.peers)+1)
	allPeers = append(allPeers, s.self)
	for p := range s.peers {
		allPeers = append(allPeers, p)
	}
	f := (len(allPeers) - 1) / 2
	s.must(s.atlas.Install(atlas.New(1, allPeers, f)))

	s.tr = transport.New(s.self, s.peers, log.With(s.logger, "subsystem", "transport"))
	s.tr.RegisterScanReceiver(s.onScanReply)

	s.proposers = paxos.NewProposerDispatcher(procs, s.self, s.tr, s.currentAtlas, s.tuning, s.metrics, log.With(s.logger, "subsystem", "proposer"))
	s.acceptors = paxos.NewAcceptorDispatcher(procs, s.self, s.tr, s.db, s.proposers, s.tuning, s.metrics, log.With(s.logger, "subsystem", "acceptor"))
	s.tr.RegisterDemux(&paxos.Demux{Acceptors: s.acceptors, Proposers: s.proposers})

	s.scanExec = fiber.NewDispatcher(procs, log.With(s.logger, "subsystem", "scan"))

	s.must(s.tr.Listen(s.listenAddr))

	if s.promPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, s.status())
		})
		mux.HandleFunc("/debug/scan", s.handleDebugScan)
		go func() {
			s.logger.Log("metricsResult", http.ListenAndServe(fmt.Sprintf(":%d", s.promPort), mux))
		}()
	}

	s.logger.Log("msg", "Startup complete.", "self", s.self, "listen", s.listenAddr)
	<-s.shutdownChan
}

func (s *server) must(err error) {
	if err != nil {
		s.logger.Log("fatal", err)
		os.Exit(1)
	}
}

// currentAtlas narrows the cluster-wide atlas down to key's responsible
// peer set via atlas.Placement when a replication factor is configured,
// so the Proposer and the scan Director it feeds agree on who a key
// belongs to without either depending on the other.
func (s *server) currentAtlas(key kv.Key) *atlas.Atlas {
	return s.atlas.Active().For(key, s.replicationFactor)
}

// handleDebugScan is an operator-facing trigger for a range scan,
// streaming each batch back as one line per cell. It is the only
// caller of startScan in this binary; a real client surface (out of
// scope per spec.md §1) would call the same path over its own
// protocol instead of HTTP.
func (s *server) handleDebugScan(w http.ResponseWriter, r *http.Request) {
	keyHex := r.URL.Query().Get("key")
	timeStr := r.URL.Query().Get("time")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := strconv.ParseUint(timeStr, 10, 64)
	if err != nil {
		http.Error(w, "bad time parameter", http.StatusBadRequest)
		return
	}
	err = s.startScan(kv.NewKey(keyBytes), t, func(cells []kv.Cell, ack func(error)) {
		for _, c := range cells {
			fmt.Fprintf(w, "%x@%d=%q tombstone=%v\n", c.Key, c.Time, c.Value, c.Tombstone)
		}
		ack(nil)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// startScan runs one scan to completion, routing deputy replies
// through onScanReply by registering the Director under (key, time)
// for the scan's duration.
func (s *server) startScan(key kv.Key, t uint64, body scan.Body) error {
	a := s.currentAtlas(key)
	if a == nil {
		return fmt.Errorf("store: no atlas installed, cannot scan")
	}
	exe := s.scanExec.ExecutorFor(key.Bytes)
	kt := key.At(t)

	done := make(chan error, 1)
	d := scan.New(log.With(s.logger, "subsystem", "scan", "key", key), scan.Params{Key: key, Time: t}, a,
		transport.ScanCluster{T: s.tr}, exe, s.tuning.ScanBatchBackoff, body, func(err error) {
			s.mu.Lock()
			delete(s.scans, kt)
			s.mu.Unlock()
			done <- err
		})

	s.mu.Lock()
	s.scans[kt] = &activeScan{director: d, exe: exe}
	s.mu.Unlock()

	exe.Enqueue(d.Start)
	return <-done
}


func (s *server) onScanReply(from kv.PeerID, params scan.Params, cells []kv.Cell, next *kv.Key) {
	s.mu.Lock()
	as, found := s.scans[params.Key.At(params.Time)]
	s.mu.Unlock()
	if !found {
		return
	}
	as.exe.Enqueue(func() { as.director.Receive(from, cells, next) })
}

// status reproduces the teacher's Emit/Fork/Join status idiom for the
// /debug/status handler.
func (s *server) status() string {
	c := status.New()
	c.Emit(fmt.Sprintf("self: %d", s.self))
	if a := s.atlas.Active(); a != nil {
		c.Emit(fmt.Sprintf("atlas generation %d, %d peers, f=%d", a.Generation, len(a.Peers), a.F))
	}
	s.mu.Lock()
	c.Emit(fmt.Sprintf("active scans: %d", len(s.scans)))
	s.mu.Unlock()
	out := ""
	for _, l := range c.Lines() {
		out += l + "\n"
	}
	return out
}

func (s *server) signalHandler() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	s.shutdown()
}

func (s *server) shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Log("msg", "Shutting down.")
		if s.acceptors != nil {
			s.acceptors.Shutdown()
		}
		if s.proposers != nil {
			s.proposers.Shutdown()
		}
		if s.scanExec != nil {
			s.scanExec.Shutdown()
		}
		if s.tr != nil {
			s.tr.Close()
		}
		if s.db != nil {
			s.db.Shutdown()
		}
		close(s.shutdownChan)
	})
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/muster/lib/clock"
	"github.com/bureau-foundation/muster/lib/codec"
	"github.com/bureau-foundation/muster/lib/netutil"
)

// defaultHandshakeTimeout bounds how long an accepted connection may
// stay silent before sending hello.
const defaultHandshakeTimeout = 30 * time.Second

// MasterConfig configures a Master.
type MasterConfig struct {
	// Address is the host:port to listen on.
	Address string

	// JobID must match the job id in every worker's hello.
	JobID string

	// WorldSize is the total number of ranks, master included.
	WorldSize int

	// HandshakeTimeout bounds the wait for hello on each accepted
	// connection. Default 30s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every frame written to a worker. Zero means
	// no bound.
	WriteTimeout time.Duration

	// Clock drives keep-alive ticks. Default clock.Real().
	Clock clock.Clock

	// Logger receives protocol events. Default discards.
	Logger *slog.Logger
}

// Master is the rank 0 side of the protocol. Its methods are meant to
// be called in order from one goroutine: AcceptAll, SyncPeers,
// StartKeepAlive, BroadcastTermination, Close.
type Master struct {
	config   MasterConfig
	listener net.Listener
	clock    clock.Clock
	logger   *slog.Logger

	// peers is indexed by rank; peers[0] is always nil. It is written
	// only by AcceptAll and read-only afterwards.
	peers []*Peer

	readyMu sync.Mutex
	ready   []bool

	released bool
	runID    string

	terminateOnce sync.Once
	terminateErr  error
}

// Listen opens the master's listening socket.
func Listen(config MasterConfig) (*Master, error) {
	if config.WorldSize < 1 {
		return nil, fmt.Errorf("world size must be at least 1, got %d", config.WorldSize)
	}
	if config.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.Address, err)
	}
	config.Logger.Info("master listening",
		"address", listener.Addr().String(),
		"world_size", config.WorldSize,
	)
	return &Master{
		config:   config,
		listener: listener,
		clock:    config.Clock,
		logger:   config.Logger,
		peers:    make([]*Peer, config.WorldSize),
		ready:    make([]bool, config.WorldSize),
	}, nil
}

// Address returns the address actually bound.
func (m *Master) Address() string { return m.listener.Addr().String() }

// handshake is the outcome of reading hello from one accepted
// connection.
type handshake struct {
	conn    net.Conn
	decoder *codec.Decoder
	hello   Frame
	err     error
}

// AcceptAll blocks until every worker rank has connected and
// identified itself, then closes the listener. Connections arrive in
// any order and are read concurrently, so one slow or silent
// connection does not hold up the others.
func (m *Master) AcceptAll(ctx context.Context) error {
	want := m.config.WorldSize - 1
	if want == 0 {
		m.listener.Close()
		return nil
	}

	stopAccepting := context.AfterFunc(ctx, func() { m.listener.Close() })
	defer stopAccepting()

	pending := newPendingConns()
	defer pending.abandon()

	results := make(chan handshake)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := m.listener.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			if !pending.add(conn) {
				conn.Close()
				return
			}
			go m.readHello(conn, pending, results)
		}
	}()

	registered := 0
	for registered < want {
		select {
		case result := <-results:
			pending.remove(result.conn)
			if err := m.register(result); err != nil {
				m.logger.Warn("rejected worker connection",
					"remote", result.conn.RemoteAddr().String(),
					"error", err,
				)
				result.conn.Close()
				continue
			}
			registered++
		case err := <-acceptErr:
			if ctx.Err() != nil {
				return fmt.Errorf("accepting workers (%d of %d connected): %w", registered, want, context.Cause(ctx))
			}
			return fmt.Errorf("accepting workers (%d of %d connected): %w", registered, want, err)
		}
	}

	m.listener.Close()
	m.logger.Info("all workers connected", "workers", want)
	return nil
}

// readHello reads the first frame of an accepted connection and hands
// the result to AcceptAll, or closes the connection if AcceptAll has
// already returned.
func (m *Master) readHello(conn net.Conn, pending *pendingConns, results chan<- handshake) {
	decoder := codec.NewDecoder(conn)
	conn.SetReadDeadline(time.Now().Add(m.config.HandshakeTimeout))
	var hello Frame
	err := decoder.Decode(&hello)
	conn.SetReadDeadline(time.Time{})

	select {
	case results <- handshake{conn: conn, decoder: decoder, hello: hello, err: err}:
	case <-pending.done:
		conn.Close()
	}
}

// register validates a handshake and installs the peer in its rank
// slot.
func (m *Master) register(result handshake) error {
	if result.err != nil {
		return fmt.Errorf("reading hello: %w", result.err)
	}
	hello := result.hello
	if hello.Type != FrameHello {
		return fmt.Errorf("%w: first frame is %s, want hello", ErrProtocol, hello.Type)
	}
	if hello.JobID != m.config.JobID {
		return fmt.Errorf("%w: job id %q, want %q", ErrProtocol, hello.JobID, m.config.JobID)
	}
	if hello.Rank < 1 || hello.Rank >= m.config.WorldSize {
		return fmt.Errorf("%w: rank %d outside [1, %d)", ErrProtocol, hello.Rank, m.config.WorldSize)
	}
	if m.peers[hello.Rank] != nil {
		return fmt.Errorf("%w: rank %d already connected from %s", ErrProtocol, hello.Rank, m.peers[hello.Rank].RemoteAddr())
	}

	m.peers[hello.Rank] = newPeer(result.conn, result.decoder, hello.Rank, m.config.WriteTimeout)
	m.logger.Info("worker connected",
		"worker_rank", hello.Rank,
		"remote", result.conn.RemoteAddr().String(),
	)
	return nil
}

// SyncPeers is the master side of the barrier. It waits for a ready
// frame from every worker, then sends go to every worker. It never
// releases with fewer than all of them.
func (m *Master) SyncPeers(ctx context.Context) error {
	if err := m.awaitAllReady(ctx); err != nil {
		return err
	}
	return m.release()
}

func (m *Master) awaitAllReady(ctx context.Context) error {
	workers := m.Peers()
	if len(workers) != m.config.WorldSize-1 {
		return fmt.Errorf("barrier: %d of %d workers connected", len(workers), m.config.WorldSize-1)
	}

	stopInterrupt := context.AfterFunc(ctx, func() {
		for _, peer := range workers {
			peer.interruptReads()
		}
	})
	defer stopInterrupt()

	errs := make([]error, len(workers))
	var wait sync.WaitGroup
	for index, peer := range workers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			errs[index] = m.awaitReady(peer)
		}()
	}
	wait.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("barrier (%d of %d ready): %w", m.ReadyCount(), len(workers), context.Cause(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	m.logger.Info("all workers ready", "workers", len(workers))
	return nil
}

func (m *Master) awaitReady(peer *Peer) error {
	frame, err := peer.Receive()
	if err != nil {
		if netutil.IsExpectedCloseError(err) {
			return fmt.Errorf("rank %d: %w before reporting ready", peer.Rank(), ErrPeerLost)
		}
		return fmt.Errorf("rank %d: reading ready: %w", peer.Rank(), err)
	}
	if frame.Type != FrameReady {
		return fmt.Errorf("rank %d: %w: got %s, want ready", peer.Rank(), ErrProtocol, frame.Type)
	}

	m.readyMu.Lock()
	m.ready[peer.Rank()] = true
	m.readyMu.Unlock()
	m.logger.Debug("worker ready", "worker_rank", peer.Rank())
	return nil
}

// release sends go to every worker.
func (m *Master) release() error {
	m.runID = uuid.NewString()
	var errs []error
	for _, peer := range m.Peers() {
		if err := peer.Send(Frame{Type: FrameGo, RunID: m.runID}); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("releasing barrier: %w", err)
	}
	m.released = true
	m.logger.Info("barrier released", "run_id", m.runID)
	return nil
}

// ReadyCount returns how many distinct workers have reported ready.
func (m *Master) ReadyCount() int {
	m.readyMu.Lock()
	defer m.readyMu.Unlock()
	count := 0
	for _, ready := range m.ready {
		if ready {
			count++
		}
	}
	return count
}

// RunID returns the id sent with go, or "" before release.
func (m *Master) RunID() string { return m.runID }

// Peers returns the registered worker peers in rank order.
func (m *Master) Peers() []*Peer {
	workers := make([]*Peer, 0, len(m.peers))
	for _, peer := range m.peers {
		if peer != nil {
			workers = append(workers, peer)
		}
	}
	return workers
}

// StartKeepAlive starts heartbeating every registered worker. It fails
// unless SyncPeers has released the barrier.
func (m *Master) StartKeepAlive(interval time.Duration) (*KeepAlive, error) {
	if !m.released {
		return nil, ErrNotReleased
	}
	if interval <= 0 {
		return nil, fmt.Errorf("keep-alive interval must be positive, got %v", interval)
	}
	return startKeepAlive(m.Peers(), interval, m.clock, m.logger), nil
}

// BroadcastTermination sends terminate to every registered worker and
// closes each connection after its send, whether or not the send
// succeeded. It runs once; later calls return the first call's result
// without sending anything. Failures are per worker and do not stop
// the broadcast.
func (m *Master) BroadcastTermination() error {
	m.terminateOnce.Do(func() {
		var errs []error
		for _, peer := range m.Peers() {
			if err := peer.Send(Frame{Type: FrameTerminate}); err != nil {
				m.logger.Warn("termination not delivered",
					"worker_rank", peer.Rank(),
					"error", err,
				)
				errs = append(errs, err)
			} else {
				m.logger.Debug("termination sent", "worker_rank", peer.Rank())
			}
			if err := peer.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
				errs = append(errs, fmt.Errorf("closing rank %d: %w", peer.Rank(), err))
			}
		}
		m.terminateErr = errors.Join(errs...)
		m.logger.Info("termination broadcast", "workers", len(m.Peers()))
	})
	return m.terminateErr
}

// Close closes the listener and every worker connection. It does not
// send termination; call BroadcastTermination first. Safe to call more
// than once.
func (m *Master) Close() error {
	var errs []error
	if err := m.listener.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
		errs = append(errs, err)
	}
	for _, peer := range m.Peers() {
		if err := peer.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pendingConns tracks accepted connections that have not finished
// their handshake, so AcceptAll can close them all when it returns.
type pendingConns struct {
	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	abandoned bool
	done      chan struct{}
}

func newPendingConns() *pendingConns {
	return &pendingConns{
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

// add starts tracking conn. It returns false once abandon has run.
func (p *pendingConns) add(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.conns[conn] = struct{}{}
	return true
}

func (p *pendingConns) remove(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, conn)
}

// abandon closes every still-pending connection and tells in-flight
// handshakes that nobody will collect their result.
func (p *pendingConns) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return
	}
	p.abandoned = true
	close(p.done)
	for conn := range p.conns {
		conn.Close()
	}
	p.conns = nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/muster/lib/clock"
	"github.com/bureau-foundation/muster/lib/codec"
	"github.com/bureau-foundation/muster/lib/netutil"
	"github.com/bureau-foundation/muster/lib/testutil"
)

const (
	testJobID   = "job-7f3a"
	testTimeout = 10 * time.Second
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestMaster(t *testing.T, worldSize int, clk clock.Clock) *Master {
	t.Helper()
	master, err := Listen(MasterConfig{
		Address:          "127.0.0.1:0",
		JobID:            testJobID,
		WorldSize:        worldSize,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		Clock:            clk,
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { master.Close() })
	return master
}

func connectWorker(t *testing.T, address string, rank int) *Worker {
	t.Helper()
	worker, err := Connect(context.Background(), WorkerConfig{
		Address:      address,
		JobID:        testJobID,
		Rank:         rank,
		Attempts:     1,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect rank %d: %v", rank, err)
	}
	t.Cleanup(func() { worker.Close() })
	return worker
}

// startAccept runs AcceptAll in the background.
func startAccept(master *Master) <-chan error {
	result := make(chan error, 1)
	go func() { result <- master.AcceptAll(context.Background()) }()
	return result
}

// rendezvousAll connects and releases a full job of worldSize ranks.
func rendezvousAll(t *testing.T, master *Master, worldSize int) []*Worker {
	t.Helper()
	accepted := startAccept(master)
	workers := make([]*Worker, 0, worldSize-1)
	for rank := 1; rank < worldSize; rank++ {
		workers = append(workers, connectWorker(t, master.Address(), rank))
	}
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}

	released := make(chan error, len(workers))
	for _, worker := range workers {
		go func() { released <- worker.SignalReadyAndAwaitGo(context.Background()) }()
	}
	if err := master.SyncPeers(context.Background()); err != nil {
		t.Fatalf("SyncPeers: %v", err)
	}
	for range workers {
		if err := testutil.RequireReceive(t, released, testTimeout, "worker release"); err != nil {
			t.Fatalf("SignalReadyAndAwaitGo: %v", err)
		}
	}
	return workers
}

// sendRawHello opens a bare connection and writes one hello frame.
func sendRawHello(t *testing.T, address string, rank int, jobID string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	if err != nil {
		t.Fatalf("dialing %s: %v", address, err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := codec.NewEncoder(conn).Encode(Frame{Type: FrameHello, Rank: rank, JobID: jobID, Sequence: 1}); err != nil {
		t.Fatalf("writing hello: %v", err)
	}
	return conn
}

// requireClosedByMaster fails unless the master closes conn.
func requireClosedByMaster(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	buffer := make([]byte, 1)
	_, err := conn.Read(buffer)
	if !netutil.IsExpectedCloseError(err) {
		t.Fatalf("read on rejected connection = %v, want EOF or reset", err)
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBarrierReleasesAllRanksWithOneRunID(t *testing.T) {
	const worldSize = 3
	master := newTestMaster(t, worldSize, nil)
	workers := rendezvousAll(t, master, worldSize)

	if master.RunID() == "" {
		t.Fatal("master RunID empty after release")
	}
	if got := master.ReadyCount(); got != worldSize-1 {
		t.Errorf("ReadyCount() = %d, want %d", got, worldSize-1)
	}
	for index, worker := range workers {
		if worker.RunID() != master.RunID() {
			t.Errorf("worker %d RunID = %q, want %q", index+1, worker.RunID(), master.RunID())
		}
	}
}

func TestBarrierHoldsUntilEveryWorkerIsReady(t *testing.T) {
	master := newTestMaster(t, 3, nil)
	accepted := startAccept(master)
	first := connectWorker(t, master.Address(), 1)
	second := connectWorker(t, master.Address(), 2)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}

	firstReleased := make(chan error, 1)
	go func() { firstReleased <- first.SignalReadyAndAwaitGo(context.Background()) }()
	synced := make(chan error, 1)
	go func() { synced <- master.SyncPeers(context.Background()) }()

	waitFor(t, "rank 1 ready", func() bool { return master.ReadyCount() == 1 })
	select {
	case err := <-synced:
		t.Fatalf("SyncPeers returned with one worker missing: %v", err)
	case <-firstReleased:
		t.Fatal("rank 1 released with rank 2 not ready")
	case <-time.After(100 * time.Millisecond):
	}

	if err := second.SignalReadyAndAwaitGo(context.Background()); err != nil {
		t.Fatalf("rank 2 SignalReadyAndAwaitGo: %v", err)
	}
	if err := testutil.RequireReceive(t, synced, testTimeout, "SyncPeers"); err != nil {
		t.Fatalf("SyncPeers: %v", err)
	}
	if err := testutil.RequireReceive(t, firstReleased, testTimeout, "rank 1 release"); err != nil {
		t.Fatalf("rank 1 SignalReadyAndAwaitGo: %v", err)
	}
}

func TestSingleRankJobNeedsNoPeers(t *testing.T) {
	master := newTestMaster(t, 1, nil)
	if err := master.AcceptAll(context.Background()); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
	if err := master.SyncPeers(context.Background()); err != nil {
		t.Fatalf("SyncPeers: %v", err)
	}
	keepAlive, err := master.StartKeepAlive(time.Second)
	if err != nil {
		t.Fatalf("StartKeepAlive: %v", err)
	}
	keepAlive.Stop()
	if err := master.BroadcastTermination(); err != nil {
		t.Fatalf("BroadcastTermination: %v", err)
	}
}

func TestAcceptRejectsForeignJobAndOutOfRangeRank(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	accepted := startAccept(master)

	foreign := sendRawHello(t, master.Address(), 1, "some-other-job")
	requireClosedByMaster(t, foreign)
	outOfRange := sendRawHello(t, master.Address(), 5, testJobID)
	requireClosedByMaster(t, outOfRange)
	masterRank := sendRawHello(t, master.Address(), 0, testJobID)
	requireClosedByMaster(t, masterRank)

	connectWorker(t, master.Address(), 1)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
	if peers := master.Peers(); len(peers) != 1 || peers[0].Rank() != 1 {
		t.Fatalf("Peers() = %v, want only rank 1", peers)
	}
}

func TestAcceptRejectsDuplicateRank(t *testing.T) {
	master := newTestMaster(t, 3, nil)
	accepted := startAccept(master)

	first := sendRawHello(t, master.Address(), 1, testJobID)
	second := sendRawHello(t, master.Address(), 1, testJobID)
	connectWorker(t, master.Address(), 2)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}

	peers := master.Peers()
	if len(peers) != 2 || peers[0].Rank() != 1 || peers[1].Rank() != 2 {
		t.Fatalf("Peers() ranks wrong: %v", peers)
	}

	// Exactly one of the two rank 1 connections was dropped.
	closedCount := 0
	for _, conn := range []net.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, err := conn.Read(make([]byte, 1))
		if netutil.IsExpectedCloseError(err) {
			closedCount++
		} else if !netutil.IsTimeout(err) {
			t.Fatalf("unexpected read result on rank 1 connection: %v", err)
		}
	}
	if closedCount != 1 {
		t.Errorf("%d rank 1 connections closed, want 1", closedCount)
	}
}

func TestAcceptDropsSilentConnection(t *testing.T) {
	master, err := Listen(MasterConfig{
		Address:          "127.0.0.1:0",
		JobID:            testJobID,
		WorldSize:        2,
		HandshakeTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer master.Close()
	accepted := startAccept(master)

	silent, err := net.Dial("tcp", master.Address())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer silent.Close()
	requireClosedByMaster(t, silent)

	connectWorker(t, master.Address(), 1)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
}

func TestAcceptHonorsCancellation(t *testing.T) {
	master := newTestMaster(t, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	accepted := make(chan error, 1)
	go func() { accepted <- master.AcceptAll(ctx) }()

	connectWorker(t, master.Address(), 1)
	cancel()
	err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AcceptAll after cancel = %v, want context.Canceled", err)
	}
}

func TestBarrierFailsWhenWorkerDropsBeforeReady(t *testing.T) {
	master := newTestMaster(t, 3, nil)
	accepted := startAccept(master)
	steady := connectWorker(t, master.Address(), 1)
	dropped := connectWorker(t, master.Address(), 2)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}

	go steady.SignalReadyAndAwaitGo(context.Background())
	dropped.Close()

	err := master.SyncPeers(context.Background())
	if !errors.Is(err, ErrPeerLost) {
		t.Fatalf("SyncPeers = %v, want ErrPeerLost", err)
	}
	if master.RunID() != "" {
		t.Error("barrier released despite a lost worker")
	}
}

func TestBarrierTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	master := newTestMaster(t, 2, fake)
	accepted := startAccept(master)
	connectWorker(t, master.Address(), 1)
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}

	ctx, cancel := WithBarrierTimeout(context.Background(), fake, time.Minute)
	defer cancel()
	synced := make(chan error, 1)
	go func() { synced <- master.SyncPeers(ctx) }()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	err := testutil.RequireReceive(t, synced, testTimeout, "SyncPeers")
	if !errors.Is(err, ErrBarrierTimeout) {
		t.Fatalf("SyncPeers = %v, want ErrBarrierTimeout", err)
	}
}

func TestWithBarrierTimeoutDisabled(t *testing.T) {
	fake := clock.Fake(epoch)
	ctx, cancel := WithBarrierTimeout(context.Background(), fake, 0)
	if fake.PendingCount() != 0 {
		t.Error("disabled timeout registered a timer")
	}
	fake.Advance(24 * time.Hour)
	if ctx.Err() != nil {
		t.Fatalf("disabled timeout expired: %v", context.Cause(ctx))
	}
	cancel()
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("ctx.Err() after cancel = %v, want context.Canceled", ctx.Err())
	}
}

func TestStartKeepAliveBeforeRelease(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	if _, err := master.StartKeepAlive(time.Second); !errors.Is(err, ErrNotReleased) {
		t.Fatalf("StartKeepAlive before release = %v, want ErrNotReleased", err)
	}
}

func TestKeepAliveSurvivesDeadWorker(t *testing.T) {
	fake := clock.Fake(epoch)
	master := newTestMaster(t, 3, fake)
	workers := rendezvousAll(t, master, 3)
	dead, live := workers[0], workers[1]
	dead.Close()

	terminated := make(chan Termination, 1)
	go func() {
		termination, err := live.AwaitTermination(context.Background())
		if err != nil {
			t.Errorf("AwaitTermination: %v", err)
		}
		terminated <- termination
	}()

	keepAlive, err := master.StartKeepAlive(10 * time.Second)
	if err != nil {
		t.Fatalf("StartKeepAlive: %v", err)
	}
	fake.WaitForTimers(1)
	waitFor(t, "first heartbeat round", func() bool { return keepAlive.Rounds() >= 1 })
	for round := uint64(2); round <= 4; round++ {
		fake.Advance(10 * time.Second)
		waitFor(t, fmt.Sprintf("heartbeat round %d", round), func() bool { return keepAlive.Rounds() >= round })
	}
	keepAlive.Stop()
	keepAlive.Stop()

	// The send to the dead worker may or may not fail.
	master.BroadcastTermination()
	if got := testutil.RequireReceive(t, terminated, testTimeout, "live worker termination"); got != TerminationSignalled {
		t.Fatalf("live worker termination = %s, want signalled", got)
	}
	if got := live.Heartbeats(); got != 4 {
		t.Errorf("live worker received %d heartbeats, want 4", got)
	}
}

func TestBroadcastTerminationSendsOnce(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	workers := rendezvousAll(t, master, 2)

	if err := master.BroadcastTermination(); err != nil {
		t.Fatalf("first BroadcastTermination: %v", err)
	}
	if err := master.BroadcastTermination(); err != nil {
		t.Fatalf("second BroadcastTermination: %v", err)
	}
	peer := master.Peers()[0]
	// go, then terminate.
	if got := peer.Sent(); got != 2 {
		t.Errorf("master sent %d frames to rank 1, want 2", got)
	}
	if !peer.Closed() {
		t.Error("worker connection still open after termination")
	}

	termination, err := workers[0].AwaitTermination(context.Background())
	if err != nil {
		t.Fatalf("AwaitTermination: %v", err)
	}
	if termination != TerminationSignalled {
		t.Fatalf("termination = %s, want signalled", termination)
	}
}

func TestWorkerTreatsClosedMasterAsTermination(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	workers := rendezvousAll(t, master, 2)

	master.Close()
	termination, err := workers[0].AwaitTermination(context.Background())
	if err != nil {
		t.Fatalf("AwaitTermination: %v", err)
	}
	if termination != TerminationMasterGone {
		t.Fatalf("termination = %s, want master-gone", termination)
	}
}

func TestWorkerIdleTimeout(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	accepted := startAccept(master)
	worker, err := Connect(context.Background(), WorkerConfig{
		Address:     master.Address(),
		JobID:       testJobID,
		Rank:        1,
		Attempts:    1,
		IdleTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer worker.Close()
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
	released := make(chan error, 1)
	go func() { released <- worker.SignalReadyAndAwaitGo(context.Background()) }()
	if err := master.SyncPeers(context.Background()); err != nil {
		t.Fatalf("SyncPeers: %v", err)
	}
	if err := testutil.RequireReceive(t, released, testTimeout, "SignalReadyAndAwaitGo"); err != nil {
		t.Fatalf("SignalReadyAndAwaitGo: %v", err)
	}

	termination, err := worker.AwaitTermination(context.Background())
	if err != nil {
		t.Fatalf("AwaitTermination: %v", err)
	}
	if termination != TerminationIdle {
		t.Fatalf("termination = %s, want idle", termination)
	}
}

func TestCancelWinsOverIdleDeadline(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	accepted := startAccept(master)
	worker, err := Connect(context.Background(), WorkerConfig{
		Address:     master.Address(),
		JobID:       testJobID,
		Rank:        1,
		Attempts:    1,
		IdleTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer worker.Close()
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
	released := make(chan error, 1)
	go func() { released <- worker.SignalReadyAndAwaitGo(context.Background()) }()
	if err := master.SyncPeers(context.Background()); err != nil {
		t.Fatalf("SyncPeers: %v", err)
	}
	if err := testutil.RequireReceive(t, released, testTimeout, "SignalReadyAndAwaitGo"); err != nil {
		t.Fatalf("SignalReadyAndAwaitGo: %v", err)
	}

	// Cancel concurrently with the loop arming its hour-long idle
	// deadline; every round must still return promptly.
	for round := range 50 {
		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() {
			_, err := worker.AwaitTermination(ctx)
			result <- err
		}()
		cancel()
		if err := testutil.RequireReceive(t, result, testTimeout, "AwaitTermination after cancel"); !errors.Is(err, context.Canceled) {
			t.Fatalf("round %d: AwaitTermination = %v, want context.Canceled", round, err)
		}
	}
}

func TestAwaitTerminationHonorsCancellation(t *testing.T) {
	master := newTestMaster(t, 2, nil)
	workers := rendezvousAll(t, master, 2)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := workers[0].AwaitTermination(ctx)
		result <- err
	}()
	cancel()
	if err := testutil.RequireReceive(t, result, testTimeout, "AwaitTermination"); !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitTermination after cancel = %v, want context.Canceled", err)
	}
}

func TestWorkerAbortedBeforeRelease(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	// A hand-driven master that reads hello and ready, then sends
	// terminate instead of go.
	served := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()
		decoder := codec.NewDecoder(conn)
		for _, want := range []FrameType{FrameHello, FrameReady} {
			var frame Frame
			if err := decoder.Decode(&frame); err != nil {
				served <- err
				return
			}
			if frame.Type != want {
				served <- fmt.Errorf("got %s, want %s", frame.Type, want)
				return
			}
		}
		encoder := codec.NewEncoder(conn)
		if err := encoder.Encode(Frame{Type: FrameHeartbeat, Sequence: 1}); err != nil {
			served <- err
			return
		}
		served <- encoder.Encode(Frame{Type: FrameTerminate, Sequence: 2})
	}()

	worker := connectWorker(t, listener.Addr().String(), 1)
	err = worker.SignalReadyAndAwaitGo(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("SignalReadyAndAwaitGo = %v, want ErrAborted", err)
	}
	if err := testutil.RequireReceive(t, served, testTimeout, "scripted master"); err != nil {
		t.Fatalf("scripted master: %v", err)
	}
	if got := worker.Heartbeats(); got != 1 {
		t.Errorf("Heartbeats() = %d, want 1", got)
	}
}

// flakyDialer fails the first failures dials, then dials for real.
type flakyDialer struct {
	failures int
	calls    atomic.Int32
}

var errDialRefused = errors.New("connection refused (simulated)")

func (d *flakyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	call := int(d.calls.Add(1))
	if d.failures < 0 || call <= d.failures {
		return nil, errDialRefused
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, address)
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	fake := clock.Fake(epoch)
	master := newTestMaster(t, 2, nil)
	accepted := startAccept(master)

	dialer := &flakyDialer{failures: 2}
	type connectResult struct {
		worker *Worker
		err    error
	}
	connected := make(chan connectResult, 1)
	go func() {
		worker, err := Connect(context.Background(), WorkerConfig{
			Address:  master.Address(),
			JobID:    testJobID,
			Rank:     1,
			Attempts: 5,
			Backoff:  10 * time.Second,
			Dialer:   dialer,
			Clock:    fake,
		})
		connected <- connectResult{worker, err}
	}()

	for range 2 {
		fake.WaitForTimers(1)
		fake.Advance(10 * time.Second)
	}
	result := testutil.RequireReceive(t, connected, testTimeout, "Connect")
	if result.err != nil {
		t.Fatalf("Connect: %v", result.err)
	}
	defer result.worker.Close()
	if err := testutil.RequireReceive(t, accepted, testTimeout, "AcceptAll"); err != nil {
		t.Fatalf("AcceptAll: %v", err)
	}
	if got := dialer.calls.Load(); got != 3 {
		t.Errorf("dial calls = %d, want 3", got)
	}
}

func TestConnectExhaustsBudget(t *testing.T) {
	fake := clock.Fake(epoch)
	dialer := &flakyDialer{failures: -1}
	connected := make(chan error, 1)
	go func() {
		_, err := Connect(context.Background(), WorkerConfig{
			Address:  "127.0.0.1:1",
			JobID:    testJobID,
			Rank:     1,
			Attempts: 3,
			Backoff:  10 * time.Second,
			Dialer:   dialer,
			Clock:    fake,
		})
		connected <- err
	}()

	for range 2 {
		fake.WaitForTimers(1)
		fake.Advance(10 * time.Second)
	}
	err := testutil.RequireReceive(t, connected, testTimeout, "Connect")
	if !errors.Is(err, ErrConnectExhausted) {
		t.Fatalf("Connect = %v, want ErrConnectExhausted", err)
	}
	if !errors.Is(err, errDialRefused) {
		t.Errorf("Connect error %v does not wrap the last dial error", err)
	}
	if got := dialer.calls.Load(); got != 3 {
		t.Errorf("dial calls = %d, want 3", got)
	}
}

func TestConnectCanceledDuringBackoff(t *testing.T) {
	fake := clock.Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan error, 1)
	go func() {
		_, err := Connect(ctx, WorkerConfig{
			Address:  "127.0.0.1:1",
			JobID:    testJobID,
			Rank:     1,
			Attempts: 30,
			Backoff:  10 * time.Second,
			Dialer:   &flakyDialer{failures: -1},
			Clock:    fake,
		})
		connected <- err
	}()

	fake.WaitForTimers(1)
	cancel()
	if err := testutil.RequireReceive(t, connected, testTimeout, "Connect"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect after cancel = %v, want context.Canceled", err)
	}
}

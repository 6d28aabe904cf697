// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/muster/lib/codec"
)

// Peer is one end of a master/worker connection. Send is safe for
// concurrent use; Receive must only be called from one goroutine at a
// time. Close is idempotent.
type Peer struct {
	rank         int
	conn         net.Conn
	decoder      *codec.Decoder
	writeTimeout time.Duration

	// writeMu serializes frames on the wire and guards everything
	// below it.
	writeMu  sync.Mutex
	encoder  *codec.Encoder
	sequence uint64

	// broken holds the first write error. A failed write may have left
	// a partial frame on the wire, so every later Send fails with it
	// rather than writing after garbage.
	broken error

	closed    atomic.Bool
	closeOnce sync.Once
}

// newPeer wraps conn. decoder must be the decoder that already read
// from conn (if any), since it may hold buffered bytes.
func newPeer(conn net.Conn, decoder *codec.Decoder, rank int, writeTimeout time.Duration) *Peer {
	if decoder == nil {
		decoder = codec.NewDecoder(conn)
	}
	return &Peer{
		rank:         rank,
		conn:         conn,
		decoder:      decoder,
		writeTimeout: writeTimeout,
		encoder:      codec.NewEncoder(conn),
	}
}

// Rank returns the rank at the other end of the connection.
func (p *Peer) Rank() int { return p.rank }

// RemoteAddr returns the address of the other end.
func (p *Peer) RemoteAddr() string { return p.conn.RemoteAddr().String() }

// Send writes one frame, stamping it with the next sequence number.
func (p *Peer) Send(frame Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed.Load() {
		return ErrPeerClosed
	}
	if p.broken != nil {
		return p.broken
	}

	p.sequence++
	frame.Sequence = p.sequence
	if p.writeTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	if err := p.encoder.Encode(frame); err != nil {
		p.broken = fmt.Errorf("sending %s to rank %d: %w", frame.Type, p.rank, err)
		return p.broken
	}
	return nil
}

// Sent returns the sequence number of the last frame Send attempted.
func (p *Peer) Sent() uint64 {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.sequence
}

// Receive reads the next frame.
func (p *Peer) Receive() (Frame, error) {
	var frame Frame
	if err := p.decoder.Decode(&frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// setReadDeadline bounds the next Receive. The zero time clears it.
func (p *Peer) setReadDeadline(deadline time.Time) {
	p.conn.SetReadDeadline(deadline)
}

// interruptReads makes a blocked Receive return a timeout error
// without closing the connection.
func (p *Peer) interruptReads() {
	p.conn.SetReadDeadline(time.Unix(1, 0))
}

// Close closes the connection. Only the first call does anything;
// later calls return nil. Close does not take the write lock, so it
// unblocks a Send stuck on a dead peer.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (p *Peer) Closed() bool { return p.closed.Load() }

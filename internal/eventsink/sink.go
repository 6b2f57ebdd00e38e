// Package eventsink ships census snapshots to a fixed set of external
// collector endpoints over TCP, framed as length-prefixed protobuf
// messages. Unlike a one-shot connect-send-close per snapshot, the sink
// holds each connection open and loops for the supervisor's lifetime,
// reconnecting with backoff on failure.
package eventsink

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const (
	dialTimeout   = 5 * time.Second
	writeTimeout  = 5 * time.Second
	backoffFloor  = 500 * time.Millisecond
	backoffCeil   = 30 * time.Second
	snapshotQueue = 256
)

// Sink owns one long-lived connection per configured endpoint and
// delivers the Snapshots published via Publish to all of them, each
// wrapped in an EventEnvelope stamped with this node's member ID.
// Delivery is lossy: a snapshot is dropped when a queue is full.
type Sink struct {
	endpoints []string
	memberID  string
	logger    zerolog.Logger
	snapshots chan Snapshot
}

// New returns a Sink that will dial every address in endpoints once
// Run is started. memberID is stamped into every envelope's member_id
// field.
func New(endpoints []string, memberID string, logger zerolog.Logger) *Sink {
	return &Sink{
		endpoints: endpoints,
		memberID:  memberID,
		logger:    logger,
		snapshots: make(chan Snapshot, snapshotQueue),
	}
}

// Publish enqueues a snapshot for delivery. Non-blocking: when the queue
// is full, snap itself is dropped with a warning rather than stalling the
// Manager's tick loop.
func (s *Sink) Publish(snap Snapshot) {
	select {
	case s.snapshots <- snap:
	default:
		s.logger.Warn().Str("group", snap.Group).Msg("event sink queue full, dropping snapshot")
	}
}

// Run fans every published snapshot out to one writer goroutine per
// endpoint, and blocks until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	if len(s.endpoints) == 0 {
		<-ctx.Done()
		return
	}

	fanout := make([]chan Snapshot, len(s.endpoints))
	for i, addr := range s.endpoints {
		fanout[i] = make(chan Snapshot, snapshotQueue)
		go s.runEndpoint(ctx, addr, fanout[i])
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.snapshots:
			for _, ch := range fanout {
				select {
				case ch <- snap:
				default:
				}
			}
		}
	}
}

// runEndpoint holds one connection to addr open for the lifetime of ctx,
// looping on reconnect with exponential backoff whenever the connection
// drops. This is the redesigned long-lived behavior: the collector
// protocol is a stream of framed messages, not one dial per event.
func (s *Sink) runEndpoint(ctx context.Context, addr string, in <-chan Snapshot) {
	backoff := backoffFloor
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			s.logger.Warn().Err(err).Str("endpoint", addr).Dur("backoff", backoff).Msg("event sink dial failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffFloor

		if !s.drain(ctx, conn, in) {
			_ = conn.Close()
			return
		}
		_ = conn.Close()
	}
}

// drain writes every snapshot from in to conn until the connection
// fails or ctx is cancelled. Returns false when the caller should stop
// entirely (ctx cancelled), true when it should reconnect and resume.
func (s *Sink) drain(ctx context.Context, conn net.Conn, in <-chan Snapshot) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case snap := <-in:
			if err := writeFramed(conn, s.memberID, snap); err != nil {
				s.logger.Warn().Err(err).Str("endpoint", conn.RemoteAddr().String()).Msg("event sink write failed")
				return true
			}
		}
	}
}

func writeFramed(conn net.Conn, memberID string, snap Snapshot) error {
	body := encodeEnvelope(memberID, snap)

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(body)))

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCeil {
		return backoffCeil
	}
	return d
}

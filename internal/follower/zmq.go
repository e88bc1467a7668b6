package follower

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/lightninglabs/gozmq"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// zmqEventKind discriminates the raw events the ZMQ publisher stream
// carries: connected, disconnected, mempool add/remove, block
// connected/disconnected.
type zmqEventKind int

const (
	zmqBlockConnected zmqEventKind = iota
	zmqBlockDisconnected
	zmqMempoolAdded
	zmqMempoolRemoved
	zmqDisconnected
)

type zmqRawEvent struct {
	kind zmqEventKind
	hash types.Hash256
	err  error
}

// ZMQSource is the push side of the Follower's inputs. It is an
// interface so the reconciliation algorithm can be driven by a fake feed
// in tests.
type ZMQSource interface {
	Events() <-chan zmqRawEvent
	Close() error
}

// sequenceTopic is bitcoind's consolidated ZMQ notification topic: one
// subscription reports block-connected/disconnected and mempool add/
// remove, tagged by a one-byte label following the 32-byte hash
// (bitcoin core's zmq.md: 'C' block connected, 'D' block disconnected,
// 'A' mempool tx added, 'R' mempool tx removed, the latter two followed
// by an 8-byte little-endian mempool sequence number this follower does
// not need). Using the single "sequence" topic, rather than separately
// subscribing to hashblock/hashtx/rawblock/rawtx, keeps one ZMQ socket
// to manage and reconnect.
const sequenceTopic = "sequence"

// gozmqSource wraps github.com/lightninglabs/gozmq, sourced from the
// lnd-family ZMQ block/tx notification pattern in
// other_examples/.../breacharbiter.go, parsing bitcoind's "sequence"
// topic frames into zmqRawEvent.
type gozmqSource struct {
	conn   *gozmq.Conn
	events chan zmqRawEvent
	cancel context.CancelFunc
}

// DialZMQ connects to a bitcoind ZMQ publisher endpoint and subscribes
// to the sequence topic.
func DialZMQ(addr string, pollTimeout time.Duration) (ZMQSource, error) {
	conn, err := gozmq.NewSubscriber(addr, pollTimeout, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("follower: dialing zmq at %s: %w", addr, err)
	}
	if err := conn.Subscribe(sequenceTopic); err != nil {
		conn.Close()
		return nil, fmt.Errorf("follower: subscribing to %q: %w", sequenceTopic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &gozmqSource{conn: conn, events: make(chan zmqRawEvent, 64), cancel: cancel}
	go s.pump(ctx)
	return s, nil
}

func (s *gozmqSource) pump(ctx context.Context) {
	defer close(s.events)
	for {
		frames, err := s.conn.Receive(ctx)
		if err != nil {
			select {
			case s.events <- zmqRawEvent{kind: zmqDisconnected, err: err}:
			case <-ctx.Done():
			}
			return
		}
		ev, ok := parseSequenceFrames(frames)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// parseSequenceFrames decodes one "sequence" topic message: topic frame,
// then hash(32) + label(1) [+ seq(8) for A/R].
func parseSequenceFrames(frames [][]byte) (zmqRawEvent, bool) {
	if len(frames) < 2 {
		return zmqRawEvent{}, false
	}
	body := frames[1]
	if len(body) < 33 {
		return zmqRawEvent{}, false
	}
	var hash types.Hash256
	copy(hash[:], body[:32])
	label := body[32]

	switch label {
	case 'C':
		return zmqRawEvent{kind: zmqBlockConnected, hash: hash}, true
	case 'D':
		return zmqRawEvent{kind: zmqBlockDisconnected, hash: hash}, true
	case 'A':
		return zmqRawEvent{kind: zmqMempoolAdded, hash: hash}, true
	case 'R':
		return zmqRawEvent{kind: zmqMempoolRemoved, hash: hash}, true
	default:
		return zmqRawEvent{}, false
	}
}

// sequenceNumber extracts the trailing 8-byte little-endian mempool
// sequence number from an 'A'/'R' message body, for callers that need
// strict per-tx ordering; unused by the Follower's own reconciliation,
// which relies on block boundaries and full resyncs instead.
func sequenceNumber(body []byte) (uint64, bool) {
	if len(body) < 41 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(body[33:41]), true
}

func (s *gozmqSource) Events() <-chan zmqRawEvent { return s.events }

func (s *gozmqSource) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Package pubsub implements the result broadcast bus: a many-producer,
// many-consumer stream of ResultEvents with bounded, lossy
// per-subscriber buffers, and a gap-free hand-off between a historical
// DB query and the live stream. Grounded on
// stellar-slingshot's slidechain package, which broadcasts committed
// blocks to pinned consumers the same way via bobg/multichan.
package pubsub

import (
	"context"
	"fmt"

	"github.com/bobg/multichan"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// Bus broadcasts ResultEvents to any number of Subscribers.
type Bus struct {
	w          *multichan.W
	bufferSize int
}

// NewBus builds a Bus whose subscribers each get a buffer of
// bufferSize events before they start lagging (default 100).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{w: multichan.New((*types.ResultEvent)(nil)), bufferSize: bufferSize}
}

// Publish broadcasts ev to every current subscriber; a subscriber
// attached after this call does not receive it. Callers
// publish only after the enclosing block transaction commits: a
// ResultEvent for op X is visible to subscribers only once the block
// containing X has committed.
func (b *Bus) Publish(ev types.ResultEvent) {
	e := ev
	b.w.Write(&e)
}

// Subscriber receives every event published after it was created,
// through a bounded channel. A slow subscriber that falls behind is
// not blocked: once its buffer is full, further events are dropped and
// Lagged is signaled instead.
type Subscriber struct {
	events chan types.ResultEvent
	Lagged chan struct{}
	cancel context.CancelFunc
}

// Subscribe attaches a new Subscriber to the bus. Attaching happens
// before the caller does anything else (e.g. a historical DB query),
// so no event published afterward can be missed.
func (b *Bus) Subscribe(ctx context.Context) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscriber{
		events: make(chan types.ResultEvent, b.bufferSize),
		Lagged: make(chan struct{}, 1),
		cancel: cancel,
	}
	r := b.w.Reader()
	go sub.pump(subCtx, r)
	return sub
}

func (s *Subscriber) pump(ctx context.Context, r *multichan.R) {
	defer close(s.events)
	for {
		got, ok := r.Read(ctx)
		if !ok {
			return
		}
		ev := *(got.(*types.ResultEvent))
		select {
		case s.events <- ev:
		default:
			select {
			case s.Lagged <- struct{}{}:
			default:
			}
		}
	}
}

// Events returns the channel of delivered events, closed once the
// subscription is canceled.
func (s *Subscriber) Events() <-chan types.ResultEvent { return s.events }

// Close ends the subscription.
func (s *Subscriber) Close() { s.cancel() }

// ResultLookup queries durable storage for a result already recorded
// before the subscriber attached.
type ResultLookup func() (types.ResultEvent, bool, error)

// WaitForResult implements the DB-then-live hand-off: historical
// results are served by querying the DB first, then attaching the live
// stream, with no gap and no duplicate across that hand-off. It
// subscribes before calling lookup so any event published concurrently
// with the query is still captured on the live stream if lookup misses
// it.
func (b *Bus) WaitForResult(ctx context.Context, id types.ContractResultID, lookup ResultLookup) (types.ResultEvent, error) {
	sub := b.Subscribe(ctx)
	defer sub.Close()

	if ev, ok, err := lookup(); err != nil {
		return types.ResultEvent{}, err
	} else if ok {
		return ev, nil
	}

	for {
		select {
		case <-ctx.Done():
			return types.ResultEvent{}, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return types.ResultEvent{}, fmt.Errorf("pubsub: subscription closed before result %+v arrived", id)
			}
			if ev.ID == id {
				return ev, nil
			}
		}
	}
}

package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/internal/pubsub"
	"github.com/ouziel-slama/kontor/pkg/types"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := pubsub.NewBus(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx)
	defer sub.Close()

	id := types.ContractResultID{Txid: types.Hash256{1}, InputIndex: 0}
	bus.Publish(types.ResultEvent{ID: id, Ok: true, Value: "21"})

	select {
	case ev := <-sub.Events():
		require.Equal(t, id, ev.ID)
		require.True(t, ev.Ok)
		require.Equal(t, "21", ev.Value)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWaitForResultPrefersHistorical(t *testing.T) {
	bus := pubsub.NewBus(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := types.ContractResultID{Txid: types.Hash256{2}, InputIndex: 1}
	historical := types.ResultEvent{ID: id, Ok: true, Value: "already-committed"}

	ev, err := bus.WaitForResult(ctx, id, func() (types.ResultEvent, bool, error) {
		return historical, true, nil
	})
	require.NoError(t, err)
	require.Equal(t, "already-committed", ev.Value)
}

func TestWaitForResultFallsBackToLive(t *testing.T) {
	bus := pubsub.NewBus(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := types.ContractResultID{Txid: types.Hash256{3}, InputIndex: 2}

	done := make(chan struct{})
	var got types.ResultEvent
	var gotErr error
	go func() {
		got, gotErr = bus.WaitForResult(ctx, id, func() (types.ResultEvent, bool, error) {
			return types.ResultEvent{}, false, nil
		})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Publish(types.ResultEvent{ID: id, Ok: false, Message: "trap", Ephemeral: true})

	select {
	case <-done:
		require.NoError(t, gotErr)
		require.False(t, got.Ok)
		require.Equal(t, "trap", got.Message)
	case <-ctx.Done():
		t.Fatal("timed out waiting for live result")
	}
}

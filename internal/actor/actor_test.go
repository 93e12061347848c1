package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/actor/actortest"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	actor.InputBase
	n int
}

type addedEffect struct {
	actor.EffectBase
	n int
}

type doubledInput struct {
	actor.InputBase
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	switch in := input.(type) {
	case addInput:
		return state + in.n, []actor.Effect{addedEffect{n: in.n}}
	case doubledInput:
		return state * 2, nil
	default:
		return state, nil
	}
}

func TestActorReducesInOrder(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New(0, sumReducer, rt, actor.WithMailboxSize[int](2))
	a.Start()
	defer a.Stop()

	// A tiny mailbox forces Enqueue to wait rather than drop.
	for i := 1; i <= 10; i++ {
		require.True(t, a.Enqueue(addInput{n: i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Flush(ctx))

	require.Equal(t, 55, a.State())
	require.Len(t, rt.Effects(), 10)
	require.Equal(t, addedEffect{n: 1}, rt.Effects()[0])
}

func TestRuntimeFollowUpInputs(t *testing.T) {
	t.Parallel()

	followed := make(chan struct{})
	rt := &actortest.FakeRuntime{
		EmitFn: func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
			if _, ok := eff.(addedEffect); ok {
				emit(doubledInput{})
				close(followed)
			}
		},
	}
	a := actor.New(0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	require.True(t, a.Enqueue(addInput{n: 3}))
	<-followed

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Flush(ctx))
	require.Equal(t, 6, a.State())
}

func TestStoppedActorRejectsInput(t *testing.T) {
	t.Parallel()

	a := actor.New(0, sumReducer, nil)
	a.Start()
	a.Stop()
	<-a.Done()

	require.False(t, a.Enqueue(addInput{n: 1}))
	require.ErrorIs(t, a.Flush(context.Background()), actor.ErrStopped)
}

func TestStep(t *testing.T) {
	t.Parallel()

	next, effects := actor.Step(1, addInput{n: 2}, sumReducer)
	require.Equal(t, 3, next)
	require.Len(t, effects, 1)
}

func TestFakeClockAdvance(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	clock := actortest.NewFakeClock(start)
	clock.Advance(time.Minute)
	require.Equal(t, start.Add(time.Minute), clock.Now())
}

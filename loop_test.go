package memexpose_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

func TestLoopExecutesTasksInOrder(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	loop := memexpose.NewLoop()
	var order []int
	for i := range 5 {
		loop.Post(func(ctx context.Context) {
			order = append(order, i)
		})
	}
	group.Spawn("loop", parallel.Fail, loop.Run)

	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		order = append(order, 5)
		return nil
	}))
	requireT.Equal([]int{0, 1, 2, 3, 4, 5}, order)
}

func TestLoopDoReturnsError(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	loop := memexpose.NewLoop()
	group.Spawn("loop", parallel.Fail, loop.Run)

	errTest := errors.New("test")
	requireT.ErrorIs(loop.Do(ctx, func(ctx context.Context) error {
		return errTest
	}), errTest)
}

func TestBottomHalf(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	loop := memexpose.NewLoop()
	group.Spawn("loop", parallel.Fail, loop.Run)

	var runs int
	bh := loop.NewBH(func(ctx context.Context) {
		runs++
	})

	// Multiple schedules result in single run.
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		bh.Schedule()
		bh.Schedule()
		requireT.True(bh.Scheduled())
		requireT.Zero(runs)
		return nil
	}))
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		requireT.Equal(1, runs)
		requireT.False(bh.Scheduled())
		return nil
	}))

	// Canceled run is skipped.
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		bh.Schedule()
		bh.Cancel()
		requireT.False(bh.Scheduled())
		return nil
	}))
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		requireT.Equal(1, runs)
		return nil
	}))

	// Rescheduling after cancel runs once.
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		bh.Schedule()
		bh.Cancel()
		bh.Schedule()
		return nil
	}))
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		requireT.Equal(2, runs)
		return nil
	}))
}

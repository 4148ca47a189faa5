package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := Setup("sqlite://:memory:")
	require.NoError(t, err)
	tasks, err := NewTaskStore(db)
	require.NoError(t, err)
	return tasks
}

func TestEnqueueDuplicateUsername(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tasks := newTestStore(t)

	require.NoError(t, tasks.Enqueue(ctx, "user1", "some report"))
	err := tasks.Enqueue(ctx, "user1", "another report")
	assert.ErrorIs(err, ErrDuplicateTask)

	// the original report is untouched
	task, err := tasks.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal("some report", task.Report)
}

func TestNextEmptyQueue(t *testing.T) {
	assert := assert.New(t)
	tasks := newTestStore(t)

	task, err := tasks.Next(context.Background())
	assert.NoError(err)
	assert.Nil(task)
}

func TestNextIsStable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tasks := newTestStore(t)

	require.NoError(t, tasks.Enqueue(ctx, "user1", "some report"))

	first, err := tasks.Next(ctx)
	require.NoError(t, err)
	second, err := tasks.Next(ctx)
	require.NoError(t, err)
	assert.Equal(first.Username, second.Username)
}

func TestCompleteRemovesTask(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tasks := newTestStore(t)

	require.NoError(t, tasks.Enqueue(ctx, "user1", "some report"))
	require.NoError(t, tasks.Complete(ctx, "user1"))

	task, err := tasks.Next(ctx)
	require.NoError(t, err)
	assert.Nil(task)

	// completing again is a no-op
	assert.NoError(tasks.Complete(ctx, "user1"))
}

func TestPendingOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	tasks := newTestStore(t)

	require.NoError(t, tasks.Enqueue(ctx, "user1", "report one"))
	require.NoError(t, tasks.Enqueue(ctx, "user2", "report two"))

	pending, err := tasks.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal("user1", pending[0].Username)
	assert.Equal("user2", pending[1].Username)
}

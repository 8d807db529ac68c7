package asyncx

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_FailsArchivedUnfinishedTasks(t *testing.T) {
	s := startMiniRedis(t)
	store := NewSQLStore(openTestDB(t), DialectSQLite)
	redisOpt := asynq.RedisClientOpt{Addr: s.Addr()}
	client := NewClient(redisOpt, store, ClientOptions{Queue: "helpdesk"})
	defer client.Close()
	ctx := context.Background()

	abandoned, err := client.Enqueue(ctx, "generate_reply", "t-1")
	require.NoError(t, err)
	require.NoError(t, store.MarkStarted(ctx, abandoned, time.Now().UTC()))
	finished, err := client.Enqueue(ctx, "generate_reply", "t-2")
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, finished, "done", time.Now().UTC()))
	waiting, err := client.Enqueue(ctx, "generate_reply", "t-3")
	require.NoError(t, err)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	require.NoError(t, inspector.ArchiveTask("helpdesk", abandoned))
	require.NoError(t, inspector.ArchiveTask("helpdesk", finished))

	r := NewReconciler(redisOpt, store, "helpdesk", nil)
	defer r.Close()
	n, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := client.Status(ctx, abandoned)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, st.Status)
	require.NotNil(t, st.Result)
	assert.Contains(t, *st.Result, "[Error running generate_reply: task abandoned without a result")

	st, err = client.Status(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, "done", *st.Result)

	st, err = client.Status(ctx, waiting)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	left, err := inspector.ListArchivedTasks("helpdesk")
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a second pass finds nothing")
}

func TestReconciler_QueueNotCreatedYet(t *testing.T) {
	s := startMiniRedis(t)
	store := NewSQLStore(openTestDB(t), DialectSQLite)
	r := NewReconciler(asynq.RedisClientOpt{Addr: s.Addr()}, store, "helpdesk", nil)
	defer r.Close()

	n, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

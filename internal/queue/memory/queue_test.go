package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsriver/internal/job"
	"newsriver/internal/news"
)

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := New("guardian-bulk", 2)
	assert.Equal(t, "guardian-bulk", q.Name())

	req := job.Request{Provider: news.ProviderGuardian, Kind: job.KindBulk}
	require.NoError(t, q.Enqueue(context.Background(), req))
	assert.Equal(t, 1, q.Len())

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, news.ProviderGuardian, got.Provider)
	assert.Equal(t, job.KindBulk, got.Kind)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := New("nytimes-updates", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	t.Parallel()

	q := New("newsapi-bulk", 1)
	require.NoError(t, q.Enqueue(context.Background(), job.Request{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Enqueue(ctx, job.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseDrains(t *testing.T) {
	t.Parallel()

	q := New("guardian-updates", 2)
	require.NoError(t, q.Enqueue(context.Background(), job.Request{Provider: news.ProviderGuardian}))
	q.Close()
	q.Close() // second close is a no-op

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, news.ProviderGuardian, got.Provider)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEnqueueAfterCloseRejected(t *testing.T) {
	t.Parallel()

	q := New("nytimes-bulk", 2)
	q.Close()

	err := q.Enqueue(context.Background(), job.Request{Provider: news.ProviderNYTimes})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, q.Len())
}

package ingestion_engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

func waitState(t *testing.T, ing *DocumentIngestor, id, want string) models.TaskState {
	t.Helper()
	var st models.TaskState
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = ing.Task(id)
		return ok && st.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestIngestorRunsTasks(t *testing.T) {
	parse := func(_ context.Context, docID string) (models.ParseResult, error) {
		switch docID {
		case "ok":
			return models.ParseResult{Success: true, ChunkCount: 3}, nil
		case "bad":
			return models.ParseResult{Success: false, Error: "decode failed"}, nil
		case "lookup":
			return models.ParseResult{}, core.ErrNotFound
		default:
			panic("boom")
		}
	}
	ing := NewDocumentIngestor(parse, 8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ing.Wait()
	}()
	ing.Start(ctx, 2)

	for _, id := range []string{"ok", "bad", "lookup", "panic"} {
		st, err := ing.Enqueue(id)
		require.NoError(t, err)
		assert.Equal(t, id, st.TaskID)
	}

	assert.Equal(t, 3, waitState(t, ing, "ok", models.TaskSucceeded).ChunkCount)
	assert.Equal(t, "decode failed", waitState(t, ing, "bad", models.TaskFailed).Error)
	assert.Contains(t, waitState(t, ing, "lookup", models.TaskFailed).Error, "not found")
	assert.Contains(t, waitState(t, ing, "panic", models.TaskFailed).Error, "boom")

	_, ok := ing.Task("never")
	assert.False(t, ok)
}

func TestIngestorQueueFull(t *testing.T) {
	ing := NewDocumentIngestor(func(context.Context, string) (models.ParseResult, error) {
		return models.ParseResult{Success: true}, nil
	}, 1, zap.NewNop())

	_, err := ing.Enqueue("a")
	require.NoError(t, err)
	_, err = ing.Enqueue("b")
	assert.True(t, errors.Is(err, core.ErrQueueFull))

	_, ok := ing.Task("b")
	assert.False(t, ok, "rejected task is not tracked")
}

func TestIngestorDoesNotDoubleQueueActiveTask(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	ing := NewDocumentIngestor(func(context.Context, string) (models.ParseResult, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return models.ParseResult{Success: true}, nil
	}, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ing.Wait()
	}()
	ing.Start(ctx, 1)

	_, err := ing.Enqueue("d1")
	require.NoError(t, err)
	waitState(t, ing, "d1", models.TaskRunning)

	st, err := ing.Enqueue("d1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, st.State)

	close(release)
	waitState(t, ing, "d1", models.TaskSucceeded)

	_, err = ing.Enqueue("d1")
	require.NoError(t, err)
	waitState(t, ing, "d1", models.TaskSucceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, runs, 2)
}

func TestIngestorFinishesRunningParseOnShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ing := NewDocumentIngestor(func(ctx context.Context, _ string) (models.ParseResult, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return models.ParseResult{}, err
		}
		return models.ParseResult{Success: true, ChunkCount: 1}, nil
	}, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx, 1)

	_, err := ing.Enqueue("d1")
	require.NoError(t, err)
	<-started

	cancel()
	close(release)
	ing.Wait()

	st, ok := ing.Task("d1")
	require.True(t, ok)
	assert.Equal(t, models.TaskSucceeded, st.State)
	assert.Empty(t, st.Error)
}

func TestIngestorEvictsExpiredFinishedTasks(t *testing.T) {
	ing := NewDocumentIngestor(func(context.Context, string) (models.ParseResult, error) {
		return models.ParseResult{Success: true}, nil
	}, 8, zap.NewNop())
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	ing.now = func() time.Time { return clock }

	for _, id := range []string{"done", "failed", "recent", "stuck"} {
		_, err := ing.Enqueue(id)
		require.NoError(t, err)
	}
	ing.update("done", func(st *models.TaskState) { st.State = models.TaskSucceeded })
	ing.update("failed", func(st *models.TaskState) { st.State = models.TaskFailed })
	clock = t0.Add(23 * time.Hour)
	ing.update("recent", func(st *models.TaskState) { st.State = models.TaskSucceeded })

	clock = t0.Add(25 * time.Hour)
	_, err := ing.Enqueue("next")
	require.NoError(t, err)

	for _, id := range []string{"done", "failed"} {
		_, ok := ing.Task(id)
		assert.False(t, ok, id)
	}
	for _, id := range []string{"recent", "stuck", "next"} {
		_, ok := ing.Task(id)
		assert.True(t, ok, id)
	}
}

package ingestion_engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

// ParseFunc parses one document by id. The error is reserved for failures
// before the parse could start (lookups); parse failures live in the result.
type ParseFunc func(ctx context.Context, docID string) (models.ParseResult, error)

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(docID string) (models.TaskState, error)
	Task(taskID string) (models.TaskState, bool)
	Wait()
}

// taskRetention is how long a finished task stays queryable.
const taskRetention = 24 * time.Hour

// DocumentIngestor is the async parse queue: a bounded channel drained by a
// fixed set of workers, with one state record per task. Finished records are
// dropped once they are older than the retention.
type DocumentIngestor struct {
	parse ParseFunc
	jobs  chan string
	log   *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*models.TaskState

	wg        sync.WaitGroup
	now       func() time.Time
	retention time.Duration
}

var _ Ingestor = (*DocumentIngestor)(nil)

func NewDocumentIngestor(parse ParseFunc, queueSize int, log *zap.Logger) *DocumentIngestor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &DocumentIngestor{
		parse:     parse,
		jobs:      make(chan string, queueSize),
		log:       log,
		tasks:     make(map[string]*models.TaskState),
		now:       time.Now,
		retention: taskRetention,
	}
}

// Start launches numWorkers goroutines that run until ctx is cancelled. A
// cancelled worker finishes the parse it holds before returning.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("parse worker stopping", zap.Int("worker", w))
					return
				case taskID := <-i.jobs:
					i.processOne(ctx, w, taskID)
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() { i.wg.Wait() }

// Enqueue schedules a parse. The task id is the document id; a document that
// is already pending or running is not queued twice and its current state is
// returned. A full queue fails with core.ErrQueueFull.
func (i *DocumentIngestor) Enqueue(docID string) (models.TaskState, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.evictFinished(now)
	if cur, ok := i.tasks[docID]; ok && (cur.State == models.TaskPending || cur.State == models.TaskRunning) {
		return *cur, nil
	}

	st := &models.TaskState{
		TaskID:     docID,
		DocID:      docID,
		State:      models.TaskPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	select {
	case i.jobs <- docID:
	default:
		return models.TaskState{}, fmt.Errorf("%w: %d queued", core.ErrQueueFull, cap(i.jobs))
	}
	i.tasks[docID] = st
	return *st, nil
}

// Task returns a copy of a task's state.
func (i *DocumentIngestor) Task(taskID string) (models.TaskState, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	st, ok := i.tasks[taskID]
	if !ok {
		return models.TaskState{}, false
	}
	return *st, true
}

func (i *DocumentIngestor) processOne(ctx context.Context, worker int, taskID string) {
	log := i.log.With(zap.String("doc_id", taskID), zap.Int("worker", worker))
	i.update(taskID, func(st *models.TaskState) { st.State = models.TaskRunning })

	var (
		res models.ParseResult
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("parse panicked: %v", r)
			}
		}()
		res, err = i.parse(context.WithoutCancel(ctx), taskID)
	}()

	if err == nil && !res.Success {
		err = fmt.Errorf("%s", res.Error)
	}
	if err != nil {
		log.Warn("async parse failed", zap.Error(err))
		i.update(taskID, func(st *models.TaskState) {
			st.State = models.TaskFailed
			st.Error = err.Error()
		})
		return
	}
	log.Info("async parse done", zap.Int("chunks", res.ChunkCount))
	i.update(taskID, func(st *models.TaskState) {
		st.State = models.TaskSucceeded
		st.ChunkCount = res.ChunkCount
	})
}

// evictFinished drops succeeded and failed tasks last touched before the
// retention window. Caller holds i.mu.
func (i *DocumentIngestor) evictFinished(now time.Time) {
	for id, st := range i.tasks {
		if st.State != models.TaskSucceeded && st.State != models.TaskFailed {
			continue
		}
		if now.Sub(st.UpdatedAt) > i.retention {
			delete(i.tasks, id)
		}
	}
}

func (i *DocumentIngestor) update(taskID string, fn func(*models.TaskState)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.tasks[taskID]
	if !ok {
		return
	}
	fn(st)
	st.UpdatedAt = i.now()
}

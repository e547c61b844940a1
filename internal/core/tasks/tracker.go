package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/models"
)

const maxFailureMessage = 255

// DocumentStore is the slice of the relational store a batch needs.
type DocumentStore interface {
	ListUnparsedDocuments(ctx context.Context, kbID string) ([]models.Document, error)
	UpdateDocumentProgress(ctx context.Context, id string, upd models.ProgressUpdate) error
}

// ParseFunc parses one document; see ingestion_engine.ParseFunc.
type ParseFunc func(ctx context.Context, docID string) (models.ParseResult, error)

// Submitter runs a task in the background, failing when it has no room.
type Submitter interface {
	Submit(task func()) error
}

// Tracker runs one sequential batch parse per knowledge base.
type Tracker struct {
	registry Registry
	docs     DocumentStore
	parse    ParseFunc
	pool     Submitter
	log      *zap.Logger
	now      func() time.Time
}

func NewTracker(registry Registry, docs DocumentStore, parse ParseFunc, pool Submitter, log *zap.Logger) *Tracker {
	return &Tracker{
		registry: registry,
		docs:     docs,
		parse:    parse,
		pool:     pool,
		log:      log,
		now:      time.Now,
	}
}

func (t *Tracker) unix() float64 {
	return float64(t.now().UnixNano()) / 1e9
}

// Start launches a batch unless one is starting or running for kbID.
func (t *Tracker) Start(ctx context.Context, kbID string) models.BatchStartResult {
	log := t.log.With(zap.String("kb_id", kbID))
	start := t.unix()

	ok, err := t.registry.Begin(ctx, kbID, models.BatchTask{
		Status:    models.BatchStarting,
		Message:   "task preparing",
		StartTime: start,
	})
	if err != nil {
		log.Error("batch registry unavailable", zap.Error(err))
		return models.BatchStartResult{Success: false, Message: fmt.Sprintf("could not start batch parse: %v", err)}
	}
	if !ok {
		return models.BatchStartResult{Success: false, Message: "a batch parse is already running for this knowledge base"}
	}

	runCtx := context.WithoutCancel(ctx)
	if err := t.pool.Submit(func() { t.run(runCtx, kbID, start) }); err != nil {
		log.Warn("batch not scheduled", zap.Error(err))
		t.put(runCtx, kbID, models.BatchTask{
			Status:    models.BatchFailed,
			Message:   fmt.Sprintf("could not schedule batch parse: %v", err),
			StartTime: start,
		}, log)
		return models.BatchStartResult{Success: false, Message: fmt.Sprintf("could not schedule batch parse: %v", err)}
	}
	log.Info("batch parse started")
	return models.BatchStartResult{Success: true, Message: "batch parse started"}
}

// Progress returns the batch record, or status not_found.
func (t *Tracker) Progress(ctx context.Context, kbID string) (models.BatchTask, error) {
	task, ok, err := t.registry.Get(ctx, kbID)
	if err != nil {
		return models.BatchTask{}, err
	}
	if !ok {
		return models.BatchTask{Status: models.BatchNotFound, Message: "no batch parse task found for this knowledge base"}, nil
	}
	return task, nil
}

func (t *Tracker) run(ctx context.Context, kbID string, start float64) {
	log := t.log.With(zap.String("kb_id", kbID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("batch parse crashed", zap.Any("panic", r))
			t.put(ctx, kbID, models.BatchTask{
				Status:    models.BatchFailed,
				Message:   fmt.Sprintf("batch parse failed: %v", r),
				StartTime: start,
			}, log)
		}
	}()

	docs, err := t.docs.ListUnparsedDocuments(ctx, kbID)
	if err != nil {
		log.Error("list documents failed", zap.Error(err))
		t.put(ctx, kbID, models.BatchTask{
			Status:    models.BatchFailed,
			Message:   fmt.Sprintf("batch parse failed: %v", err),
			StartTime: start,
		}, log)
		return
	}

	total := len(docs)
	task := models.BatchTask{
		Status:    models.BatchRunning,
		Total:     total,
		Message:   fmt.Sprintf("found %d documents to parse", total),
		StartTime: start,
	}
	t.put(ctx, kbID, task, log)

	if total == 0 {
		task.Status = models.BatchCompleted
		task.Message = "no documents need parsing"
		t.put(ctx, kbID, task, log)
		return
	}

	succeeded, failed := 0, 0
	for i, doc := range docs {
		task.Current = i + 1
		task.Message = fmt.Sprintf("parsing: %s (%d/%d)", doc.Name, i+1, total)
		t.put(ctx, kbID, task, log)

		res, err := t.parseOne(ctx, doc.ID)
		switch {
		case err != nil:
			failed++
			log.Warn("batch document failed", zap.String("doc_id", doc.ID), zap.Error(err))
			t.markFailed(ctx, doc.ID, err, log)
		case !res.Success:
			failed++
			log.Warn("batch document failed", zap.String("doc_id", doc.ID), zap.String("error", res.Error))
		default:
			succeeded++
		}
	}

	took := t.unix() - start
	task.Status = models.BatchCompleted
	task.Current = total
	task.Message = fmt.Sprintf("batch parse complete: total %d, succeeded %d, failed %d, took %.2fs", total, succeeded, failed, took)
	t.put(ctx, kbID, task, log)
	log.Info("batch parse complete", zap.Int("total", total), zap.Int("succeeded", succeeded), zap.Int("failed", failed))
}

func (t *Tracker) parseOne(ctx context.Context, docID string) (res models.ParseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.parse(ctx, docID)
}

func (t *Tracker) markFailed(ctx context.Context, docID string, cause error, log *zap.Logger) {
	msg := "batch parse failed: " + truncate(cause.Error(), maxFailureMessage)
	status, run := models.StatusDone, models.RunFailed
	progress := 0.0
	if err := t.docs.UpdateDocumentProgress(ctx, docID, models.ProgressUpdate{
		Progress: &progress,
		Message:  &msg,
		Status:   &status,
		Run:      &run,
	}); err != nil {
		log.Error("could not mark document failed", zap.String("doc_id", docID), zap.Error(err))
	}
}

func (t *Tracker) put(ctx context.Context, kbID string, task models.BatchTask, log *zap.Logger) {
	if err := t.registry.Put(ctx, kbID, task); err != nil {
		log.Warn("batch state not saved", zap.Error(err))
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

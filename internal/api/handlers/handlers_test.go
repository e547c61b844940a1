package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

type fakeDocs struct {
	parse    models.ParseResult
	parseErr error
	progress map[string]models.DocumentProgress
	kbRows   []models.DocumentProgressRow
}

func (f *fakeDocs) ParseDocument(_ context.Context, docID string) (models.ParseResult, error) {
	return f.parse, f.parseErr
}

func (f *fakeDocs) GetDocumentParseProgress(_ context.Context, docID string) (models.DocumentProgress, error) {
	p, ok := f.progress[docID]
	if !ok {
		return models.DocumentProgress{}, fmt.Errorf("document %s: %w", docID, core.ErrNotFound)
	}
	return p, nil
}

func (f *fakeDocs) GetKnowledgebaseParseProgress(context.Context, string) ([]models.DocumentProgressRow, error) {
	return f.kbRows, nil
}

type fakeIngest struct {
	asyncErr error
	tasks    map[string]models.TaskState
	start    models.BatchStartResult
	startErr error
	batch    models.BatchTask
}

func (f *fakeIngest) AsyncParseDocument(_ context.Context, docID string) (models.AsyncParseResult, error) {
	if f.asyncErr != nil {
		return models.AsyncParseResult{}, f.asyncErr
	}
	return models.AsyncParseResult{TaskID: docID, Status: "processing", Message: "queued"}, nil
}

func (f *fakeIngest) Task(id string) (models.TaskState, error) {
	st, ok := f.tasks[id]
	if !ok {
		return models.TaskState{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return st, nil
}

func (f *fakeIngest) StartBatchParse(context.Context, string) (models.BatchStartResult, error) {
	return f.start, f.startErr
}

func (f *fakeIngest) BatchParseProgress(context.Context, string) (models.BatchTask, error) {
	return f.batch, nil
}

type fakeEmbeddings struct {
	cfg       *models.EmbeddingConfig
	saved     *models.EmbeddingConfig
	setResult models.ActionResult
	tested    *models.EmbeddingConfig
	testCalls int
}

func (f *fakeEmbeddings) SystemConfig(context.Context) (*models.EmbeddingConfig, error) {
	return f.cfg, nil
}

func (f *fakeEmbeddings) SetSystemConfig(_ context.Context, cfg models.EmbeddingConfig) (models.ActionResult, error) {
	if cfg.LLMName == "" {
		return models.ActionResult{}, fmt.Errorf("llm_name is required: %w", core.ErrInvalidInput)
	}
	f.saved = &cfg
	return f.setResult, nil
}

func (f *fakeEmbeddings) TestConnection(_ context.Context, cfg *models.EmbeddingConfig) (models.ActionResult, error) {
	f.testCalls++
	f.tested = cfg
	return models.ActionResult{Success: true, Message: "ok"}, nil
}

func newRouter(docs *fakeDocs, ingest *fakeIngest, emb *fakeEmbeddings) http.Handler {
	log := zap.NewNop()
	dh := NewDocumentHandler(docs, ingest, log)
	kh := NewKnowledgebaseHandler(docs, ingest, log)
	eh := NewEmbeddingHandler(emb)

	r := chi.NewRouter()
	r.Post("/documents/{id}/parse", dh.Parse)
	r.Post("/documents/{id}/parse/async", dh.ParseAsync)
	r.Get("/documents/{id}/parse/progress", dh.Progress)
	r.Get("/tasks/{id}", dh.Task)
	r.Post("/knowledgebases/{id}/batch-parse", kh.StartBatch)
	r.Get("/knowledgebases/{id}/batch-parse/progress", kh.BatchProgress)
	r.Get("/knowledgebases/{id}/parse/progress", kh.Progress)
	r.Get("/system/embedding", eh.Get)
	r.Put("/system/embedding", eh.Set)
	r.Post("/system/embedding/test", eh.Test)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestParseHandler(t *testing.T) {
	t.Run("failed parse is reported in the body", func(t *testing.T) {
		docs := &fakeDocs{parse: models.ParseResult{Success: false, Error: "unsupported document type"}}
		rec := do(t, newRouter(docs, &fakeIngest{}, &fakeEmbeddings{}), http.MethodPost, "/documents/D1/parse", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		res := decode[models.ParseResult](t, rec)
		assert.False(t, res.Success)
		assert.Equal(t, "unsupported document type", res.Error)
	})

	t.Run("missing document", func(t *testing.T) {
		docs := &fakeDocs{parseErr: fmt.Errorf("document D9: %w", core.ErrNotFound)}
		rec := do(t, newRouter(docs, &fakeIngest{}, &fakeEmbeddings{}), http.MethodPost, "/documents/D9/parse", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Error, "D9")
	})
}

func TestParseAsyncHandler(t *testing.T) {
	rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, &fakeEmbeddings{}), http.MethodPost, "/documents/D1/parse/async", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "D1", decode[models.AsyncParseResult](t, rec).TaskID)

	full := &fakeIngest{asyncErr: core.ErrQueueFull}
	rec = do(t, newRouter(&fakeDocs{}, full, &fakeEmbeddings{}), http.MethodPost, "/documents/D1/parse/async", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressAndTaskHandlers(t *testing.T) {
	docs := &fakeDocs{progress: map[string]models.DocumentProgress{
		"D1": {Progress: 0.6, Message: "decoded", Status: models.StatusParsing, Running: models.RunRunning},
	}}
	ingest := &fakeIngest{tasks: map[string]models.TaskState{"D1": {TaskID: "D1", DocID: "D1", State: models.TaskRunning}}}
	h := newRouter(docs, ingest, &fakeEmbeddings{})

	rec := do(t, h, http.MethodGet, "/documents/D1/parse/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.6, decode[models.DocumentProgress](t, rec).Progress, 1e-9)

	rec = do(t, h, http.MethodGet, "/documents/D2/parse/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/tasks/D1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TaskRunning, decode[models.TaskState](t, rec).State)

	rec = do(t, h, http.MethodGet, "/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartBatchHandler(t *testing.T) {
	tests := []struct {
		name   string
		ingest *fakeIngest
		want   int
	}{
		{"started", &fakeIngest{start: models.BatchStartResult{Success: true, Message: "batch parse started"}}, http.StatusAccepted},
		{"already running", &fakeIngest{start: models.BatchStartResult{Success: false, Message: "already running"}}, http.StatusConflict},
		{"unknown kb", &fakeIngest{startErr: fmt.Errorf("knowledge base K9: %w", core.ErrNotFound)}, http.StatusNotFound},
		{"store down", &fakeIngest{startErr: errors.New("connection refused")}, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newRouter(&fakeDocs{}, tc.ingest, &fakeEmbeddings{}), http.MethodPost, "/knowledgebases/K1/batch-parse", "")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestKnowledgebaseProgressHandlers(t *testing.T) {
	docs := &fakeDocs{kbRows: []models.DocumentProgressRow{{ID: "D1", Name: "a.pdf", Status: models.StatusDone, Running: models.RunDone}}}
	ingest := &fakeIngest{batch: models.BatchTask{Status: models.BatchRunning, Total: 3, Current: 1}}
	h := newRouter(docs, ingest, &fakeEmbeddings{})

	rec := do(t, h, http.MethodGet, "/knowledgebases/K1/batch-parse/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[models.BatchTask](t, rec)
	assert.Equal(t, models.BatchRunning, task.Status)
	assert.Equal(t, 3, task.Total)

	rec = do(t, h, http.MethodGet, "/knowledgebases/K1/parse/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[kbProgressResponse](t, rec).Documents
	require.Len(t, rows, 1)
	assert.Equal(t, "a.pdf", rows[0].Name)
}

func TestEmbeddingHandlers(t *testing.T) {
	t.Run("get hides the key", func(t *testing.T) {
		emb := &fakeEmbeddings{cfg: &models.EmbeddingConfig{LLMName: "bge-m3", APIBase: "http://emb:8000", APIKey: "secret"}}
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, emb), http.MethodGet, "/system/embedding", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret")
		got := decode[embeddingConfigResponse](t, rec)
		assert.True(t, got.Configured)
		assert.True(t, got.HasAPIKey)
		assert.Equal(t, "bge-m3", got.LLMName)
	})

	t.Run("get without config", func(t *testing.T) {
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, &fakeEmbeddings{}), http.MethodGet, "/system/embedding", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[embeddingConfigResponse](t, rec).Configured)
	})

	t.Run("set", func(t *testing.T) {
		emb := &fakeEmbeddings{setResult: models.ActionResult{Success: true, Message: "saved"}}
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, emb), http.MethodPut, "/system/embedding",
			`{"llm_name":"bge-m3","api_base":"http://emb:8000","api_key":"k"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, emb.saved)
		assert.Equal(t, "http://emb:8000", emb.saved.APIBase)
	})

	t.Run("set with failing connection test", func(t *testing.T) {
		emb := &fakeEmbeddings{setResult: models.ActionResult{Success: false, Message: "connection refused"}}
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, emb), http.MethodPut, "/system/embedding", `{"llm_name":"bge-m3"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, decode[models.ActionResult](t, rec).Success)
	})

	t.Run("set rejects bad input", func(t *testing.T) {
		h := newRouter(&fakeDocs{}, &fakeIngest{}, &fakeEmbeddings{})
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/system/embedding", `{"llm_name":`).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/system/embedding", `{}`).Code)
	})

	t.Run("test uses stored config on empty body", func(t *testing.T) {
		emb := &fakeEmbeddings{}
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, emb), http.MethodPost, "/system/embedding/test", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, emb.testCalls)
		assert.Nil(t, emb.tested)
	})

	t.Run("test posted config", func(t *testing.T) {
		emb := &fakeEmbeddings{}
		rec := do(t, newRouter(&fakeDocs{}, &fakeIngest{}, emb), http.MethodPost, "/system/embedding/test", `{"llm_name":"nomic-embed-text","api_base":"localhost:11434"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, emb.tested)
		assert.Equal(t, "nomic-embed-text", emb.tested.LLMName)
	})
}

func TestStartBatchRejectionCarriesResult(t *testing.T) {
	ingest := &fakeIngest{start: models.BatchStartResult{Success: false, Message: "batch parse for K1 is already running"}}
	rec := do(t, newRouter(&fakeDocs{}, ingest, &fakeEmbeddings{}), http.MethodPost, "/knowledgebases/K1/batch-parse", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	res := decode[models.BatchStartResult](t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, "batch parse for K1 is already running", res.Message)
}

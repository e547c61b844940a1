package ingestion_engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/llm"
	"github.com/markdave123-py/kbparse/internal/models"
)

type fakeDB struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	kbs      map[string]*models.Knowledgebase
	updates  []models.ProgressUpdate
	tasks    []models.ParseTask
	progress []float64
}

func newFakeDB(doc *models.Document, kb *models.Knowledgebase) *fakeDB {
	return &fakeDB{
		docs: map[string]*models.Document{doc.ID: doc},
		kbs:  map[string]*models.Knowledgebase{kb.ID: kb},
	}
}

func (f *fakeDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	return f.docs[id], nil
}
func (f *fakeDB) GetFileForDocument(context.Context, string) (*models.File, error) { return nil, nil }
func (f *fakeDB) GetKnowledgebaseByID(_ context.Context, id string) (*models.Knowledgebase, error) {
	return f.kbs[id], nil
}

func (f *fakeDB) UpdateDocumentProgress(_ context.Context, id string, upd models.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	d := f.docs[id]
	if upd.Progress != nil {
		d.Progress = *upd.Progress
		f.progress = append(f.progress, *upd.Progress)
	}
	if upd.Message != nil {
		d.ProgressMsg = *upd.Message
	}
	if upd.Status != nil {
		d.Status = *upd.Status
	}
	if upd.Run != nil {
		d.Run = *upd.Run
	}
	if upd.ProcessDuration != nil {
		d.ProcessDuration = *upd.ProcessDuration
	}
	return nil
}

func (f *fakeDB) CompleteParse(_ context.Context, c models.ParseCompletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[c.DocID]
	d.Progress, d.ProgressMsg = 1, c.Message
	d.Status, d.Run = models.StatusDone, models.RunDone
	d.ChunkNum = c.ChunkCount
	d.ProcessDuration = c.ProcessDuration
	f.kbs[c.KbID].ChunkNum += c.ChunkCount
	f.tasks = append(f.tasks, c.Task)
	return nil
}

func (f *fakeDB) ListUnparsedDocuments(context.Context, string) ([]models.Document, error) {
	return nil, nil
}
func (f *fakeDB) ListKnowledgebaseDocuments(context.Context, string) ([]models.Document, error) {
	return nil, nil
}
func (f *fakeDB) GetEarliestUser(context.Context) (*models.User, error) { return nil, nil }
func (f *fakeDB) GetEmbeddingConfig(context.Context, string) (*models.EmbeddingConfig, error) {
	return nil, nil
}
func (f *fakeDB) SaveEmbeddingConfig(context.Context, string, models.EmbeddingConfig) error {
	return nil
}
func (f *fakeDB) Close() error { return nil }

type storedObject struct {
	data        []byte
	contentType string
}

type fakeObjects struct {
	mu       sync.Mutex
	buckets  map[string]map[string]storedObject
	policies map[string]string
	// virtualHosted serves objects the way AWS S3 does, bucket in the host.
	virtualHosted bool
}

func newFakeObjects(buckets ...string) *fakeObjects {
	f := &fakeObjects{buckets: map[string]map[string]storedObject{}, policies: map[string]string{}}
	for _, b := range buckets {
		f.buckets[b] = map[string]storedObject{}
	}
	return f
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok, nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = map[string]storedObject{}
	return nil
}

func (f *fakeObjects) SetBucketPolicy(_ context.Context, bucket, policy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[bucket] = policy
	return nil
}

func (f *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, ct string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return "", errors.New("no such bucket")
	}
	b[key] = storedObject{data: data, contentType: ct}
	return f.ObjectURL(bucket, key), nil
}

func (f *fakeObjects) DeleteFile(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets[bucket], key)
	return nil
}

func (f *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return obj.data, nil
}

func (f *fakeObjects) ObjectURL(bucket, key string) string {
	if f.virtualHosted {
		return "https://" + bucket + ".s3.us-east-2.amazonaws.com/" + key
	}
	return "http://minio:9000/" + bucket + "/" + key
}

type fakeIndex struct {
	mu        sync.Mutex
	ensured   map[string]int
	upserts   map[string][]models.Chunk
	upsertErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{ensured: map[string]int{}, upserts: map[string][]models.Chunk{}}
}

func (f *fakeIndex) EnsureTable(_ context.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[name] = dim
	return nil
}

func (f *fakeIndex) UpsertBatch(_ context.Context, name string, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts[name] = append(f.upserts[name], chunks...)
	return nil
}

func (f *fakeIndex) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.upserts {
		n += len(c)
	}
	return n
}

func (f *fakeIndex) Close() error { return nil }

// fakeAnalyzer returns canned content and drops the named images into ImageDir.
type fakeAnalyzer struct {
	analysis   core.Analysis
	images     []string
	method     core.ParseMethod
	classified int
	analyzed   int
	lastMethod core.ParseMethod
}

func (f *fakeAnalyzer) Classify(context.Context, *core.SourceDocument) (core.ParseMethod, error) {
	f.classified++
	if f.method == "" {
		return core.MethodText, nil
	}
	return f.method, nil
}

func (f *fakeAnalyzer) Analyze(_ context.Context, doc *core.SourceDocument, m core.ParseMethod) (*core.Analysis, error) {
	f.analyzed++
	f.lastMethod = m
	for _, name := range f.images {
		if err := os.WriteFile(filepath.Join(doc.ImageDir, name), []byte("img:"+name), 0o644); err != nil {
			return nil, err
		}
	}
	a := f.analysis
	return &a, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls []string
	err   error
	// onEmbed runs before each call, e.g. to cancel the caller's context.
	onEmbed func()
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.onEmbed != nil {
		f.onEmbed()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) factory() EmbedderFactory {
	return func(context.Context, llm.Settings) (core.EmbeddingProvider, error) { return f, nil }
}

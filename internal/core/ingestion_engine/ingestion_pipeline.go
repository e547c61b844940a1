package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/index"
	objectclient "github.com/markdave123-py/kbparse/internal/core/object-client"
	"github.com/markdave123-py/kbparse/internal/models"
)

// Parser runs one document through fetch, decode, chunk, embed and persist.
type Parser struct {
	db          core.DbClient
	obj         core.ObjectClient
	index       core.IndexStore
	layout      core.Analyzer
	sheets      core.Analyzer
	newEmbedder EmbedderFactory
	cfg         IngestConfig
	log         *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewParser(
	db core.DbClient,
	obj core.ObjectClient,
	idx core.IndexStore,
	layout core.Analyzer,
	sheets core.Analyzer,
	newEmbedder EmbedderFactory,
	cfg IngestConfig,
	log *zap.Logger,
) *Parser {
	return &Parser{
		db:          db,
		obj:         obj,
		index:       idx,
		layout:      layout,
		sheets:      sheets,
		newEmbedder: newEmbedder,
		cfg:         cfg.withDefaults(),
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Parse never returns an error: failures are written to the document row and
// reported in the result. A started parse runs to completion even when ctx is
// cancelled; only ctx values are kept.
func (p *Parser) Parse(ctx context.Context, req ParseRequest) models.ParseResult {
	ctx = context.WithoutCancel(ctx)
	doc := req.Document
	log := p.log.With(zap.String("doc_id", doc.ID), zap.String("kb_id", doc.KbID))
	start := p.now()

	count, err := p.run(ctx, req, start, log)
	if err != nil {
		log.Error("parse failed", zap.Error(err))
		p.markFailed(ctx, doc.ID, err, p.now().Sub(start).Seconds(), log)
		return models.ParseResult{Success: false, Error: err.Error()}
	}
	log.Info("parse complete", zap.Int("chunks", count), zap.Duration("took", p.now().Sub(start)))
	return models.ParseResult{Success: true, ChunkCount: count}
}

func (p *Parser) run(ctx context.Context, req ParseRequest, start time.Time, log *zap.Logger) (int, error) {
	doc, file, kb := req.Document, req.File, req.Knowledgebase
	if file == nil || kb == nil {
		return 0, fmt.Errorf("document %s: file or knowledge base missing: %w", doc.ID, core.ErrNotFound)
	}

	emb, err := p.newEmbedder(ctx, req.Embedding)
	if err != nil {
		return 0, fmt.Errorf("embedding client: %w", err)
	}
	if c, ok := emb.(io.Closer); ok {
		defer c.Close()
	}
	log.Debug("embedding client ready", zap.String("embedder", emb.Name()))

	// fetch
	bucket := file.ParentID
	exists, err := p.obj.BucketExists(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", core.ErrBucketNotFound, bucket)
	}
	p.progress(ctx, doc.ID, 0.1, "fetching file from storage: "+doc.Location, log)
	data, err := p.obj.GetFile(ctx, bucket, doc.Location)
	if err != nil {
		return 0, fmt.Errorf("get %s/%s: %w", bucket, doc.Location, err)
	}
	p.progress(ctx, doc.ID, 0.2, "file fetched", log)

	scratch, err := os.MkdirTemp(p.cfg.TempDir, "kbparse-")
	if err != nil {
		return 0, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)
	imageDir := filepath.Join(scratch, "images")
	if err := os.Mkdir(imageDir, 0o755); err != nil {
		return 0, fmt.Errorf("scratch image dir: %w", err)
	}

	// decode
	analysis, err := p.decode(ctx, doc, data, imageDir, log)
	if err != nil {
		return 0, err
	}
	p.progress(ctx, doc.ID, 0.6, fmt.Sprintf("decoded %d content blocks", len(analysis.Content)), log)

	geo := FlattenGeometry(analysis.Middle)
	if analysis.Middle != nil && len(geo) < len(analysis.Content) {
		log.Warn("layout shorter than content list, using default geometry for the tail",
			zap.Int("layout", len(geo)), zap.Int("content", len(analysis.Content)))
	}
	p.progress(ctx, doc.ID, 0.8, "extracting chunks", log)
	pending, images := extractChunks(analysis.Content, geo, imageDir, log)

	// embed
	chunks := make([]models.Chunk, 0, len(pending))
	for _, pc := range pending {
		vec, err := emb.Embed(ctx, pc.Content)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", len(chunks), err)
		}
		if len(vec) != p.cfg.EmbedDim {
			msg := fmt.Sprintf("embedding has %d dimensions, want %d; use a %d-dim model such as bge-m3",
				len(vec), p.cfg.EmbedDim, p.cfg.EmbedDim)
			p.progress(ctx, doc.ID, -5, msg, log)
			return 0, fmt.Errorf("%w: %s", core.ErrDimensionMismatch, msg)
		}
		chunks = append(chunks, buildChunk(p.newID(), doc, pc, vec, p.now()))
	}

	// persist
	p.progress(ctx, doc.ID, 0.95, "saving parse results", log)
	committed := false
	defer func() {
		if !committed {
			p.discardBlobs(ctx, doc.KbID, chunks, images, log)
		}
	}()
	if err := p.persistBlobs(ctx, doc.KbID, chunks, images, log); err != nil {
		return 0, err
	}
	associateImages(doc.KbID, chunks, images)

	table := index.TableName(index.IndexName(p.cfg.IndexPrefix, kb.CreatedBy), doc.KbID)
	if err := p.index.EnsureTable(ctx, table, p.cfg.EmbedDim); err != nil {
		return 0, fmt.Errorf("ensure index %s: %w", table, err)
	}
	if len(chunks) > 0 {
		if err := p.index.UpsertBatch(ctx, table, chunks); err != nil {
			return 0, fmt.Errorf("upsert into %s: %w", table, err)
		}
	}

	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	elapsed := p.now().Sub(start).Seconds()
	done := models.ParseCompletion{
		DocID:           doc.ID,
		KbID:            doc.KbID,
		ChunkCount:      len(chunks),
		ProcessDuration: elapsed,
		Message:         "parse complete",
		Task: models.ParseTask{
			ID:          p.newID(),
			DocID:       doc.ID,
			FromPage:    0,
			ToPage:      1,
			Progress:    1.0,
			ProgressMsg: "parse complete",
			RetryCount:  1,
			Digest:      doc.ID + "_0_1",
			ChunkIDs:    strings.Join(ids, " "),
			CreatedAt:   p.now(),
		},
	}
	if err := p.db.CompleteParse(ctx, done); err != nil {
		return 0, fmt.Errorf("finalise parse: %w", err)
	}
	committed = true
	return len(chunks), nil
}

func (p *Parser) decode(ctx context.Context, doc *models.Document, data []byte, imageDir string, log *zap.Logger) (*core.Analysis, error) {
	family, kind, err := decoderFor(doc.Type)
	if err != nil {
		p.progress(ctx, doc.ID, 0.3, "unsupported file type: "+doc.Type, log)
		return nil, err
	}
	p.progress(ctx, doc.ID, 0.3, fmt.Sprintf("using %s decoder", family), log)

	src := &core.SourceDocument{
		Name:     sourceName(doc.Name, doc.Location),
		Kind:     kind,
		Data:     data,
		ImageDir: imageDir,
	}

	backend := p.layout
	method := core.MethodText
	if family == familyExcel {
		backend = p.sheets
		p.progress(ctx, doc.ID, 0.4, "spreadsheet, no ocr", log)
	} else {
		method, err = backend.Classify(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", doc.Name, err)
		}
		p.progress(ctx, doc.ID, 0.4, fmt.Sprintf("parse mode: %s", method), log)
	}

	analysis, err := backend.Analyze(ctx, src, method)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.Name, err)
	}
	return analysis, nil
}

// persistBlobs writes chunk text and images to the kb bucket. Image keys are
// assigned in place.
func (p *Parser) persistBlobs(ctx context.Context, kbID string, chunks []models.Chunk, images []pendingImage, log *zap.Logger) error {
	exists, err := p.obj.BucketExists(ctx, kbID)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", kbID, err)
	}
	if !exists {
		if err := p.obj.MakeBucket(ctx, kbID); err != nil {
			return fmt.Errorf("create bucket %s: %w", kbID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PersistConcurrency)

	for i := range chunks {
		ch := &chunks[i]
		g.Go(func() error {
			if _, err := p.obj.UploadFile(gctx, kbID, ch.ID, []byte(ch.Content), ""); err != nil {
				return fmt.Errorf("store chunk %s: %w", ch.ID, err)
			}
			return nil
		})
	}
	for i := range images {
		img := &images[i]
		img.Key = "images/" + p.newID() + img.Ext
		g.Go(func() error {
			raw, err := os.ReadFile(img.Path)
			if err != nil {
				return fmt.Errorf("read image %s: %w", img.Path, err)
			}
			url, err := p.obj.UploadFile(gctx, kbID, img.Key, raw, objectclient.ImageContentType(img.Ext))
			if err != nil {
				return fmt.Errorf("upload image %s: %w", img.Path, err)
			}
			log.Debug("image stored", zap.String("key", img.Key), zap.String("url", url))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(images) > 0 {
		policy, err := objectclient.PublicReadPolicy(kbID, "images/")
		if err != nil {
			return err
		}
		if err := p.obj.SetBucketPolicy(ctx, kbID, policy); err != nil {
			return fmt.Errorf("set image policy on %s: %w", kbID, err)
		}
	}
	return nil
}

// discardBlobs removes what persistBlobs may have written for a parse that
// did not complete. Index rows already upserted are left in place.
func (p *Parser) discardBlobs(ctx context.Context, kbID string, chunks []models.Chunk, images []pendingImage, log *zap.Logger) {
	keys := make([]string, 0, len(chunks)+len(images))
	for _, ch := range chunks {
		keys = append(keys, ch.ID)
	}
	for _, img := range images {
		if img.Key != "" {
			keys = append(keys, img.Key)
		}
	}
	for _, key := range keys {
		if err := p.obj.DeleteFile(ctx, kbID, key); err != nil {
			log.Warn("orphaned blob", zap.String("bucket", kbID), zap.String("key", key), zap.Error(err))
		}
	}
}

func (p *Parser) progress(ctx context.Context, docID string, prog float64, msg string, log *zap.Logger) {
	log.Debug("progress", zap.Float64("progress", prog), zap.String("message", msg))
	upd := models.ProgressUpdate{Progress: &prog, Message: &msg}
	if err := p.db.UpdateDocumentProgress(ctx, docID, upd); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}
}

func (p *Parser) markFailed(ctx context.Context, docID string, cause error, elapsed float64, log *zap.Logger) {
	msg := "parse failed: " + cause.Error()
	status, run := models.StatusDone, models.RunFailed
	upd := models.ProgressUpdate{
		Message:         &msg,
		Status:          &status,
		Run:             &run,
		ProcessDuration: &elapsed,
	}
	// ctx may be the reason we failed.
	if err := p.db.UpdateDocumentProgress(context.WithoutCancel(ctx), docID, upd); err != nil {
		log.Error("could not record parse failure", zap.Error(err))
	}
}

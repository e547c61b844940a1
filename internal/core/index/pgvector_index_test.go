package index

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/models"
)

func TestNaming(t *testing.T) {
	assert.Equal(t, "ragflow_t1", IndexName("ragflow", "t1"))
	assert.Equal(t, "ragflow_t1_kb1", TableName(IndexName("ragflow", "t1"), "kb1"))
	assert.Equal(t, "q_1024_vec", VectorColumn(1024))
	assert.Equal(t, "{1,2}", intArrayLiteral([]int{1, 2}))
	assert.Equal(t, "{}", intArrayLiteral(nil))
}

func TestCreateTableSQL(t *testing.T) {
	q := createTableSQL("ragflow_t1_kb1", 4)
	assert.Contains(t, q, `CREATE TABLE IF NOT EXISTS "ragflow_t1_kb1"`)
	assert.Contains(t, q, "q_4_vec vector(4)")
	assert.Contains(t, q, "CREATE EXTENSION IF NOT EXISTS vector")
}

func TestPgTableNameFitsIdentifierLimit(t *testing.T) {
	assert.Equal(t, "ragflow_t1_kb1", pgTableName("ragflow_t1_kb1"))

	index := IndexName("ragflow", "3f2b9c0e8d4a4b1f9e6c7a5d2b1e0f9a")
	kb1 := TableName(index, "0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f")
	kb2 := TableName(index, "0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e60")
	require.Greater(t, len(kb1), maxIdentLen)

	short1, short2 := pgTableName(kb1), pgTableName(kb2)
	assert.Len(t, short1, maxTableLen)
	assert.Equal(t, short1, pgTableName(kb1))
	assert.NotEqual(t, short1, short2)
	assert.LessOrEqual(t, len(short1+docIdxSuffix), maxIdentLen)

	q := createTableSQL(kb1, 4)
	assert.Contains(t, q, `CREATE TABLE IF NOT EXISTS "`+short1+`"`)
	assert.Contains(t, q, `CREATE INDEX IF NOT EXISTS "`+short1+docIdxSuffix+`" ON "`+short1+`"`)
	assert.NotContains(t, q, kb1)
	assert.Contains(t, upsertSQL(kb2, 4), `INSERT INTO "`+short2+`"`)
}

func TestUpsertSQL(t *testing.T) {
	q := upsertSQL("idx", 4)
	assert.Contains(t, q, `INSERT INTO "idx" (id, doc_id,`)
	assert.Contains(t, q, "$10::integer[], $11::jsonb, $12::integer[]")
	assert.Contains(t, q, "$16)")
	assert.Contains(t, q, "ON CONFLICT (id) DO UPDATE SET doc_id = EXCLUDED.doc_id")
	assert.Contains(t, q, "q_4_vec = EXCLUDED.q_4_vec")
	assert.NotContains(t, q, "id = EXCLUDED.id,")
}

func sampleChunk(id string, dim int) models.Chunk {
	return models.Chunk{
		ID: id, DocID: "d1", KbID: "kb1", DocName: "a.pdf",
		Content:  "hello",
		PageNum:  []int{1},
		Position: [][]int{{1, 10, 30, 20, 40}},
		Top:      []int{1},
		Vector:   make([]float32, dim),
	}
}

func TestEnsureTableOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "t"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	idx := NewPgVectorIndex(db)
	require.NoError(t, idx.EnsureTable(context.Background(), "t", 4))
	require.NoError(t, idx.EnsureTable(context.Background(), "t", 4))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "t"`))
	prep.ExpectExec().
		WithArgs("c1", "d1", "kb1", "a.pdf", "", "", "hello", "", "",
			"{1}", "[[1,10,30,20,40]]", "{1}", "", 0.0, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	idx := NewPgVectorIndex(db)
	err = idx.UpsertBatch(context.Background(), "t", []models.Chunk{sampleChunk("c1", 4), sampleChunk("c2", 4)})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO").ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	idx := NewPgVectorIndex(db)
	err = idx.UpsertBatch(context.Background(), "t", []models.Chunk{sampleChunk("c1", 4)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchMixedDims(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	idx := NewPgVectorIndex(db)
	err = idx.UpsertBatch(context.Background(), "t", []models.Chunk{sampleChunk("c1", 4), sampleChunk("c2", 3)})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestUpsertBatchEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewPgVectorIndex(db).UpsertBatch(context.Background(), "t", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package models

import (
	"time"
)

// Run codes stored in document.run.
const (
	RunNotStarted = "0"
	RunRunning    = "1"
	RunCancelled  = "2"
	RunDone       = "3"
	RunFailed     = "4"
)

// Status codes stored in document.status.
const (
	StatusCreated = "0"
	StatusDone    = "1"
	StatusParsing = "2"
)

// User is only read to find the system tenant (earliest user).
type User struct {
	ID         string    `db:"id" json:"id"`
	Nickname   string    `db:"nickname" json:"nickname"`
	Email      string    `db:"email" json:"email"`
	CreateTime int64     `db:"create_time" json:"create_time"`
	CreateDate time.Time `db:"create_date" json:"create_date"`
}

// Knowledgebase owns documents and the output bucket named after its id.
type Knowledgebase struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	TenantID  string `db:"tenant_id" json:"tenant_id"`
	CreatedBy string `db:"created_by" json:"created_by"`
	DocNum    int    `db:"doc_num" json:"doc_num"`
	ChunkNum  int    `db:"chunk_num" json:"chunk_num"`
}

// File is the uploaded blob; ParentID doubles as its source bucket.
type File struct {
	ID       string `db:"id" json:"id"`
	ParentID string `db:"parent_id" json:"parent_id"`
	Name     string `db:"name" json:"name"`
	Location string `db:"location" json:"location"`
	Size     int64  `db:"size" json:"size"`
	Type     string `db:"type" json:"type"`
}

// Document is one file attached to a knowledge base and its parse state.
type Document struct {
	ID              string    `db:"id" json:"id"`
	KbID            string    `db:"kb_id" json:"kb_id"`
	Name            string    `db:"name" json:"name"`
	Location        string    `db:"location" json:"location"` // object key inside the source bucket
	Type            string    `db:"type" json:"type"`         // pdf | word | excel | ppt | txt | md | html | visual
	ParserID        string    `db:"parser_id" json:"parser_id"`
	ParserConfig    string    `db:"parser_config" json:"parser_config"`
	CreatedBy       string    `db:"created_by" json:"created_by"`
	Progress        float64   `db:"progress" json:"progress"`
	ProgressMsg     string    `db:"progress_msg" json:"progress_msg"`
	Status          string    `db:"status" json:"status"`
	Run             string    `db:"run" json:"run"`
	ChunkNum        int       `db:"chunk_num" json:"chunk_num"`
	ProcessDuration float64   `db:"process_duation" json:"process_duration"`
	CreateDate      time.Time `db:"create_date" json:"create_date"`
	UpdateDate      time.Time `db:"update_date" json:"update_date"`
}

// ProgressUpdate is a partial update of a document's parse fields. Nil fields are left alone.
type ProgressUpdate struct {
	Progress        *float64
	Message         *string
	Status          *string
	Run             *string
	ChunkNum        *int
	ProcessDuration *float64
}

// Empty reports whether the update would not change anything.
func (u ProgressUpdate) Empty() bool {
	return u.Progress == nil && u.Message == nil && u.Status == nil &&
		u.Run == nil && u.ChunkNum == nil && u.ProcessDuration == nil
}

// ParseTask is the audit row written for each completed parse.
type ParseTask struct {
	ID          string    `db:"id" json:"id"`
	DocID       string    `db:"doc_id" json:"doc_id"`
	FromPage    int       `db:"from_page" json:"from_page"`
	ToPage      int       `db:"to_page" json:"to_page"`
	Progress    float64   `db:"progress" json:"progress"`
	ProgressMsg string    `db:"progress_msg" json:"progress_msg"`
	RetryCount  int       `db:"retry_count" json:"retry_count"`
	Digest      string    `db:"digest" json:"digest"`
	ChunkIDs    string    `db:"chunk_ids" json:"chunk_ids"` // space separated
	TaskType    string    `db:"task_type" json:"task_type"`
	CreatedAt   time.Time `db:"create_time" json:"created_at"`
}

// ParseCompletion groups the writes made once a parse succeeds.
type ParseCompletion struct {
	DocID           string
	KbID            string
	ChunkCount      int
	ProcessDuration float64
	Message         string
	Task            ParseTask
}

// EmbeddingConfig is a tenant_llm row of model_type 'embedding'.
type EmbeddingConfig struct {
	LLMName string `db:"llm_name" json:"llm_name"`
	APIBase string `db:"api_base" json:"api_base"`
	APIKey  string `db:"api_key" json:"api_key"`
}

// Chunk is one record written to the search index.
type Chunk struct {
	ID                 string    `json:"id"`
	DocID              string    `json:"doc_id"`
	KbID               string    `json:"kb_id"`
	DocName            string    `json:"docnm_kwd"`
	TitleTks           string    `json:"title_tks"`
	TitleSmTks         string    `json:"title_sm_tks"`
	Content            string    `json:"content_with_weight"`
	ContentLtks        string    `json:"content_ltks"`
	ContentSmLtks      string    `json:"content_sm_ltks"`
	PageNum            []int     `json:"page_num_int"`
	Position           [][]int   `json:"position_int"`
	Top                []int     `json:"top_int"`
	CreateTime         string    `json:"create_time"`
	CreateTimestampFlt float64   `json:"create_timestamp_flt"`
	ImgID              string    `json:"img_id"`
	Vector             []float32 `json:"-"`
}

// ParseResult is returned by a single document parse.
type ParseResult struct {
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AsyncParseResult acknowledges a queued parse.
type AsyncParseResult struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// DocumentProgress is the polling view of one document.
type DocumentProgress struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Status   string  `json:"status"`
	Running  string  `json:"running"`
}

// DocumentProgressRow is one entry of a knowledge base progress listing.
type DocumentProgressRow struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Progress    float64 `json:"progress"`
	ProgressMsg string  `json:"progress_msg"`
	Status      string  `json:"status"`
	Running     string  `json:"running"`
}

// Batch task states.
const (
	BatchStarting  = "starting"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
	BatchNotFound  = "not_found"
)

// BatchTask tracks one knowledge base's sequential batch parse.
type BatchTask struct {
	Status    string  `json:"status"`
	Total     int     `json:"total"`
	Current   int     `json:"current"`
	Message   string  `json:"message"`
	StartTime float64 `json:"start_time"`
}

// Active reports whether a batch is still in flight.
func (t BatchTask) Active() bool {
	return t.Status == BatchStarting || t.Status == BatchRunning
}

// ActionResult is the {success, message} answer of a command.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BatchStartResult answers a batch start request.
type BatchStartResult = ActionResult

// Async task states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// TaskState is the lifecycle of one queued parse.
type TaskState struct {
	TaskID     string    `json:"task_id"`
	DocID      string    `json:"doc_id"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	logger "github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// BatchStatus represents the state of a batch ingestion run.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "PENDING"
	BatchStatusAnalyzing           BatchStatus = "ANALYZING"
	BatchStatusChunked             BatchStatus = "CHUNKED"
	BatchStatusProcessing          BatchStatus = "PROCESSING"
	BatchStatusCompleted           BatchStatus = "COMPLETED"
	BatchStatusCompletedWithErrors BatchStatus = "COMPLETED_WITH_ERRORS"
	BatchStatusFailed              BatchStatus = "FAILED"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished checks if the BatchStatus represents a terminal state.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	default:
		return false
	}
}

// ChunkStatus represents the state of a single chunk of a batch.
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "PENDING"
	ChunkStatusProcessing ChunkStatus = "PROCESSING"
	ChunkStatusCompleted  ChunkStatus = "COMPLETED"
	ChunkStatusFailed     ChunkStatus = "FAILED"
)

// String returns the string representation of the ChunkStatus.
func (s ChunkStatus) String() string {
	return string(s)
}

// IsFinished checks if the ChunkStatus represents a terminal state.
func (s ChunkStatus) IsFinished() bool {
	return s == ChunkStatusCompleted || s == ChunkStatusFailed
}

// AttributeMap holds the column values of a source row keyed by header name.
type AttributeMap map[string]string

// Value implements the `driver.Valuer` interface, converting the AttributeMap to a JSON string.
func (am AttributeMap) Value() (driver.Value, error) {
	if am == nil {
		return "{}", nil
	}
	data, err := json.Marshal(am)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to an AttributeMap.
func (am *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*am = make(AttributeMap)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for AttributeMap: %T", value)
	}

	if len(b) == 0 {
		*am = make(AttributeMap)
		return nil
	}

	if err := json.Unmarshal(b, am); err != nil {
		return fmt.Errorf("failed to unmarshal AttributeMap JSON: %w", err)
	}
	return nil
}

// Copy returns a deep copy of the AttributeMap.
func (am AttributeMap) Copy() AttributeMap {
	cp := make(AttributeMap, len(am))
	for k, v := range am {
		cp[k] = v
	}
	return cp
}

// RowError records a single row-level failure inside a batch or chunk.
type RowError struct {
	// RowNumber is the 1-based data row number within the source file (header excluded).
	RowNumber int `json:"row_number"`
	// BusinessKey is the resolved key of the row, empty when resolution itself failed.
	BusinessKey string `json:"business_key,omitempty"`
	// Message is a concise description of the failure.
	Message string `json:"message"`
}

// RowErrorList holds the row-level failures of a batch or chunk.
type RowErrorList []RowError

// Value implements the `driver.Valuer` interface, converting RowErrorList to a JSON string.
func (rl RowErrorList) Value() (driver.Value, error) {
	if rl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(rl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to RowErrorList.
func (rl *RowErrorList) Scan(value interface{}) error {
	if value == nil {
		*rl = make(RowErrorList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RowErrorList: %T", value)
	}

	if len(b) == 0 {
		*rl = make(RowErrorList, 0)
		return nil
	}

	if err := json.Unmarshal(b, rl); err != nil {
		return fmt.Errorf("failed to unmarshal RowErrorList JSON: %w", err)
	}
	return nil
}

// LogEntries holds a list of processing log messages attached to a batch.
type LogEntries []string

// Value implements the `driver.Valuer` interface, converting LogEntries to a JSON string.
func (le LogEntries) Value() (driver.Value, error) {
	if le == nil {
		return "[]", nil
	}
	data, err := json.Marshal(le)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to LogEntries.
func (le *LogEntries) Scan(value interface{}) error {
	if value == nil {
		*le = make(LogEntries, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for LogEntries: %T", value)
	}

	if len(b) == 0 {
		*le = make(LogEntries, 0)
		return nil
	}

	if err := json.Unmarshal(b, le); err != nil {
		return fmt.Errorf("failed to unmarshal LogEntries JSON: %w", err)
	}
	return nil
}

// Batch is the top-level record of one uploaded source file being ingested.
type Batch struct {
	ID           string
	SourceFile   string
	UniqueColumn string
	Status       BatchStatus

	TotalRows  int
	ChunkSize  int
	ChunkCount int
	// Inline indicates the batch was small enough to process synchronously
	// without chunk jobs.
	Inline bool

	RecordsCreated     int
	RecordsUpdated     int
	RecordsDeactivated int
	RowsFailed         int
	RowErrors          RowErrorList
	Log                LogEntries

	CreatedAt   time.Time
	LastUpdated time.Time
	FinalizedAt *time.Time
	Version     int
}

// Chunk is one slice of a batch's rows processed by a single worker job.
type Chunk struct {
	ID      string
	BatchID string
	// Number is the 0-based position of the chunk within its batch.
	Number int
	// StartRow is the 1-based data row number of the chunk's first row.
	StartRow int
	RowCount int
	Status   ChunkStatus
	Attempts int

	// RowsProcessed counts the rows the last attempt actually walked through,
	// never more than RowCount. A cancelled attempt leaves it below RowCount.
	RowsProcessed int

	RecordsCreated int
	RecordsUpdated int
	RowsFailed     int
	RowErrors      RowErrorList

	StartedAt   *time.Time
	CompletedAt *time.Time
	LastUpdated time.Time
	Version     int
}

// TargetRecord is the durable destination row an ingested source row is upserted into.
// Records are keyed by BusinessKey; re-ingesting the same key overwrites the
// attributes and reactivates the record.
type TargetRecord struct {
	ID            string
	BusinessKey   string
	Attributes    AttributeMap
	SourceBatchID string
	SourceFile    string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewBatch creates a new Batch in the PENDING state.
func NewBatch(sourceFile, uniqueColumn string) *Batch {
	now := time.Now()
	return &Batch{
		ID:           NewID(),
		SourceFile:   sourceFile,
		UniqueColumn: uniqueColumn,
		Status:       BatchStatusPending,
		RowErrors:    make(RowErrorList, 0),
		Log:          make(LogEntries, 0),
		CreatedAt:    now,
		LastUpdated:  now,
		Version:      0,
	}
}

// NewChunk creates a new Chunk in the PENDING state.
func NewChunk(batchID string, number, startRow, rowCount int) *Chunk {
	return &Chunk{
		ID:          NewID(),
		BatchID:     batchID,
		Number:      number,
		StartRow:    startRow,
		RowCount:    rowCount,
		Status:      ChunkStatusPending,
		RowErrors:   make(RowErrorList, 0),
		LastUpdated: time.Now(),
		Version:     0,
	}
}

// NewTargetRecord creates a new active TargetRecord.
func NewTargetRecord(businessKey string, attrs AttributeMap, sourceBatchID, sourceFile string) *TargetRecord {
	now := time.Now()
	return &TargetRecord{
		ID:            NewID(),
		BusinessKey:   businessKey,
		Attributes:    attrs,
		SourceBatchID: sourceBatchID,
		SourceFile:    sourceFile,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       0,
	}
}

// isValidBatchTransition checks if the state transition for a Batch is valid.
// Transitions only move forward; terminal states never transition again.
func isValidBatchTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusPending:
		return next == BatchStatusAnalyzing || next == BatchStatusFailed
	case BatchStatusAnalyzing:
		// ANALYZING resolves to CHUNKED (async path), PROCESSING (inline path),
		// COMPLETED (zero data rows) or FAILED (unreadable input).
		return next == BatchStatusChunked || next == BatchStatusProcessing ||
			next == BatchStatusCompleted || next == BatchStatusFailed
	case BatchStatusChunked:
		return next == BatchStatusProcessing || next == BatchStatusFailed
	case BatchStatusProcessing:
		return next == BatchStatusCompleted || next == BatchStatusCompletedWithErrors || next == BatchStatusFailed
	case BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Batch.
// Fields other than Status and LastUpdated must be set separately by the caller.
func (b *Batch) TransitionTo(newStatus BatchStatus) error {
	if !isValidBatchTransition(b.Status, newStatus) {
		return fmt.Errorf("Batch (ID: %s): invalid state transition: %s -> %s", b.ID, b.Status, newStatus)
	}
	b.Status = newStatus
	b.LastUpdated = time.Now()
	return nil
}

// MarkAsAnalyzing updates the Batch status to ANALYZING.
func (b *Batch) MarkAsAnalyzing() {
	if err := b.TransitionTo(BatchStatusAnalyzing); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to ANALYZING: %v", b.ID, err)
		b.Status = BatchStatusAnalyzing
	}
	b.LastUpdated = time.Now()
}

// MarkAsChunked updates the Batch status to CHUNKED and records the chunk layout.
func (b *Batch) MarkAsChunked(chunkCount, chunkSize int) {
	if err := b.TransitionTo(BatchStatusChunked); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to CHUNKED: %v", b.ID, err)
		b.Status = BatchStatusChunked
	}
	b.ChunkCount = chunkCount
	b.ChunkSize = chunkSize
	b.LastUpdated = time.Now()
}

// MarkAsProcessing updates the Batch status to PROCESSING.
func (b *Batch) MarkAsProcessing() {
	if err := b.TransitionTo(BatchStatusProcessing); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to PROCESSING: %v", b.ID, err)
		b.Status = BatchStatusProcessing
	}
	b.LastUpdated = time.Now()
}

// MarkAsCompleted updates the Batch status to COMPLETED and stamps FinalizedAt.
func (b *Batch) MarkAsCompleted() {
	if err := b.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to COMPLETED: %v", b.ID, err)
		b.Status = BatchStatusCompleted
	}
	b.finalize()
}

// MarkAsCompletedWithErrors updates the Batch status to COMPLETED_WITH_ERRORS and stamps FinalizedAt.
func (b *Batch) MarkAsCompletedWithErrors() {
	if err := b.TransitionTo(BatchStatusCompletedWithErrors); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to COMPLETED_WITH_ERRORS: %v", b.ID, err)
		b.Status = BatchStatusCompletedWithErrors
	}
	b.finalize()
}

// MarkAsFailed updates the Batch status to FAILED, adds error information and stamps FinalizedAt.
func (b *Batch) MarkAsFailed(err error) {
	if terr := b.TransitionTo(BatchStatusFailed); terr != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to FAILED: %v", b.ID, terr)
		b.Status = BatchStatusFailed
	}
	if err != nil {
		b.AppendLog(exception.ExtractErrorMessage(err))
	}
	b.finalize()
}

// finalize stamps FinalizedAt exactly once.
func (b *Batch) finalize() {
	now := time.Now()
	if b.FinalizedAt == nil {
		b.FinalizedAt = &now
	}
	b.LastUpdated = now
}

// AppendLog adds a processing log message to the Batch. Duplicate messages are skipped.
func (b *Batch) AppendLog(msg string) {
	if msg == "" {
		return
	}
	for _, existing := range b.Log {
		if existing == msg {
			logger.Debugf("Skipped adding duplicate log entry '%s' to Batch (ID: %s).", msg, b.ID)
			return
		}
	}
	b.Log = append(b.Log, msg)
	b.LastUpdated = time.Now()
}

// AddRowError records a row-level failure on the Batch.
func (b *Batch) AddRowError(rowNumber int, businessKey string, err error) {
	if err == nil {
		return
	}
	b.RowErrors = append(b.RowErrors, RowError{
		RowNumber:   rowNumber,
		BusinessKey: businessKey,
		Message:     exception.ExtractErrorMessage(err),
	})
	b.RowsFailed = len(b.RowErrors)
	b.LastUpdated = time.Now()
}

// ProgressPercentage returns the completion ratio of the batch as 0..100.
// Terminal batches always report 100.
func (b *Batch) ProgressPercentage(chunksFinished int) float64 {
	if b.Status.IsFinished() {
		return 100
	}
	if b.ChunkCount == 0 {
		return 0
	}
	return float64(chunksFinished) / float64(b.ChunkCount) * 100
}

// isValidChunkTransition checks if the state transition for a Chunk is valid.
// PROCESSING may re-enter itself because a retried chunk job starts over.
func isValidChunkTransition(current, next ChunkStatus) bool {
	switch current {
	case ChunkStatusPending:
		return next == ChunkStatusProcessing || next == ChunkStatusFailed
	case ChunkStatusProcessing:
		return next == ChunkStatusProcessing || next == ChunkStatusCompleted || next == ChunkStatusFailed
	case ChunkStatusCompleted, ChunkStatusFailed:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Chunk.
func (c *Chunk) TransitionTo(newStatus ChunkStatus) error {
	if !isValidChunkTransition(c.Status, newStatus) {
		return fmt.Errorf("Chunk (ID: %s): invalid state transition: %s -> %s", c.ID, c.Status, newStatus)
	}
	c.Status = newStatus
	c.LastUpdated = time.Now()
	return nil
}

// MarkAsProcessing updates the Chunk status to PROCESSING and increments the attempt counter.
func (c *Chunk) MarkAsProcessing() {
	if err := c.TransitionTo(ChunkStatusProcessing); err != nil {
		logger.Warnf("Could not update Chunk (ID: %s) status to PROCESSING: %v", c.ID, err)
		c.Status = ChunkStatusProcessing
	}
	now := time.Now()
	if c.StartedAt == nil {
		c.StartedAt = &now
	}
	c.Attempts++
	c.LastUpdated = now
}

// MarkAsCompleted updates the Chunk status to COMPLETED.
func (c *Chunk) MarkAsCompleted() {
	if err := c.TransitionTo(ChunkStatusCompleted); err != nil {
		logger.Warnf("Could not update Chunk (ID: %s) status to COMPLETED: %v", c.ID, err)
		c.Status = ChunkStatusCompleted
	}
	now := time.Now()
	c.CompletedAt = &now
	c.LastUpdated = now
}

// MarkAsFailed updates the Chunk status to FAILED and records the failure reason.
func (c *Chunk) MarkAsFailed(err error) {
	if terr := c.TransitionTo(ChunkStatusFailed); terr != nil {
		logger.Warnf("Could not update Chunk (ID: %s) status to FAILED: %v", c.ID, terr)
		c.Status = ChunkStatusFailed
	}
	now := time.Now()
	c.CompletedAt = &now
	c.LastUpdated = now
	if err != nil {
		c.RowErrors = append(c.RowErrors, RowError{Message: exception.ExtractErrorMessage(err)})
	}
}

// AddRowError records a row-level failure on the Chunk. Row failures do not fail the chunk.
func (c *Chunk) AddRowError(rowNumber int, businessKey string, err error) {
	if err == nil {
		return
	}
	c.RowErrors = append(c.RowErrors, RowError{
		RowNumber:   rowNumber,
		BusinessKey: businessKey,
		Message:     exception.ExtractErrorMessage(err),
	})
	c.RowsFailed++
	c.LastUpdated = time.Now()
}

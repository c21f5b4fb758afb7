package sql

import (
	"time"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// BatchEntity is a schema model used for persistence.
type BatchEntity struct {
	ID                 string `gorm:"primaryKey"`
	SourceFile         string
	UniqueColumn       string
	Status             model.BatchStatus
	TotalRows          int
	ChunkSize          int
	ChunkCount         int
	Inline             bool
	RecordsCreated     int
	RecordsUpdated     int
	RecordsDeactivated int
	RowsFailed         int
	RowErrors          model.RowErrorList `gorm:"type:text"`
	Log                model.LogEntries   `gorm:"type:text"`
	CreatedAt          time.Time
	LastUpdated        time.Time
	FinalizedAt        *time.Time
	Version            int
}

func (BatchEntity) TableName() string {
	return "ingest_batch"
}

// ChunkEntity is a schema model used for persistence.
type ChunkEntity struct {
	ID             string `gorm:"primaryKey"`
	BatchID        string `gorm:"index"`
	Number         int
	StartRow       int
	RowCount       int
	Status         model.ChunkStatus
	Attempts       int
	RowsProcessed  int
	RecordsCreated int
	RecordsUpdated int
	RowsFailed     int
	RowErrors      model.RowErrorList `gorm:"type:text"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastUpdated    time.Time
	Version        int
}

func (ChunkEntity) TableName() string {
	return "ingest_chunk"
}

// TargetRecordEntity is a schema model used for persistence.
type TargetRecordEntity struct {
	ID            string             `gorm:"primaryKey"`
	BusinessKey   string             `gorm:"uniqueIndex"`
	Attributes    model.AttributeMap `gorm:"type:text"`
	SourceBatchID string
	SourceFile    string `gorm:"index"`
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

func (TargetRecordEntity) TableName() string {
	return "ingest_target_record"
}

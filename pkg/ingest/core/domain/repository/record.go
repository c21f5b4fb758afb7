package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
)

// ErrRecordNotFound is the error returned when a TargetRecord is not found.
var ErrRecordNotFound = errors.New("target record not found")

type RecordRepository interface {
	// UpsertRecord inserts or overwrites the record for its BusinessKey and
	// reports whether a new record was created. The operation is an atomic
	// read-modify-write on the single key; when the same key is written by
	// concurrent chunks the last writer wins.
	UpsertRecord(ctx context.Context, record *model.TargetRecord) (created bool, err error)

	// FindRecordByKey finds a TargetRecord by its BusinessKey.
	FindRecordByKey(ctx context.Context, businessKey string) (*model.TargetRecord, error)

	// FindRecordsBySourceFile finds all TargetRecords whose latest write came
	// from the given source filename. Inactive records are included when
	// includeInactive is true.
	FindRecordsBySourceFile(ctx context.Context, sourceFile string, includeInactive bool) ([]*model.TargetRecord, error)

	// DeactivateStaleRecords marks as inactive every active record of the given
	// source filename that was not written by the given batch, and returns the
	// number of records deactivated. Running it again for the same batch is a
	// no-op.
	DeactivateStaleRecords(ctx context.Context, sourceFile, batchID string) (int, error)
}

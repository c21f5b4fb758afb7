// Package export writes the active target records of a source file to Parquet
// and archives the result in the configured file store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	model "github.com/tigerroll/ingot/pkg/ingest/core/domain/model"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// recordRow is the flat Parquet schema one TargetRecord is serialized into.
// Attributes go out as a JSON string column.
type recordRow struct {
	BusinessKey   string `parquet:"name=business_key,type=BYTE_ARRAY,convertedtype=UTF8"`
	Attributes    string `parquet:"name=attributes,type=BYTE_ARRAY,convertedtype=UTF8"`
	SourceBatchID string `parquet:"name=source_batch_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	SourceFile    string `parquet:"name=source_file,type=BYTE_ARRAY,convertedtype=UTF8"`
	UpdatedAt     int64  `parquet:"name=updated_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// Exporter exports active target records to the file store as Parquet objects.
type Exporter struct {
	repo            repository.IngestRepository
	storageResolver storageadapter.StorageConnectionResolver
	storageRef      string
	outputBaseDir   string
}

// NewExporter creates a new Exporter writing to the named storage connection.
func NewExporter(
	repo repository.IngestRepository,
	storageResolver storageadapter.StorageConnectionResolver,
	storageRef string,
	outputBaseDir string,
) *Exporter {
	return &Exporter{
		repo:            repo,
		storageResolver: storageResolver,
		storageRef:      storageRef,
		outputBaseDir:   outputBaseDir,
	}
}

// ExportSourceFile writes all active records of the source file to a single
// Parquet object and returns the object path. An empty source file yields no
// object and an empty path.
func (e *Exporter) ExportSourceFile(ctx context.Context, sourceFile string) (string, error) {
	records, err := e.repo.FindRecordsBySourceFile(ctx, sourceFile, false)
	if err != nil {
		return "", fmt.Errorf("failed to load active records for '%s': %w", sourceFile, err)
	}
	if len(records) == 0 {
		logger.Warnf("No active records to export for source file '%s'.", sourceFile)
		return "", nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(recordRow), 1)
	if err != nil {
		return "", fmt.Errorf("failed to create parquet writer for '%s': %w", sourceFile, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var writeErrs *multierror.Error
	written := 0
	for _, record := range records {
		row, convErr := toRecordRow(record)
		if convErr != nil {
			writeErrs = multierror.Append(writeErrs, convErr)
			continue
		}
		if err := pw.Write(row); err != nil {
			writeErrs = multierror.Append(writeErrs,
				fmt.Errorf("failed to write record '%s' to parquet: %w", record.BusinessKey, err))
			continue
		}
		written++
	}

	if err := stopWriter(pw); err != nil {
		return "", fmt.Errorf("failed to finalize parquet data for '%s': %w", sourceFile, err)
	}
	if written == 0 {
		return "", fmt.Errorf("no records serialized for '%s': %w", sourceFile, writeErrs.ErrorOrNil())
	}

	objectPath := e.objectPath(sourceFile)
	conn, err := e.storageResolver.ResolveStorageConnection(e.storageRef)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage connection '%s': %w", e.storageRef, err)
	}
	if err := conn.Upload(ctx, "", objectPath, buf, "application/x-parquet"); err != nil {
		return "", fmt.Errorf("failed to upload parquet file to '%s': %w", objectPath, err)
	}

	logger.Infof("Exported %d records of '%s' to '%s'.", written, sourceFile, objectPath)
	if errs := writeErrs.ErrorOrNil(); errs != nil {
		logger.Warnf("Export of '%s' skipped some records: %v", sourceFile, errs)
	}
	return objectPath, nil
}

// objectPath builds a date-partitioned object name for the export.
func (e *Exporter) objectPath(sourceFile string) string {
	now := time.Now()
	base := strings.TrimSuffix(sourceFile, ".csv")
	base = strings.TrimSuffix(base, ".zip")
	base = strings.ReplaceAll(base, "/", "_")
	fileName := fmt.Sprintf("%s_%s.parquet", base, now.Format("20060102_150405"))
	return fmt.Sprintf("%s/dt=%s/%s", e.outputBaseDir, now.Format("2006-01-02"), fileName)
}

func toRecordRow(record *model.TargetRecord) (*recordRow, error) {
	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes of record '%s': %w", record.BusinessKey, err)
	}
	return &recordRow{
		BusinessKey:   record.BusinessKey,
		Attributes:    string(attrs),
		SourceBatchID: record.SourceBatchID,
		SourceFile:    record.SourceFile,
		UpdatedAt:     record.UpdatedAt.UnixMilli(),
	}, nil
}

// stopWriter finalizes the parquet writer. WriteStop can panic inside the
// library, so the panic is converted into an error.
func stopWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("panic value: %v", r)
		}
	}()
	return pw.WriteStop()
}

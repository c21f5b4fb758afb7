// Package parser turns uploaded payloads into raw rows ready for dispatch.
// A payload is either a single CSV file or a ZIP archive containing CSV files;
// each CSV becomes one independent parse result.
package parser

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

const moduleName = "parser"

// zipMagic is the local file header signature of a ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// utf8BOM is the byte order mark some exports prepend to the header row.
var utf8BOM = "\ufeff"

// ParseResult is the outcome of parsing one CSV unit of an upload.
// For a plain CSV upload there is exactly one result; for a ZIP upload there is
// one result per contained CSV entry. A result with Err set describes a unit
// that could not be parsed (corrupt entry, missing header) and must become a
// failed batch without aborting its siblings.
type ParseResult struct {
	// SourceFile is the logical filename of the unit. For ZIP entries this is
	// the entry name inside the archive, not the archive name.
	SourceFile string
	// Headers is the first row of the CSV.
	Headers []string
	// Rows holds the data rows in file order. Rows are not validated here;
	// malformed rows surface as row-level failures during chunk processing.
	Rows [][]string
	// Err is set when this unit could not be parsed at all.
	Err error
}

// Parser extracts CSV rows from uploaded payloads.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse splits the uploaded payload into per-file parse results.
// A ZIP payload yields one result per .csv entry; a corrupt entry yields a
// result with Err set and does not abort the remaining entries. An unreadable
// archive is returned as an error.
func (p *Parser) Parse(filename string, data []byte) ([]ParseResult, error) {
	if p.isArchive(filename, data) {
		return p.parseArchive(filename, data)
	}
	return []ParseResult{p.parseCSV(filename, data)}, nil
}

// isArchive reports whether the payload is a ZIP archive, judged by the magic
// bytes first and the file extension as a fallback.
func (p *Parser) isArchive(filename string, data []byte) bool {
	if bytes.HasPrefix(data, zipMagic) {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".zip")
}

// parseArchive opens the ZIP payload and parses every .csv entry it contains.
func (p *Parser) parseArchive(filename string, data []byte) ([]ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to open archive '%s'", filename), err, false, false)
	}

	var results []ParseResult
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := entry.Name
		if !strings.EqualFold(filepath.Ext(name), ".csv") {
			logger.Debugf("Skipping non-CSV archive entry '%s' in '%s'.", name, filename)
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			logger.Warnf("Archive entry '%s' in '%s' could not be opened: %v", name, filename, err)
			results = append(results, ParseResult{
				SourceFile: filepath.Base(name),
				Err:        exception.NewBatchError(moduleName, fmt.Sprintf("corrupt archive entry '%s'", name), err, true, false),
			})
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			// A CRC mismatch on a damaged entry surfaces here.
			logger.Warnf("Archive entry '%s' in '%s' could not be read: %v", name, filename, err)
			results = append(results, ParseResult{
				SourceFile: filepath.Base(name),
				Err:        exception.NewBatchError(moduleName, fmt.Sprintf("corrupt archive entry '%s'", name), err, true, false),
			})
			continue
		}

		results = append(results, p.parseCSV(filepath.Base(name), content))
	}

	if len(results) == 0 {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("archive '%s' contains no CSV entries", filename), nil, false, false)
	}
	return results, nil
}

// parseCSV parses a single CSV payload into headers and data rows.
// A missing or empty header row marks the whole unit as failed; rows with an
// unexpected field count are kept for downstream row-level handling.
func (p *Parser) parseCSV(filename string, data []byte) ParseResult {
	result := ParseResult{SourceFile: filename}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			result.Err = exception.NewBatchError(moduleName, fmt.Sprintf("file '%s' has no header row", filename), nil, false, false)
		} else {
			result.Err = exception.NewBatchError(moduleName, fmt.Sprintf("failed to read header row of '%s'", filename), err, false, false)
		}
		return result
	}

	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	if len(headers) == 1 && headers[0] == "" {
		result.Err = exception.NewBatchError(moduleName, fmt.Sprintf("file '%s' has an empty header row", filename), nil, false, false)
		return result
	}
	result.Headers = headers

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Err = exception.NewBatchError(moduleName, fmt.Sprintf("failed to read row %d of '%s'", len(result.Rows)+2, filename), err, false, false)
			return result
		}
		result.Rows = append(result.Rows, row)
	}

	logger.Debugf("Parsed '%s': %d headers, %d data rows.", filename, len(result.Headers), len(result.Rows))
	return result
}

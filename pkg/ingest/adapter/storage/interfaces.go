// Package storage defines the common interfaces for storage adapters. These
// abstract object storage operations so the ingestion pipeline can archive and
// re-read uploaded files through a unified API regardless of backend.
package storage

import (
	"context"
	"io"

	storageconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/storage/config"
)

// StorageExecutor defines generic object storage operations.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// The returned ReadCloser must be closed by the caller.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object under the given bucket and prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object from the bucket.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection represents a named storage connection.
type StorageConnection interface {
	StorageExecutor

	// Close releases resources held by the connection.
	Close() error
	// Type returns the storage backend type (e.g., "local", "gcs").
	Type() string
	// Name returns the logical connection name (e.g., "uploads").
	Name() string
	// Config returns the storage configuration associated with this connection.
	Config() storageconfig.StorageConfig
}

// StorageProvider manages the acquisition and lifecycle of storage connections
// of one backend type.
type StorageProvider interface {
	// GetConnection retrieves (establishing if needed) the connection with the given name.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the backend type handled by this provider.
	Type() string
}

// StorageConnectionResolver resolves named storage connections across all
// registered providers.
type StorageConnectionResolver interface {
	// ResolveStorageConnection resolves a storage connection instance by name.
	ResolveStorageConnection(name string) (StorageConnection, error)
}

// StorageProviderGroup is the Fx group tag collecting all StorageProvider implementations.
const StorageProviderGroup = "storage_providers"

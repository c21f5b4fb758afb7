// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	storageconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/storage/config"
	coreconfig "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// ProviderType defines the type identifier for this GCS storage provider.
const ProviderType = "gcs"

// gcsAdapter implements the storage.StorageConnection interface backed by a GCS client.
type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storageadapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a new gcsAdapter instance. Credentials come from the
// configured credentials file, falling back to application default credentials.
func NewGCSAdapter(ctx context.Context, cfg storageconfig.StorageConfig, name string) (storageadapter.StorageConnection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

// Close closes the underlying GCS client.
func (a *gcsAdapter) Close() error {
	return a.client.Close()
}

func (a *gcsAdapter) Type() string { return ProviderType }

func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) Config() storageconfig.StorageConfig { return a.cfg }

// bucketName falls back to the configured default bucket when none is given.
func (a *gcsAdapter) bucketName(bucket string) string {
	if bucket == "" {
		return a.cfg.BucketName
	}
	return bucket
}

// Upload streams data to the object, overwriting any existing content.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.client.Bucket(a.bucketName(bucket)).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object '%s' to bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s' in bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	logger.Debugf("Uploaded object '%s' to bucket '%s' (gcs adapter '%s').", objectName, a.bucketName(bucket), a.name)
	return nil
}

// Download opens a reader on the object. The returned io.ReadCloser must be
// closed by the caller.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(a.bucketName(bucket)).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s' in bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	return r, nil
}

// ListObjects iterates the bucket and calls fn for each object under the prefix.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.client.Bucket(a.bucketName(bucket)).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in bucket '%s' with prefix '%s': %w", a.bucketName(bucket), prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject deletes the object. A missing object is not an error.
func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.client.Bucket(a.bucketName(bucket)).Object(objectName).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			logger.Warnf("Attempted to delete non-existent object '%s' (gcs adapter '%s').", objectName, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	return nil
}

// GCSProvider implements the storage.StorageProvider interface for managing
// GCS connections.
type GCSProvider struct {
	cfg         *coreconfig.Config
	connections map[string]storageadapter.StorageConnection
	mu          sync.RWMutex
}

// NewGCSProvider creates a new GCSProvider instance.
func NewGCSProvider(cfg *coreconfig.Config) storageadapter.StorageProvider {
	return &GCSProvider{
		cfg:         cfg,
		connections: make(map[string]storageadapter.StorageConnection),
	}
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *GCSProvider) GetConnection(name string) (storageadapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check (DCL)
	conn, ok = p.connections[name]
	if ok {
		return conn, nil
	}

	storageCfg, err := decodeStorageConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}

	newConn, err := NewGCSAdapter(context.Background(), storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs adapter for '%s': %w", name, err)
	}

	p.connections[name] = newConn
	logger.Debugf("Created new gcs storage connection '%s'.", name)
	return newConn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close gcs storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing gcs storage connections: %v", errs)
	}
	return nil
}

// Type returns the storage backend type handled by this provider.
func (p *GCSProvider) Type() string {
	return ProviderType
}

// decodeStorageConfig decodes the named entry of ingot.storage into a StorageConfig.
func decodeStorageConfig(cfg *coreconfig.Config, name string) (storageconfig.StorageConfig, error) {
	var storageCfg storageconfig.StorageConfig
	rawConfig, ok := cfg.Ingot.StorageConfigs[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration for name '%s' not found", name)
	}

	decoderConfig := &mapstructure.DecoderConfig{
		Result:  &storageCfg,
		TagName: "yaml",
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return storageCfg, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return storageCfg, nil
}

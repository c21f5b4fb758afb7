// Package local provides a local file system implementation of the storage adapter interfaces.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	storageconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/storage/config"
	coreconfig "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// ProviderType defines the type identifier for this local storage provider.
const ProviderType = "local"

// localAdapter implements the storage.StorageConnection interface for local file system operations.
type localAdapter struct {
	cfg  storageconfig.StorageConfig
	name string
}

var _ storageadapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a new localAdapter instance. It validates the
// BaseDir configuration and creates the directory if it doesn't exist.
func NewLocalAdapter(cfg storageconfig.StorageConfig, name string) (storageadapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir must be specified in configuration", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
				return nil, fmt.Errorf("local storage adapter '%s': failed to create BaseDir '%s': %w", name, cfg.BaseDir, err)
			}
		} else {
			return nil, fmt.Errorf("local storage adapter '%s': failed to stat BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir '%s' is not a directory", name, cfg.BaseDir)
	}

	return &localAdapter{cfg: cfg, name: name}, nil
}

// Close does nothing for the local file system adapter as it holds no special resources.
func (a *localAdapter) Close() error {
	return nil
}

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Name() string { return a.name }

func (a *localAdapter) Config() storageconfig.StorageConfig { return a.cfg }

// Upload writes data to a file under the bucket directory, creating
// intermediate directories as needed.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

// Download opens the file at the resolved path. The returned io.ReadCloser
// must be closed by the caller.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// ListObjects walks the bucket directory and calls fn for each file whose path
// matches the prefix.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}

	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", path, basePath, err)
		}
		objectName = strings.ReplaceAll(objectName, "\\", "/")

		if prefix != "" && !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// DeleteObject removes the file at the resolved path. A missing file is not an error.
func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local adapter '%s').", fullPath, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath resolves the full path of a file relative to the BaseDir and
// rejects paths that escape it.
func (a *localAdapter) resolvePath(bucket, objectName string) (string, error) {
	baseDir := a.cfg.BaseDir
	if baseDir == "" {
		return "", fmt.Errorf("BaseDir is not configured for local adapter '%s'", a.name)
	}

	if bucket == "" {
		bucket = a.cfg.BucketName
	}

	var fullPath string
	if bucket == "" {
		fullPath = filepath.Join(baseDir, objectName)
	} else {
		fullPath = filepath.Join(baseDir, bucket, objectName)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", baseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}

	if !strings.HasPrefix(absFullPath, absBaseDir) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s'", fullPath, baseDir)
	}

	return fullPath, nil
}

// LocalProvider implements the storage.StorageProvider interface for managing
// local file system connections.
type LocalProvider struct {
	cfg         *coreconfig.Config
	connections map[string]storageadapter.StorageConnection
	mu          sync.RWMutex
}

// NewLocalProvider creates a new LocalProvider instance.
func NewLocalProvider(cfg *coreconfig.Config) storageadapter.StorageProvider {
	return &LocalProvider{
		cfg:         cfg,
		connections: make(map[string]storageadapter.StorageConnection),
	}
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *LocalProvider) GetConnection(name string) (storageadapter.StorageConnection, error) {
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

	newConn, err := NewLocalAdapter(storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create local adapter for '%s': %w", name, err)
	}

	p.connections[name] = newConn
	logger.Debugf("Created new local storage connection '%s'.", name)
	return newConn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close local storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing local storage connections: %v", errs)
	}
	return nil
}

// Type returns the storage backend type handled by this provider.
func (p *LocalProvider) Type() string {
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

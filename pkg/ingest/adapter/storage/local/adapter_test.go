package local_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageadapter "github.com/tigerroll/ingot/pkg/ingest/adapter/storage"
	storageconfig "github.com/tigerroll/ingot/pkg/ingest/adapter/storage/config"
	"github.com/tigerroll/ingot/pkg/ingest/adapter/storage/local"
	coreconfig "github.com/tigerroll/ingot/pkg/ingest/core/config"
)

func newTestAdapter(t *testing.T) storageadapter.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageconfig.StorageConfig{
		Type:    local.ProviderType,
		BaseDir: t.TempDir(),
	}, "uploads")
	require.NoError(t, err)
	return conn
}

func TestNewLocalAdapterRequiresBaseDir(t *testing.T) {
	_, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: local.ProviderType}, "uploads")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseDir must be specified")
}

func TestNewLocalAdapterCreatesMissingBaseDir(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "uploads")
	conn, err := local.NewLocalAdapter(storageconfig.StorageConfig{BaseDir: baseDir}, "uploads")
	require.NoError(t, err)
	assert.Equal(t, local.ProviderType, conn.Type())
	assert.Equal(t, "uploads", conn.Name())
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	conn := newTestAdapter(t)
	ctx := context.Background()

	payload := []byte("sku,name\nA-1,Widget\n")
	require.NoError(t, conn.Upload(ctx, "", "sources/batch-1/products.csv", bytes.NewReader(payload), "text/csv"))

	rc, err := conn.Download(ctx, "", "sources/batch-1/products.csv")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadMissingObject(t *testing.T) {
	conn := newTestAdapter(t)

	_, err := conn.Download(context.Background(), "", "nope.csv")
	assert.Error(t, err)
}

func TestListObjectsWithPrefix(t *testing.T) {
	conn := newTestAdapter(t)
	ctx := context.Background()

	for _, name := range []string{
		"sources/batch-1/a.csv",
		"sources/batch-1/b.csv",
		"sources/batch-2/c.csv",
		"exports/d.parquet",
	} {
		require.NoError(t, conn.Upload(ctx, "", name, bytes.NewReader([]byte("x")), ""))
	}

	var listed []string
	require.NoError(t, conn.ListObjects(ctx, "", "sources/batch-1/", func(objectName string) error {
		listed = append(listed, objectName)
		return nil
	}))
	sort.Strings(listed)
	assert.Equal(t, []string{"sources/batch-1/a.csv", "sources/batch-1/b.csv"}, listed)
}

func TestDeleteObject(t *testing.T) {
	conn := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, conn.Upload(ctx, "", "tmp/x.csv", bytes.NewReader([]byte("x")), ""))
	require.NoError(t, conn.DeleteObject(ctx, "", "tmp/x.csv"))

	_, err := conn.Download(ctx, "", "tmp/x.csv")
	assert.Error(t, err)

	// Deleting again is not an error.
	assert.NoError(t, conn.DeleteObject(ctx, "", "tmp/x.csv"))
}

func TestUploadRejectsPathEscape(t *testing.T) {
	conn := newTestAdapter(t)

	err := conn.Upload(context.Background(), "", "../escape.csv", bytes.NewReader([]byte("x")), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of BaseDir")
}

func TestLocalProviderReusesConnections(t *testing.T) {
	cfg := coreconfig.NewConfig()
	cfg.Ingot.StorageConfigs["uploads"] = map[string]interface{}{
		"type":     "local",
		"base_dir": t.TempDir(),
	}

	provider := local.NewLocalProvider(cfg)
	assert.Equal(t, local.ProviderType, provider.Type())

	first, err := provider.GetConnection("uploads")
	require.NoError(t, err)
	second, err := provider.GetConnection("uploads")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = provider.GetConnection("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, provider.CloseAll())
}

func TestLocalProviderRejectsTypeMismatch(t *testing.T) {
	cfg := coreconfig.NewConfig()
	cfg.Ingot.StorageConfigs["remote"] = map[string]interface{}{
		"type":        "gcs",
		"bucket_name": "bucket",
	}

	provider := local.NewLocalProvider(cfg)
	_, err := provider.GetConnection("remote")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
}

package export

import (
	"context"
	"os"
	"testing"
	"time"

	"accord/pkg/provision/core/config"
	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/infrastructure/repository/inmemory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archivedOperation(systemID, uid string, state model.OperationState) *model.ProvisioningArchive {
	op := model.NewProvisioningOperation(
		model.OperationCreate,
		systemID, "user", "e1", "se-1", "",
		model.ProvisioningContext{UID: uid, ObjectClass: "account"},
		3,
	)
	op.Result = model.OperationResult{State: state}
	op.CurrentAttempt = 1
	return model.NewProvisioningArchive(op)
}

func TestExportSystem_WritesParquetFile(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveArchive(ctx, archivedOperation("crm", "jdoe", model.StateExecuted)))
	require.NoError(t, repo.SaveArchive(ctx, archivedOperation("crm", "asmith", model.StateException)))

	exporter := NewExporter(&config.ExportConfig{
		Enabled:     true,
		OutputDir:   t.TempDir(),
		Compression: "SNAPPY",
	}, repo)

	path, err := exporter.ExportSystem(ctx, "crm")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportSystem_NoArchivesWritesNothing(t *testing.T) {
	repo := inmemory.NewInMemoryRepository()
	dir := t.TempDir()

	exporter := NewExporter(&config.ExportConfig{OutputDir: dir}, repo)

	path, err := exporter.ExportSystem(context.Background(), "crm")
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompressionCodec_RejectsUnknownType(t *testing.T) {
	_, err := compressionCodec("LZO")
	assert.Error(t, err)

	_, err = compressionCodec("")
	assert.NoError(t, err)
}

func TestArchiveRecord_CarriesResolvedContext(t *testing.T) {
	archive := archivedOperation("crm", "jdoe", model.StateExecuted)
	archive.ArchivedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := toRecord(archive)
	assert.Equal(t, "jdoe", record.UID)
	assert.Equal(t, "EXECUTED", record.State)
	assert.Equal(t, int32(1), record.Attempts)
	assert.Equal(t, archive.ArchivedAt.UnixMilli(), record.ArchivedAt)
}

// Package export writes terminated provisioning archives to Parquet files
// for downstream audit tooling.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"accord/pkg/provision/core/config"
	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

// archiveRecord is the Parquet row layout of one archived operation.
type archiveRecord struct {
	OperationID    string `parquet:"name=operation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type           string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SystemID       string `parquet:"name=system_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityType     string `parquet:"name=entity_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityID       string `parquet:"name=entity_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SystemEntityID string `parquet:"name=system_entity_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AccountID      string `parquet:"name=account_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	UID            string `parquet:"name=uid, type=BYTE_ARRAY, convertedtype=UTF8"`
	State          string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorInfo      string `parquet:"name=error_info, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attempts       int32  `parquet:"name=attempts, type=INT32"`
	CreateTime     int64  `parquet:"name=create_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ArchivedAt     int64  `parquet:"name=archived_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func toRecord(a *model.ProvisioningArchive) archiveRecord {
	return archiveRecord{
		OperationID:    a.OperationID,
		Type:           string(a.Type),
		SystemID:       a.SystemID,
		EntityType:     a.EntityType,
		EntityID:       a.EntityID,
		SystemEntityID: a.SystemEntityID,
		AccountID:      a.AccountID,
		UID:            a.Context.UID,
		State:          string(a.Result.State),
		ErrorInfo:      a.Result.ErrorInfo,
		Attempts:       int32(a.Attempts),
		CreateTime:     a.CreateTime.UnixMilli(),
		ArchivedAt:     a.ArchivedAt.UnixMilli(),
	}
}

// Exporter writes a system's archive records to a Parquet file.
type Exporter struct {
	config *config.ExportConfig
	repo   repository.Repository
}

// NewExporter creates a new instance of Exporter.
func NewExporter(cfg *config.ExportConfig, repo repository.Repository) *Exporter {
	return &Exporter{config: cfg, repo: repo}
}

// ExportSystem writes all archive records of a system to a timestamped
// Parquet file under the configured output directory and returns the file
// path. Returns an empty path when the system has no archives.
func (e *Exporter) ExportSystem(ctx context.Context, systemID string) (string, error) {
	archives, err := e.repo.ListArchivesBySystem(ctx, systemID)
	if err != nil {
		return "", exception.NewProvisioningError("export",
			fmt.Sprintf("failed to list archives for system '%s'", systemID), err, false)
	}
	if len(archives) == 0 {
		logger.Debugf("Export: no archives for system '%s', nothing to write.", systemID)
		return "", nil
	}

	codec, err := compressionCodec(e.config.Compression)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(archiveRecord), 4)
	if err != nil {
		return "", exception.NewProvisioningError("export",
			"failed to create Parquet writer", err, false)
	}
	pw.CompressionType = codec

	var writeErrs *multierror.Error
	for _, archive := range archives {
		if err := pw.Write(toRecord(archive)); err != nil {
			writeErrs = multierror.Append(writeErrs,
				fmt.Errorf("archive '%s': %w", archive.ID, err))
		}
	}
	if err := pw.WriteStop(); err != nil {
		writeErrs = multierror.Append(writeErrs, fmt.Errorf("finalize: %w", err))
	}
	if err := writeErrs.ErrorOrNil(); err != nil {
		return "", exception.NewProvisioningError("export",
			fmt.Sprintf("failed to write Parquet data for system '%s'", systemID), err, false)
	}

	if err := os.MkdirAll(e.config.OutputDir, 0o755); err != nil {
		return "", exception.NewProvisioningError("export",
			fmt.Sprintf("failed to create output directory '%s'", e.config.OutputDir), err, false)
	}
	name := fmt.Sprintf("archive_%s_%s.parquet", systemID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(e.config.OutputDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", exception.NewProvisioningError("export",
			fmt.Sprintf("failed to write Parquet file '%s'", path), err, false)
	}

	logger.Infof("Export: wrote %d archive record(s) for system '%s' to %s", len(archives), systemID, path)
	return path, nil
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_SNAPPY,
			exception.NewConfigurationError("export",
				fmt.Sprintf("unsupported Parquet compression type: %s", compressionType))
	}
}

package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/guardian/internal/checksum"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/storage"
)

// Inspector opens backup artifacts for cataloging.
type Inspector interface {
	Verify(ctx context.Context, path string) error
	Manifest(path string) (*models.BackupManifest, error)
}

// Sync walks the backup directory and brings the catalog up to date:
//   - new/changed artifacts are inspected and upserted
//   - artifacts removed from disk are deleted from the catalog
func Sync(ctx context.Context, db Catalog, store storage.Provider, insp Inspector, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.BackupChecksums(ctx)
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		if err := catalogArtifact(ctx, db, insp, m); err != nil {
			logger.Warn("sync: catalog failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: cataloged", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteBackup(ctx, p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// CatalogFile inspects the artifact at path and records it in the catalog.
func CatalogFile(ctx context.Context, db Catalog, store storage.Provider, insp Inspector, path string) error {
	data, err := store.Read(path)
	if err != nil {
		return err
	}
	return catalogArtifact(ctx, db, insp, models.ArtifactInfo{
		Path:      path,
		Checksum:  checksum.Sum(data),
		Size:      int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	})
}

// catalogArtifact records info in the catalog. An artifact that fails
// verification is still cataloged with valid=false and the failure as issue.
func catalogArtifact(ctx context.Context, db Catalog, insp Inspector, info models.ArtifactInfo) error {
	row := BackupRow{
		Path:     info.Path,
		Checksum: info.Checksum,
		Size:     info.Size,
	}
	if err := insp.Verify(ctx, info.Path); err != nil {
		row.Issue = err.Error()
	} else {
		row.Valid = true
	}
	if m, err := insp.Manifest(info.Path); err == nil {
		row.CapsuleCount = m.CapsuleCount
		row.Encrypted = m.Encrypted
		row.CreatedAt = m.CreatedAt
	}
	return db.UpsertBackup(ctx, row)
}

package index

import "context"

// Catalog is the backup catalog consumed by Sync, CatalogFile and Watch.
type Catalog interface {
	UpsertBackup(ctx context.Context, b BackupRow) error
	DeleteBackup(ctx context.Context, path string) error
	GetBackup(ctx context.Context, path string) (*BackupRow, error)
	ListBackups(ctx context.Context) ([]BackupRow, error)
	BackupChecksums(ctx context.Context) (map[string]string, error)
}

var _ Catalog = (*DB)(nil)

package models

import "time"

// CapsuleBackup is a point-in-time snapshot of a capsule. Timestamp is Unix
// milliseconds.
type CapsuleBackup struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	GriefScore float64           `json:"grief_score"`
	Timestamp  int64             `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// BackupManifest summarises a backup artifact.
type BackupManifest struct {
	Format       string `json:"format"`
	CreatedAt    int64  `json:"created_at"`
	CapsuleCount int    `json:"capsule_count"`
	Checksum     string `json:"checksum"`
	Compression  string `json:"compression"`
	Encrypted    bool   `json:"encrypted"`
}

// ArtifactInfo is a lightweight description of a file in the backup directory.
type ArtifactInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

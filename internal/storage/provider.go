// Package storage defines the backup directory file-system abstraction.
package storage

import "github.com/starford/guardian/internal/models"

// BackupExt is the file extension of backup artifacts.
const BackupExt = ".gcb"

// Provider is the interface for backup directory file operations.
type Provider interface {
	// List returns metadata for every backup artifact under dir (relative to root).
	List(dir string) ([]models.ArtifactInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
}

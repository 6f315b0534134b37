package api

import (
	"github.com/starford/guardian/internal/index"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/restore"
)

// GenerateLicenseRequest is the request body for issuing a license.
type GenerateLicenseRequest = license.GenerateInput

// CreateLicenseRequestBody is the request body for filing a license request.
type CreateLicenseRequestBody = license.RequestInput

// VerifyLicenseRequest is the request body for verifying a license.
type VerifyLicenseRequest struct {
	Verifier string `json:"verifier" example:"0xabc..."`
}

// ProcessRequestBody is the request body for approving or rejecting a
// license request.
type ProcessRequestBody struct {
	Action        license.Action `json:"action" example:"approve" validate:"required"`
	AuthorAddress string         `json:"author_address" example:"0xabc..." validate:"required"`
}

// LicenseListResponse wraps license listings.
type LicenseListResponse struct {
	Licenses []*models.CapsuleLicense `json:"licenses" validate:"required"`
	Total    int                      `json:"total" example:"3" validate:"required"`
}

// AccessResponse reports whether a user holds a valid license for a capsule.
type AccessResponse struct {
	CapsuleID string `json:"capsule_id" validate:"required"`
	User      string `json:"user" validate:"required"`
	Valid     bool   `json:"valid"`
}

// CapsuleListResponse wraps capsule listings.
type CapsuleListResponse struct {
	Capsules []models.CapsuleBackup `json:"capsules" validate:"required"`
	Total    int                    `json:"total" validate:"required"`
}

// SearchResponse wraps capsule search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BackupListResponse wraps the backup catalog.
type BackupListResponse struct {
	Backups []index.BackupRow `json:"backups" validate:"required"`
}

// BackupPathRequest addresses one backup artifact.
type BackupPathRequest struct {
	Path string `json:"path" example:"nightly.gcb" validate:"required"`
}

// SnapshotRequest names a new backup of the capsule store.
type SnapshotRequest struct {
	Name string `json:"name" example:"nightly" validate:"required"`
}

// RestoreRequest is the request body for POST /restore.
type RestoreRequest = restore.Options

// IncrementalRestoreRequest is the request body for POST /restore/incremental.
type IncrementalRestoreRequest struct {
	restore.Options
	Since int64 `json:"since" example:"1700000000000" validate:"required"`
}

// MergeRequest is the request body for POST /restore/merge.
type MergeRequest struct {
	restore.Options
	Paths []string `json:"paths" validate:"required"`
}

// RestoreErrorResponse carries the partial result of a failed restore.
type RestoreErrorResponse struct {
	Error  string          `json:"error" validate:"required"`
	Result *restore.Result `json:"result,omitempty"`
}

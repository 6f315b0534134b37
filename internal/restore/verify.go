package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/models"
)

const (
	staleAfter        = 365 * 24 * time.Hour
	lowGriefThreshold = 5
)

// Recommendation and issue messages reported by VerifyBackup.
const (
	RecommendLowGrief  = "More than 50% of capsules have low grief scores - review content quality"
	RecommendEncrypted = "Backup is encrypted - capsule content checks were skipped"
)

// VerifyResult is the outcome of VerifyBackup. Valid reflects structural
// integrity only; Issues and Recommendations are advisory.
type VerifyResult struct {
	Valid           bool                   `json:"valid"`
	Manifest        *models.BackupManifest `json:"manifest,omitempty"`
	CapsuleCount    int                    `json:"capsule_count"`
	Issues          []string               `json:"issues,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
}

// VerifyBackup checks the artifact at path without mutating anything and
// surfaces advisory signals about its capsules.
func (m *Manager) VerifyBackup(ctx context.Context, path string) (*VerifyResult, error) {
	if err := m.requireBackup(path); err != nil {
		return nil, err
	}

	res := &VerifyResult{}
	if err := m.archive.Verify(ctx, path); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Issues = append(res.Issues, err.Error())
		return res, nil
	}
	res.Valid = true

	manifest, err := m.archive.Manifest(path)
	if err != nil {
		res.Valid = false
		res.Issues = append(res.Issues, err.Error())
		return res, nil
	}
	res.Manifest = manifest
	res.CapsuleCount = manifest.CapsuleCount

	if manifest.Encrypted {
		res.Recommendations = append(res.Recommendations, RecommendEncrypted)
		return res, nil
	}

	capsules, _, err := m.archive.Read(ctx, path, backup.ReadOptions{})
	if err != nil {
		res.Valid = false
		res.Issues = append(res.Issues, err.Error())
		return res, nil
	}
	res.CapsuleCount = len(capsules)

	cutoff := m.now().Add(-staleAfter).UnixMilli()
	var stale, noMeta, lowGrief int
	for _, c := range capsules {
		if c.Timestamp < cutoff {
			stale++
		}
		if len(c.Metadata) == 0 {
			noMeta++
		}
		if c.GriefScore < lowGriefThreshold {
			lowGrief++
		}
	}
	if noMeta > 0 {
		res.Issues = append(res.Issues, fmt.Sprintf("%d capsules are missing metadata", noMeta))
	}
	if stale > 0 {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("%d capsules are older than 1 year - consider archiving", stale))
	}
	if lowGrief*2 > len(capsules) {
		res.Recommendations = append(res.Recommendations, RecommendLowGrief)
	}
	return res, nil
}

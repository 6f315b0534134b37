package license

import (
	"time"

	"github.com/starford/guardian/internal/checksum"
	"github.com/starford/guardian/internal/models"
)

// ComplianceScore derives a 0-100 score from a capsule's grief score and
// truth confidence. Only the highest matching tier of each signal counts.
func ComplianceScore(griefScore, truthConfidence float64) int {
	score := 50
	switch {
	case griefScore >= 8:
		score += 30
	case griefScore >= 6:
		score += 20
	case griefScore >= 4:
		score += 10
	}
	switch {
	case truthConfidence >= 90:
		score += 20
	case truthConfidence >= 70:
		score += 10
	}
	return min(max(score, 0), 100)
}

// Hash returns the integrity digest over the fields a license hash covers.
func Hash(capsuleID string, author models.Author, griefScore float64, issuedAt time.Time) (string, error) {
	return checksum.Digest(capsuleID, author, griefScore, issuedAt.UnixMilli())
}

// HashOf recomputes the integrity digest of l from its current fields.
func HashOf(l *models.CapsuleLicense) (string, error) {
	return Hash(l.CapsuleID, l.Author, l.GriefScore, l.IssuedAt)
}

package restore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/models"
)

func TestVerifyBackup_LowGriefMajority(t *testing.T) {
	f := newFixture(t, newMemStore())
	now := testNow.UnixMilli()
	var capsules []models.CapsuleBackup
	for i, g := range []float64{1, 2, 3, 7, 8} {
		capsules = append(capsules, models.CapsuleBackup{
			ID: string(rune('a' + i)), GriefScore: g, Timestamp: now, Metadata: map[string]string{"k": "v"},
		})
	}
	f.write(t, "b.gcb", capsules...)

	res, err := f.manager.VerifyBackup(context.Background(), "b.gcb")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 5, res.CapsuleCount)
	assert.Contains(t, res.Recommendations, RecommendLowGrief)
	assert.Empty(t, res.Issues)
}

func TestVerifyBackup_AdvisorySignals(t *testing.T) {
	f := newFixture(t, newMemStore())
	old := testNow.AddDate(-2, 0, 0).UnixMilli()
	f.write(t, "b.gcb",
		models.CapsuleBackup{ID: "a", GriefScore: 9, Timestamp: old},
		models.CapsuleBackup{ID: "b", GriefScore: 9, Timestamp: testNow.UnixMilli(), Metadata: map[string]string{"k": "v"}},
	)

	res, err := f.manager.VerifyBackup(context.Background(), "b.gcb")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"1 capsules are missing metadata"}, res.Issues)
	assert.Contains(t, res.Recommendations, "1 capsules are older than 1 year - consider archiving")
	assert.NotContains(t, res.Recommendations, RecommendLowGrief)
}

func TestVerifyBackup_Corrupt(t *testing.T) {
	f := newFixture(t, newMemStore())
	require.NoError(t, f.fs.Write("bad.gcb", []byte("garbage")))

	res, err := f.manager.VerifyBackup(context.Background(), "bad.gcb")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Issues)

	_, err = f.manager.VerifyBackup(context.Background(), "missing.gcb")
	assert.ErrorIs(t, err, apperr.ErrBackupNotFound)
}

func TestVerifyBackup_EncryptedSkipsContentChecks(t *testing.T) {
	_, recipient, err := backup.GenerateKeypair()
	require.NoError(t, err)
	f := newFixture(t, newMemStore())
	_, err = f.archive.Write(context.Background(), "sealed.gcb",
		[]models.CapsuleBackup{{ID: "a", GriefScore: 1}}, backup.WriteOptions{Recipient: recipient})
	require.NoError(t, err)

	res, err := f.manager.VerifyBackup(context.Background(), "sealed.gcb")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.CapsuleCount)
	assert.Equal(t, []string{RecommendEncrypted}, res.Recommendations)
}

func TestSelectiveMatch(t *testing.T) {
	c := models.CapsuleBackup{ID: "a", Type: "letter", GriefScore: 5, Timestamp: 100}
	var nilSel *Selective
	assert.True(t, nilSel.Match(c))
	assert.True(t, (&Selective{GriefScoreRange: &ScoreRange{Min: f64(5), Max: f64(5)}}).Match(c))
	assert.True(t, (&Selective{DateRange: &DateRange{Start: i64(100), End: i64(100)}}).Match(c))
	assert.False(t, (&Selective{CapsuleIDs: []string{"b"}}).Match(c))
	assert.False(t, (&Selective{Types: []string{"letter"}, DateRange: &DateRange{End: i64(99)}}).Match(c))
}

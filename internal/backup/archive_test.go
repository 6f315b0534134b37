package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/storage"
)

func newTestArchive(t *testing.T) (*Archive, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	fixed := time.UnixMilli(1_760_000_000_000)
	return NewArchive(fs, WithClock(func() time.Time { return fixed })), fs
}

func sampleCapsules() []models.CapsuleBackup {
	return []models.CapsuleBackup{
		{ID: "cap-1", Title: "First", Type: "memory", GriefScore: 7, Timestamp: 100, Metadata: map[string]string{"lang": "en"}},
		{ID: "cap-2", Title: "Second", Type: "testimony", GriefScore: 3, Timestamp: 200},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	a, _ := newTestArchive(t)
	ctx := context.Background()

	manifest, err := a.Write(ctx, "nightly.gcb", sampleCapsules(), WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, Format, manifest.Format)
	assert.Equal(t, 2, manifest.CapsuleCount)
	assert.Equal(t, int64(1_760_000_000_000), manifest.CreatedAt)
	assert.False(t, manifest.Encrypted)
	assert.NotEmpty(t, manifest.Checksum)

	capsules, got, err := a.Read(ctx, "nightly.gcb", ReadOptions{ValidateChecksum: true})
	require.NoError(t, err)
	assert.Equal(t, *manifest, *got)
	assert.Equal(t, sampleCapsules(), capsules)
}

func TestWrite_EmptyCapsuleList(t *testing.T) {
	a, _ := newTestArchive(t)
	ctx := context.Background()
	_, err := a.Write(ctx, "empty.gcb", nil, WriteOptions{})
	require.NoError(t, err)

	capsules, manifest, err := a.Read(ctx, "empty.gcb", ReadOptions{ValidateChecksum: true})
	require.NoError(t, err)
	assert.Empty(t, capsules)
	assert.Equal(t, 0, manifest.CapsuleCount)
}

func TestEncrypted_RequiresKey(t *testing.T) {
	a, _ := newTestArchive(t)
	ctx := context.Background()
	identity, recipient, err := GenerateKeypair()
	require.NoError(t, err)

	manifest, err := a.Write(ctx, "sealed.gcb", sampleCapsules(), WriteOptions{Recipient: recipient})
	require.NoError(t, err)
	assert.True(t, manifest.Encrypted)

	_, _, err = a.Read(ctx, "sealed.gcb", ReadOptions{ValidateChecksum: true})
	assert.ErrorIs(t, err, ErrKeyRequired)

	capsules, _, err := a.Read(ctx, "sealed.gcb", ReadOptions{DecryptionKey: identity, ValidateChecksum: true})
	require.NoError(t, err)
	assert.Len(t, capsules, 2)

	require.NoError(t, a.Verify(ctx, "sealed.gcb"))
}

func TestEncrypted_WrongKey(t *testing.T) {
	a, _ := newTestArchive(t)
	ctx := context.Background()
	_, recipient, _ := GenerateKeypair()
	other, _, _ := GenerateKeypair()

	_, err := a.Write(ctx, "sealed.gcb", sampleCapsules(), WriteOptions{Recipient: recipient})
	require.NoError(t, err)

	_, _, err = a.Read(ctx, "sealed.gcb", ReadOptions{DecryptionKey: other})
	assert.Error(t, err)
}

func TestWrite_InvalidRecipient(t *testing.T) {
	a, _ := newTestArchive(t)
	_, err := a.Write(context.Background(), "bad.gcb", sampleCapsules(), WriteOptions{Recipient: "not-a-key"})
	assert.Error(t, err)
}

func tamper(t *testing.T, fs *storage.FS, path string, mutate func(*envelope)) {
	t.Helper()
	data, err := fs.Read(path)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, cbor.Unmarshal(data, &env))
	mutate(&env)
	out, err := cbor.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, fs.Write(path, out))
}

func TestChecksumMismatch(t *testing.T) {
	a, fs := newTestArchive(t)
	ctx := context.Background()
	_, err := a.Write(ctx, "b.gcb", sampleCapsules(), WriteOptions{})
	require.NoError(t, err)

	tamper(t, fs, "b.gcb", func(env *envelope) { env.Manifest.Checksum = "00" })

	_, _, err = a.Read(ctx, "b.gcb", ReadOptions{ValidateChecksum: true})
	assert.True(t, errors.Is(err, apperr.ErrIntegrity), "got %v", err)
	assert.Error(t, a.Verify(ctx, "b.gcb"))

	// Skipping validation still yields the capsules.
	capsules, _, err := a.Read(ctx, "b.gcb", ReadOptions{ValidateChecksum: false})
	require.NoError(t, err)
	assert.Len(t, capsules, 2)
}

func TestCountMismatch(t *testing.T) {
	a, fs := newTestArchive(t)
	ctx := context.Background()
	_, err := a.Write(ctx, "b.gcb", sampleCapsules(), WriteOptions{})
	require.NoError(t, err)

	tamper(t, fs, "b.gcb", func(env *envelope) { env.Manifest.CapsuleCount = 5 })

	err = a.Verify(ctx, "b.gcb")
	assert.ErrorIs(t, err, apperr.ErrIntegrity)
}

func TestUnsupportedFormat(t *testing.T) {
	a, fs := newTestArchive(t)
	ctx := context.Background()
	_, err := a.Write(ctx, "b.gcb", sampleCapsules(), WriteOptions{})
	require.NoError(t, err)

	tamper(t, fs, "b.gcb", func(env *envelope) { env.Manifest.Format = "other/v9" })

	_, _, err = a.Read(ctx, "b.gcb", ReadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCorruptEnvelope(t *testing.T) {
	a, fs := newTestArchive(t)
	require.NoError(t, fs.Write("junk.gcb", []byte("definitely not cbor")))
	assert.Error(t, a.Verify(context.Background(), "junk.gcb"))
	_, err := a.Manifest("junk.gcb")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	a, _ := newTestArchive(t)
	ok, err := a.Exists("nope.gcb")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = a.Write(context.Background(), "yes.gcb", nil, WriteOptions{})
	require.NoError(t, err)
	ok, _ = a.Exists("yes.gcb")
	assert.True(t, ok)
}

func TestCancelledContext(t *testing.T) {
	a, _ := newTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Write(ctx, "c.gcb", sampleCapsules(), WriteOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/storage"
)

// Format identifies the artifact layout version.
const Format = "guardian-backup/v1"

// CompressionZstd is the only payload compression currently written.
const CompressionZstd = "zstd"

var (
	// ErrKeyRequired is returned when an encrypted payload is read without a key.
	ErrKeyRequired = errors.New("backup: encrypted payload requires a decryption key")
	// ErrUnsupportedFormat is returned for envelopes this package cannot read.
	ErrUnsupportedFormat = errors.New("backup: unsupported format")
)

type envelope struct {
	Manifest models.BackupManifest `cbor:"manifest"`
	Payload  []byte                `cbor:"payload"`
}

// ReadOptions controls how a payload is opened.
type ReadOptions struct {
	DecryptionKey    string
	ValidateChecksum bool
}

// WriteOptions controls how a payload is sealed.
type WriteOptions struct {
	// Recipient is an age X25519 public key. Empty writes an unencrypted payload.
	Recipient string
}

// Archive reads and writes backup artifacts under a storage root.
type Archive struct {
	store *storage.FS
	now   func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithClock overrides the clock used for manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// NewArchive creates an Archive rooted at store.
func NewArchive(store *storage.FS, opts ...Option) *Archive {
	a := &Archive{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root returns the absolute backup directory.
func (a *Archive) Root() string { return a.store.Root() }

// Exists reports whether an artifact exists at path.
func (a *Archive) Exists(path string) (bool, error) {
	return a.store.Exists(path)
}

// Write seals capsules into a new artifact at path and returns its manifest.
func (a *Archive) Write(ctx context.Context, path string, capsules []models.CapsuleBackup, opts WriteOptions) (*models.BackupManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if capsules == nil {
		capsules = []models.CapsuleBackup{}
	}
	plain, err := cbor.Marshal(capsules)
	if err != nil {
		return nil, fmt.Errorf("backup: encode capsules: %w", err)
	}

	manifest := models.BackupManifest{
		Format:       Format,
		CreatedAt:    a.now().UnixMilli(),
		CapsuleCount: len(capsules),
		Checksum:     contentChecksum(plain),
		Compression:  CompressionZstd,
	}
	payload := compress(plain)
	if opts.Recipient != "" {
		payload, err = encrypt(payload, opts.Recipient)
		if err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
		manifest.Encrypted = true
	}

	data, err := cbor.Marshal(envelope{Manifest: manifest, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("backup: encode envelope: %w", err)
	}
	if err := a.store.Write(path, data); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Manifest returns the manifest of the artifact at path without opening the payload.
func (a *Archive) Manifest(path string) (*models.BackupManifest, error) {
	env, err := a.open(path)
	if err != nil {
		return nil, err
	}
	return &env.Manifest, nil
}

// Verify checks the structural integrity of the artifact at path. For
// unencrypted payloads the checksum and capsule count are verified too.
func (a *Archive) Verify(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := a.open(path)
	if err != nil {
		return err
	}
	if env.Manifest.Encrypted {
		if len(env.Payload) == 0 {
			return fmt.Errorf("backup: %s: empty encrypted payload", path)
		}
		return nil
	}
	_, err = unpack(env, "", true)
	if err != nil {
		return fmt.Errorf("backup: %s: %w", path, err)
	}
	return nil
}

// Read opens the artifact at path and returns its capsules and manifest.
func (a *Archive) Read(ctx context.Context, path string, opts ReadOptions) ([]models.CapsuleBackup, *models.BackupManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	env, err := a.open(path)
	if err != nil {
		return nil, nil, err
	}
	capsules, err := unpack(env, opts.DecryptionKey, opts.ValidateChecksum)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: %s: %w", path, err)
	}
	return capsules, &env.Manifest, nil
}

func (a *Archive) open(path string) (*envelope, error) {
	data, err := a.store.Read(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("backup: decode envelope %s: %w", path, err)
	}
	if env.Manifest.Format != Format {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, env.Manifest.Format)
	}
	if env.Manifest.Compression != CompressionZstd {
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, env.Manifest.Compression)
	}
	return &env, nil
}

func unpack(env *envelope, key string, validate bool) ([]models.CapsuleBackup, error) {
	payload := env.Payload
	if env.Manifest.Encrypted {
		if key == "" {
			return nil, ErrKeyRequired
		}
		var err error
		payload, err = decrypt(payload, key)
		if err != nil {
			return nil, err
		}
	}
	plain, err := decompress(payload, MaxPayloadSize)
	if err != nil {
		return nil, err
	}
	if validate && contentChecksum(plain) != env.Manifest.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", apperr.ErrIntegrity)
	}
	var capsules []models.CapsuleBackup
	if err := cbor.Unmarshal(plain, &capsules); err != nil {
		return nil, fmt.Errorf("decode capsules: %w", err)
	}
	if validate && len(capsules) != env.Manifest.CapsuleCount {
		return nil, fmt.Errorf("%w: manifest lists %d capsules, payload holds %d",
			apperr.ErrIntegrity, env.Manifest.CapsuleCount, len(capsules))
	}
	return capsules, nil
}

package restore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/starford/guardian/internal/activity"
	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/checksum"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/storage"
)

// DefaultRecoveryDir is where recovery points are written, relative to the
// backup root.
const DefaultRecoveryDir = "recovery"

const defaultActor = "system"

// Archive reads, verifies and writes backup artifacts.
type Archive interface {
	Exists(path string) (bool, error)
	Verify(ctx context.Context, path string) error
	Manifest(path string) (*models.BackupManifest, error)
	Read(ctx context.Context, path string, opts backup.ReadOptions) ([]models.CapsuleBackup, *models.BackupManifest, error)
	Write(ctx context.Context, path string, capsules []models.CapsuleBackup, opts backup.WriteOptions) (*models.BackupManifest, error)
}

// CapsuleStore is the capsule persistence layer restores write into.
type CapsuleStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Upsert(ctx context.Context, c models.CapsuleBackup) error
	List(ctx context.Context) ([]models.CapsuleBackup, error)
}

// Options controls a restore run.
type Options struct {
	BackupPath    string `json:"backup_path"`
	DecryptionKey string `json:"decryption_key,omitempty"`
	// SkipChecksums disables content checksum validation on read.
	SkipChecksums bool `json:"skip_checksums,omitempty"`
	// TargetDirectory overrides the directory recovery points are written to.
	// It does not affect where capsules go: they are always upserted into the
	// capsule store.
	TargetDirectory     string     `json:"target_directory,omitempty"`
	OverwriteExisting   bool       `json:"overwrite_existing,omitempty"`
	Selective           *Selective `json:"selective_restore,omitempty"`
	CreateRecoveryPoint bool       `json:"create_recovery_point,omitempty"`
	DryRun              bool       `json:"dry_run,omitempty"`
	Actor               string     `json:"actor,omitempty"`
}

// Result reports the outcome of a restore or merge run.
type Result struct {
	Success           bool                   `json:"success"`
	Restored          int                    `json:"restored_count"`
	Skipped           int                    `json:"skipped_count"`
	Failed            int                    `json:"error_count"`
	Errors            []string               `json:"errors,omitempty"`
	Capsules          []models.CapsuleBackup `json:"capsules"`
	Manifest          *models.BackupManifest `json:"manifest,omitempty"`
	RecoveryPointPath string                 `json:"recovery_point_path,omitempty"`
	DryRun            bool                   `json:"dry_run"`
	Warnings          []string               `json:"warnings,omitempty"`
}

// Manager orchestrates restores from backup artifacts.
type Manager struct {
	archive     Archive
	store       CapsuleStore
	activity    activity.Logger
	now         func() time.Time
	recoveryDir string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for age checks and recovery point names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithActivity sets the activity logger.
func WithActivity(l activity.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.activity = l
		}
	}
}

// WithRecoveryDir sets the default recovery point directory.
func WithRecoveryDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.recoveryDir = dir
		}
	}
}

// NewManager creates a Manager.
func NewManager(archive Archive, store CapsuleStore, opts ...Option) *Manager {
	m := &Manager{
		archive:     archive,
		store:       store,
		activity:    activity.Nop{},
		now:         time.Now,
		recoveryDir: DefaultRecoveryDir,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RestoreCapsules restores the capsules of one backup that pass the
// selective filters. A missing artifact yields apperr.ErrBackupNotFound and a
// reader failure apperr.ErrRestoreFailed; in both cases nothing is written.
// When a recovery point was created before a failure, the returned Result
// carries its path alongside the error.
func (m *Manager) RestoreCapsules(ctx context.Context, opts Options) (*Result, error) {
	if err := m.requireBackup(opts.BackupPath); err != nil {
		return nil, err
	}

	res := &Result{DryRun: opts.DryRun, Capsules: []models.CapsuleBackup{}}
	if opts.CreateRecoveryPoint && !opts.DryRun {
		rp, err := m.createRecoveryPoint(ctx, opts.TargetDirectory)
		if err != nil {
			return nil, err
		}
		res.RecoveryPointPath = rp
	}

	capsules, manifest, err := m.read(ctx, opts.BackupPath, opts)
	if err != nil {
		return res, err
	}
	res.Manifest = manifest
	res.Capsules = opts.Selective.Apply(capsules)

	if opts.DryRun {
		res.Success = true
		m.activity.Log(ctx, actor(opts), activity.RestoreDryRun, map[string]any{
			"backup_path": opts.BackupPath,
			"capsules":    len(res.Capsules),
		})
		return res, nil
	}

	err = m.apply(ctx, res, opts.OverwriteExisting)
	m.activity.Log(ctx, actor(opts), activity.RestoreCompleted, map[string]any{
		"backup_path": opts.BackupPath,
		"restored":    res.Restored,
		"skipped":     res.Skipped,
		"errors":      res.Failed,
	})
	return res, err
}

// IncrementalRestore restores capsules newer than or equal to since (Unix
// milliseconds). A start bound already present in opts is kept.
func (m *Manager) IncrementalRestore(ctx context.Context, backupPath string, since int64, opts Options) (*Result, error) {
	opts.BackupPath = backupPath
	opts.Selective = opts.Selective.clone()
	if opts.Selective.DateRange == nil {
		opts.Selective.DateRange = &DateRange{}
	}
	if opts.Selective.DateRange.Start == nil {
		opts.Selective.DateRange.Start = &since
	}
	return m.RestoreCapsules(ctx, opts)
}

// MergeBackups reads every backup, keeps the newest copy of each capsule and
// restores the merged set. Unreadable backups are reported as warnings; the
// run fails only when no capsule could be recovered at all. opts.BackupPath
// is ignored.
func (m *Manager) MergeBackups(ctx context.Context, paths []string, opts Options) (*Result, error) {
	res := &Result{DryRun: opts.DryRun, Capsules: []models.CapsuleBackup{}}

	var all []models.CapsuleBackup
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := m.requireBackup(p); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		capsules, _, err := m.read(ctx, p, opts)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		all = append(all, opts.Selective.Apply(capsules)...)
	}
	if len(all) == 0 {
		return res, fmt.Errorf("%w: no capsules recovered from %d backups", apperr.ErrRestoreFailed, len(paths))
	}

	merged, err := dedupe(all)
	if err != nil {
		return res, err
	}
	res.Capsules = merged

	if opts.DryRun {
		res.Success = true
		return res, nil
	}
	if opts.CreateRecoveryPoint {
		rp, err := m.createRecoveryPoint(ctx, opts.TargetDirectory)
		if err != nil {
			return res, err
		}
		res.RecoveryPointPath = rp
	}

	err = m.apply(ctx, res, opts.OverwriteExisting)
	m.activity.Log(ctx, actor(opts), activity.RestoreMerged, map[string]any{
		"backups":  len(paths),
		"restored": res.Restored,
		"skipped":  res.Skipped,
		"errors":   res.Failed,
		"warnings": len(res.Warnings),
	})
	return res, err
}

// CreateBackup snapshots the whole capsule store into a new artifact.
func (m *Manager) CreateBackup(ctx context.Context, path string, opts backup.WriteOptions) (*models.BackupManifest, error) {
	capsules, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore: list capsules: %w", err)
	}
	manifest, err := m.archive.Write(ctx, path, capsules, opts)
	if err != nil {
		return nil, err
	}
	m.activity.Log(ctx, defaultActor, activity.BackupCreated, map[string]any{
		"path":      path,
		"capsules":  manifest.CapsuleCount,
		"encrypted": manifest.Encrypted,
	})
	return manifest, nil
}

func (m *Manager) requireBackup(p string) error {
	if p == "" {
		return fmt.Errorf("%w: backup path is required", apperr.ErrInvalidInput)
	}
	ok, err := m.archive.Exists(p)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrBackupNotFound, p, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrBackupNotFound, p)
	}
	return nil
}

func (m *Manager) read(ctx context.Context, p string, opts Options) ([]models.CapsuleBackup, *models.BackupManifest, error) {
	capsules, manifest, err := m.archive.Read(ctx, p, backup.ReadOptions{
		DecryptionKey:    opts.DecryptionKey,
		ValidateChecksum: !opts.SkipChecksums,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", apperr.ErrRestoreFailed, err)
	}
	return capsules, manifest, nil
}

func (m *Manager) createRecoveryPoint(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		dir = m.recoveryDir
	}
	p := path.Join(dir, fmt.Sprintf("recovery-%d%s", m.now().UnixMilli(), storage.BackupExt))
	if _, err := m.CreateBackup(ctx, p, backup.WriteOptions{}); err != nil {
		return "", fmt.Errorf("%w: recovery point: %v", apperr.ErrRestoreFailed, err)
	}
	return p, nil
}

// apply writes res.Capsules in order. Per-capsule failures are recorded and
// the batch continues; cancellation is honoured between capsules.
func (m *Manager) apply(ctx context.Context, res *Result, overwrite bool) error {
	for _, c := range res.Capsules {
		if err := ctx.Err(); err != nil {
			return err
		}
		exists, err := m.store.Exists(ctx, c.ID)
		if err != nil {
			res.fail(c.ID, err)
			continue
		}
		if exists && !overwrite {
			res.Skipped++
			continue
		}
		if err := m.store.Upsert(ctx, c); err != nil {
			res.fail(c.ID, err)
			continue
		}
		res.Restored++
	}
	res.Success = res.Failed == 0
	return nil
}

func (r *Result) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
}

// dedupe keeps the newest copy of each capsule id. Equal timestamps are
// resolved by the larger record digest so the outcome never depends on input
// order. The result is ordered by timestamp, then id.
func dedupe(capsules []models.CapsuleBackup) ([]models.CapsuleBackup, error) {
	type entry struct {
		c      models.CapsuleBackup
		digest string
	}
	latest := make(map[string]entry, len(capsules))
	for _, c := range capsules {
		d, err := checksum.Digest(c)
		if err != nil {
			return nil, err
		}
		cur, ok := latest[c.ID]
		if !ok || c.Timestamp > cur.c.Timestamp || (c.Timestamp == cur.c.Timestamp && d > cur.digest) {
			latest[c.ID] = entry{c: c, digest: d}
		}
	}
	out := make([]models.CapsuleBackup, 0, len(latest))
	for _, e := range latest {
		out = append(out, e.c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func actor(opts Options) string {
	if opts.Actor != "" {
		return opts.Actor
	}
	return defaultActor
}

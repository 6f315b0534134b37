package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/guardian/internal"
	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/capsuleservice"
	"github.com/starford/guardian/internal/index"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/parser"
	"github.com/starford/guardian/internal/restore"
	pkgconfig "github.com/starford/guardian/pkg/config"
)

var stdout io.Writer = os.Stdout

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// openRuntime builds the runtime for one-shot commands. Logs go to stderr
// so stdout carries only the JSON result.
func openRuntime(ctx context.Context, cfg *internal.Config) (*internal.Runtime, error) {
	cfg.Backup.Watch = false
	rt, err := internal.NewRuntime(internal.WithConfig(cfg), internal.WithLogWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	rt.Sync(ctx)
	return rt, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API, SSE stream and backup watcher",
		Action: serve,
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return internal.RunMCP(ctx, internal.WithConfig(cfg))
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Create or verify backup artifacts",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Snapshot the capsule store into a new backup",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "recipient", Usage: "age public key to encrypt the snapshot for"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return fmt.Errorf("%w: expected exactly one backup name", apperr.ErrInvalidInput)
					}
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					if r := cmd.String("recipient"); r != "" {
						cfg.Backup.Recipient = r
						if err := cfg.Backup.Validate(); err != nil {
							return err
						}
					}
					rt, err := openRuntime(ctx, cfg)
					if err != nil {
						return err
					}
					defer rt.Close()

					row, err := rt.Service.CreateBackup(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					return printJSON(row)
				},
			},
			{
				Name:      "verify",
				Usage:     "Check a backup's envelope, checksum and readability",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return fmt.Errorf("%w: expected exactly one backup path", apperr.ErrInvalidInput)
					}
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					rt, err := openRuntime(ctx, cfg)
					if err != nil {
						return err
					}
					defer rt.Close()

					res, err := rt.Service.VerifyBackup(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					if err := printJSON(res); err != nil {
						return err
					}
					if !res.Valid {
						return fmt.Errorf("backup %s is not valid", cmd.Args().First())
					}
					return nil
				},
			},
		},
	}
}

func restoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "key", Usage: "age identity for encrypted backups", Sources: cli.EnvVars("GUARDIAN_BACKUP_KEY")},
		&cli.BoolFlag{Name: "dry-run", Usage: "Report what would change without writing"},
		&cli.BoolFlag{Name: "overwrite", Usage: "Replace capsules that already exist"},
	}
}

func restoreCommand() *cli.Command {
	flags := append(restoreFlags(),
		&cli.BoolFlag{Name: "recovery-point", Usage: "Snapshot the capsule store before restoring"},
		&cli.BoolFlag{Name: "skip-checksums", Usage: "Do not validate payload checksums"},
		&cli.StringSliceFlag{Name: "capsule", Usage: "Restore only this capsule id (repeatable)"},
		&cli.StringSliceFlag{Name: "type", Usage: "Restore only capsules of this type (repeatable)"},
		&cli.FloatFlag{Name: "min-grief", Usage: "Minimum grief score"},
		&cli.FloatFlag{Name: "max-grief", Usage: "Maximum grief score"},
		&cli.StringFlag{Name: "since", Usage: "Earliest capsule timestamp (RFC 3339)"},
		&cli.StringFlag{Name: "until", Usage: "Latest capsule timestamp (RFC 3339)"},
	)
	return &cli.Command{
		Name:      "restore",
		Usage:     "Restore capsules from a backup",
		ArgsUsage: "<path>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("%w: expected exactly one backup path", apperr.ErrInvalidInput)
			}
			sel, err := selectiveFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := restoreOptions(cmd)
			opts.BackupPath = cmd.Args().First()
			opts.CreateRecoveryPoint = cmd.Bool("recovery-point")
			opts.SkipChecksums = cmd.Bool("skip-checksums")
			opts.Selective = sel

			res, err := rt.Service.Restore(ctx, opts)
			return report(res, err)
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge several backups, keeping the newest copy of each capsule",
		ArgsUsage: "<paths...>",
		Flags:     restoreFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return fmt.Errorf("%w: at least one backup path is required", apperr.ErrInvalidInput)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Service.MergeBackups(ctx, cmd.Args().Slice(), restoreOptions(cmd))
			return report(res, err)
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Pack a directory of Markdown capsule exports into a backup",
		ArgsUsage: "<dir> <name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "recipient", Usage: "age public key to encrypt the backup for"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("%w: expected <dir> <name>", apperr.ErrInvalidInput)
			}
			capsules, err := readCapsuleDir(cmd.Args().Get(0))
			if err != nil {
				return err
			}
			name, err := capsuleservice.BackupName(cmd.Args().Get(1))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			recipient := cfg.Backup.Recipient
			if r := cmd.String("recipient"); r != "" {
				recipient = r
			}
			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			exists, err := rt.Archive.Exists(name)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("backup %s: %w", name, apperr.ErrAlreadyExists)
			}
			if _, err := rt.Archive.Write(ctx, name, capsules, backup.WriteOptions{Recipient: recipient}); err != nil {
				return err
			}
			if err := index.CatalogFile(ctx, rt.DB, rt.Store, rt.Archive, name); err != nil {
				return err
			}
			row, err := rt.DB.GetBackup(ctx, name)
			if err != nil {
				return err
			}
			return printJSON(row)
		},
	}
}

func restoreOptions(cmd *cli.Command) restore.Options {
	return restore.Options{
		DecryptionKey:     cmd.String("key"),
		DryRun:            cmd.Bool("dry-run"),
		OverwriteExisting: cmd.Bool("overwrite"),
		Actor:             "cli",
	}
}

func selectiveFromFlags(cmd *cli.Command) (*restore.Selective, error) {
	sel := &restore.Selective{
		CapsuleIDs: cmd.StringSlice("capsule"),
		Types:      cmd.StringSlice("type"),
	}
	set := len(sel.CapsuleIDs) > 0 || len(sel.Types) > 0

	if cmd.IsSet("min-grief") || cmd.IsSet("max-grief") {
		r := &restore.ScoreRange{}
		if cmd.IsSet("min-grief") {
			v := cmd.Float("min-grief")
			r.Min = &v
		}
		if cmd.IsSet("max-grief") {
			v := cmd.Float("max-grief")
			r.Max = &v
		}
		sel.GriefScoreRange = r
		set = true
	}

	if cmd.IsSet("since") || cmd.IsSet("until") {
		r := &restore.DateRange{}
		for _, f := range []struct {
			name string
			dst  **int64
		}{{"since", &r.Start}, {"until", &r.End}} {
			if !cmd.IsSet(f.name) {
				continue
			}
			ts, err := time.Parse(time.RFC3339, cmd.String(f.name))
			if err != nil {
				return nil, fmt.Errorf("%w: --%s: %v", apperr.ErrInvalidInput, f.name, err)
			}
			ms := ts.UnixMilli()
			*f.dst = &ms
		}
		sel.DateRange = r
		set = true
	}

	if !set {
		return nil, nil
	}
	return sel, nil
}

// report prints res even when err is set, since a failed restore still
// carries per-capsule outcomes.
func report(res *restore.Result, err error) error {
	if res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%d capsule(s) failed", res.Failed)
	}
	return nil
}

// readCapsuleDir parses every Markdown file directly inside dir. The file
// name without extension is the fallback id and its modification time the
// fallback timestamp.
func readCapsuleDir(dir string) ([]models.CapsuleBackup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var capsules []models.CapsuleBackup
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		c, err := parser.ParseCapsule(data, id, info.ModTime())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		capsules = append(capsules, c)
	}
	if len(capsules) == 0 {
		return nil, fmt.Errorf("%w: no Markdown capsules in %s", apperr.ErrInvalidInput, dir)
	}
	sort.Slice(capsules, func(i, j int) bool { return capsules[i].ID < capsules[j].ID })
	return capsules, nil
}

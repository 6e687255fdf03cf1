package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/logx"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/servicejob"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/state"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/version"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/workflow"
)

// operations that keep a last-operation file.
var operations = []string{"backup", "restore", "blob"}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "operator",
		Short:         "Back up and restore the persistent volume of a service instance",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usageError{errors.New("a command is required")}
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("iaas-backup-restore {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	cmd.AddCommand(
		newBackupCmd(),
		newRestoreCmd(),
		newBlobCmd(),
		newStatusCmd(stdout),
		newLogsCmd(stdout),
		newVersionCmd(stdout),
	)
	return cmd
}

// sessionFlags override the session fields of the config when set.
type sessionFlags struct {
	guid, backupType, instance, landscape string
}

func (f *sessionFlags) bind(cmd *cobra.Command, withType bool) {
	cmd.Flags().StringVar(&f.guid, "guid", "", "backup GUID (env BACKUP_GUID)")
	cmd.Flags().StringVar(&f.instance, "instance", "", "instance id (env INSTANCE_ID)")
	cmd.Flags().StringVar(&f.landscape, "landscape", "", "IaaS landscape (env IAAS_LANDSCAPE)")
	if withType {
		cmd.Flags().StringVar(&f.backupType, "type", "", "online or offline (env BACKUP_TYPE)")
	}
}

func (f sessionFlags) session(cfg config.Config) workflow.Session {
	s := workflow.Session{
		BackupGUID: pick(f.guid, cfg.BackupGUID),
		Type:       pick(f.backupType, cfg.BackupType),
		InstanceID: pick(f.instance, cfg.InstanceID),
		Landscape:  pick(f.landscape, cfg.Landscape),
	}
	if s.Landscape == "" {
		s.Landscape = cfg.Compute
	}
	return s
}

func pick(flag, def string) string {
	if flag != "" {
		return flag
	}
	return def
}

func options(cfg config.Config) workflow.Options {
	return workflow.Options{SnapshotNative: cfg.SnapshotNative}
}

func newBackupCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the persistent volume of an instance",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return operate(cmd.Context(), "backup", true, func(ctx context.Context, cfg config.Config, c *iaas.Client) error {
				return runBackup(ctx, c, f.session(cfg), options(cfg))
			})
		},
	}
	f.bind(cmd, true)
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var f sessionFlags
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup onto the persistent volume of an instance",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return operate(cmd.Context(), "restore", true, func(ctx context.Context, cfg config.Config, c *iaas.Client) error {
				return runRestore(ctx, c, f.session(cfg), options(cfg))
			})
		},
	}
	f.bind(cmd, false)
	return cmd
}

func newBlobCmd() *cobra.Command {
	var t workflow.Transfer
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Upload one file to and download one blob from the blob store",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return operate(cmd.Context(), "blob", false, func(ctx context.Context, cfg config.Config, c *iaas.Client) error {
				return runBlob(ctx, c, workflow.Transfer{
					UploadSource:      pick(t.UploadSource, cfg.Transfer.UploadSource),
					UploadDestination: pick(t.UploadDestination, cfg.Transfer.UploadDestination),
					DownloadSource:    pick(t.DownloadSource, cfg.Transfer.DownloadSource),
					DownloadTarget:    pick(t.DownloadTarget, cfg.Transfer.DownloadTarget),
				})
			})
		},
	}
	cmd.Flags().StringVar(&t.UploadSource, "upload-source", "", "local file to upload (env BLOB_UPLOAD_SOURCE)")
	cmd.Flags().StringVar(&t.UploadDestination, "upload-destination", "", "blob key to upload to (env BLOB_UPLOAD_DESTINATION)")
	cmd.Flags().StringVar(&t.DownloadSource, "download-source", "", "blob key to download (env BLOB_DOWNLOAD_SOURCE)")
	cmd.Flags().StringVar(&t.DownloadTarget, "download-target", "", "local file to download to (env BLOB_DOWNLOAD_TARGET)")
	return cmd
}

func newStatusCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:       "status <backup|restore|blob>",
		Short:     "Print the last operation state as JSON",
		Args:      opArgs,
		ValidArgs: operations,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			lo, err := state.NewDir(cfg.StateDir).Read(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(lo)
		},
	}
}

// opArgs accepts exactly one operation name.
func opArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || !slices.Contains(operations, args[0]) {
		return usageError{fmt.Errorf("%s needs one of %v", cmd.Name(), operations)}
	}
	return nil
}

func newLogsCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:       "logs <backup|restore|blob>",
		Short:     "Print the log file of the last runs of an operation",
		Args:      opArgs,
		ValidArgs: operations,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if strings.TrimSpace(cfg.LogDir) == "" {
				return usageError{errors.New("LOG_DIR is not set, no operation logs are kept")}
			}
			f, err := os.Open(logx.OperationLog(cfg.LogDir, args[0]))
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			_, err = io.Copy(stdout, f)
			return err
		},
	}
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		Run: func(*cobra.Command, []string) {
			_, _ = fmt.Fprintf(stdout, "iaas-backup-restore %s\n", version.Info())
		},
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

// operate runs one workflow with its log file, client and state rescue.
func operate(ctx context.Context, op string, withCompute bool, run func(context.Context, config.Config, *iaas.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	closer, err := logx.TeeOperation(cfg.LogDir, op)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	dir := state.NewDir(cfg.StateDir)
	defer func() {
		if _, rerr := dir.Rescue(op); rerr != nil {
			log.Error().Err(rerr).Str("action", op).Msg("state rescue failed")
		}
	}()

	failed := func(err error) error {
		if werr := dir.Write(op, state.Failed, err.Error()); werr != nil {
			log.Error().Err(werr).Str("action", op).Msg("failed to record last operation")
		}
		return err
	}

	// backup and restore encrypt or decrypt tarballs with the secret.
	if withCompute && strings.TrimSpace(cfg.Secret) == "" {
		return failed(usageError{fmt.Errorf("BACKUP_SECRET is required for %s", op)})
	}
	client, err := newClient(cfg, op, withCompute)
	if err != nil {
		return failed(err)
	}
	client.State = dir.For(op)

	start := time.Now()
	err = run(ctx, cfg, client)
	if errors.Is(err, workflow.ErrInvalidSession) {
		return failed(usageError{err})
	}
	var abort *workflow.AbortError
	if errors.As(err, &abort) && len(abort.Orphaned) > 0 {
		log.Warn().Str("action", op).Strs("orphaned", abort.Orphaned).Msg("resources left behind")
	}
	if err != nil {
		return err
	}
	log.Info().Str("action", op).Str("blobstore", cfg.BlobStore).
		Dur("elapsed_ms", time.Since(start)).Msg(op + " OK")
	return nil
}

// newClient builds the driver for one operation. The blob operation does
// not touch volumes and runs without a compute backend.
func newClient(cfg config.Config, op string, withCompute bool) (*iaas.Client, error) {
	store, err := newStore(cfg.BlobStore, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store %s: %w", cfg.BlobStore, err)
	}
	cmd := newCommand()
	c := &iaas.Client{
		Host:   iaas.NewHost(cmd),
		Store:  store,
		Secret: cfg.Secret,
	}
	if !withCompute {
		return c, nil
	}
	c.Compute, err = newCompute(cfg.Compute, cfg)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", cfg.Compute, err)
	}
	if cfg.Job.Name != "" {
		c.Job = servicejob.NewMonit(cmd, cfg.Job.Name, cfg.Job.PollInterval, cfg.Job.Timeout)
	} else {
		log.Warn().Str("action", op).Msg("SERVICE_JOB not set, steps that stop or start the job will fail")
	}
	return c, nil
}

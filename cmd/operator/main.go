package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/logx"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/sysexec"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/workflow"

	_ "github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore/azure"
	_ "github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore/local"
	_ "github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore/sftp"
	_ "github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas/incus"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig func() (config.Config, error)                                                = config.Load
	newStore   func(name string, cfg any) (blobstore.Store, error)                          = blobstore.New
	newCompute func(name string, cfg any) (iaas.Compute, error)                             = iaas.NewCompute
	newCommand func() sysexec.Command                                                       = sysexec.New
	runBackup  func(context.Context, iaas.Driver, workflow.Session, workflow.Options) error = workflow.Backup
	runRestore func(context.Context, iaas.Driver, workflow.Session, workflow.Options) error = workflow.Restore
	runBlob    func(context.Context, iaas.Driver, workflow.Transfer) error                  = workflow.BlobTransfer
	exit       func(int)                                                                    = os.Exit
)

// usageError marks bad invocations; they exit with code 2.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

// main wires CLI -> config -> client -> workflow.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	ctx := withSignals(context.Background())
	exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	log.Error().Err(err).Msg("operation failed")
	return 1
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}

package sysexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Command runs one system command and returns its captured output.
type Command interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type osCommand struct{}

// New returns a Command backed by os/exec.
func New() Command {
	return osCommand{}
}

func (osCommand) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	log.Debug().Str("action", "exec").Str("cmd", name+" "+strings.Join(args, " ")).Msg("running")
	err := cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

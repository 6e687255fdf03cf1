package iaas

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/retry"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/sysexec"
)

// Host performs the filesystem and device work on the instance itself.
// Command failures are reported as false; the caller decides the message.
type Host struct {
	cmd sysexec.Command
	// DeviceWait bounds how long GetMountpoint waits for a device node.
	DeviceWait time.Duration
	DevicePoll time.Duration
	stat       func(string) (fs.FileInfo, error)
}

// NewHost returns a Host running commands through cmd.
func NewHost(cmd sysexec.Command) *Host {
	return &Host{cmd: cmd, DeviceWait: time.Minute, DevicePoll: time.Second, stat: os.Stat}
}

// run executes a command and reports success. Output goes to the debug log.
func (h *Host) run(ctx context.Context, name string, args ...string) bool {
	stdout, stderr, err := h.cmd.Run(ctx, name, args...)
	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("action", "host").Str("cmd", name).Strs("args", args).
		Str("stdout", strings.TrimSpace(string(stdout))).
		Str("stderr", strings.TrimSpace(string(stderr))).
		Msg("command finished")
	return err == nil
}

// expand resolves a trailing glob, e.g. "/var/vcap/store/files/*".
func expand(path string) ([]string, error) {
	if !strings.ContainsAny(path, "*?[") {
		return []string{path}, nil
	}
	return filepath.Glob(path)
}

// DeleteDirectory removes path recursively. Globs are expanded; a missing
// path counts as removed.
func (h *Host) DeleteDirectory(_ context.Context, path string) (bool, error) {
	matches, err := expand(path)
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			log.Warn().Err(err).Str("action", "host").Str("path", m).Msg("remove failed")
			return false, nil
		}
	}
	return true, nil
}

func (h *Host) CreateDirectory(_ context.Context, path string) (bool, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		log.Warn().Err(err).Str("action", "host").Str("path", path).Msg("mkdir failed")
		return false, nil
	}
	return true, nil
}

// CopyDirectory copies src (globs allowed) into dest preserving attributes.
func (h *Host) CopyDirectory(ctx context.Context, src, dest string) (bool, error) {
	matches, err := expand(src)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		log.Info().Str("action", "host").Str("src", src).Msg("nothing to copy")
		return true, nil
	}
	args := append([]string{"-a"}, matches...)
	return h.run(ctx, "cp", append(args, dest)...), nil
}

func (h *Host) FormatDevice(ctx context.Context, device string) (bool, error) {
	return h.run(ctx, "mkfs.ext4", "-F", device), nil
}

func (h *Host) MountDevice(ctx context.Context, device, path string) (bool, error) {
	return h.run(ctx, "mount", device, path), nil
}

func (h *Host) UnmountDevice(ctx context.Context, device string) (bool, error) {
	return h.run(ctx, "umount", device), nil
}

// WaitForDevice blocks until the device node exists or DeviceWait elapses.
func (h *Host) WaitForDevice(ctx context.Context, device string) (bool, error) {
	err := retry.Poll(ctx, h.DevicePoll, h.DeviceWait, func(context.Context) (bool, error) {
		_, err := h.stat(device)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	})
	if errors.Is(err, retry.ErrTimeout) {
		log.Warn().Str("action", "host").Str("device", device).Dur("waited", h.DeviceWait).Msg("device did not appear")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", device, err)
	}
	return true, nil
}

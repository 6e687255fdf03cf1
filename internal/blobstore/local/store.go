package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
)

// Store keeps blobs as files below a local directory.
type Store struct {
	root string
}

// New returns a store rooted at root.
func New(root string) *Store { return &Store{root: root} }

func init() {
	blobstore.Register("local", func(cfg any) (blobstore.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("local: invalid config type %T", cfg)
		}
		return New(c.Local.Root), nil
	})
}

func (s *Store) Name() string { return "local" }

func (s *Store) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return p, nil
}

func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	cs, err := blobstore.FileChecksum(localPath)
	if err != nil {
		return err
	}
	if err := copyFile(ctx, localPath, dest); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Info().Str("action", "local_upload").Str("key", key).
		Str("sha256", cs.SHA256).Int64("size", cs.Size).Msg("OK")
	return nil
}

func (s *Store) Download(ctx context.Context, key, localPath string) error {
	src, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	if err := copyFile(ctx, src, localPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	log.Info().Str("action", "local_download").Str("key", key).Str("local", localPath).Msg("OK")
	return nil
}

// copyFile writes through a temporary file in the destination directory.
func copyFile(ctx context.Context, src, dest string) (err error) {
	start := time.Now()
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part.*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, readerCtx{ctx, in}); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	log.Debug().Str("src", src).Str("dest", dest).Dur("elapsed_ms", time.Since(start)).Msg("copied")
	return nil
}

type readerCtx struct {
	ctx context.Context
	r   io.Reader
}

func (r readerCtx) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

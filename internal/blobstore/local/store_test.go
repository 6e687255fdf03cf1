package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
)

func TestRoundTrip(t *testing.T) {
	s, err := blobstore.New("local", config.Config{Local: config.LocalConfig{Root: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	src := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"snapshotId":"s"}`), 0o600))
	require.NoError(t, s.Upload(context.Background(), src, "guid/blueprint-metadata.json"))

	dst := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, s.Download(context.Background(), "/guid/blueprint-metadata.json", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, `{"snapshotId":"s"}`, string(data))
}

func TestMissingAndEscaping(t *testing.T) {
	s := New(t.TempDir())
	err := s.Download(context.Background(), "guid/none", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	err = s.Upload(context.Background(), "/etc/hostname", "../outside")
	assert.ErrorContains(t, err, "escapes")
}

func TestCanceled(t *testing.T) {
	s := New(t.TempDir())
	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o600))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Upload(ctx, src, "k"), context.Canceled)
}

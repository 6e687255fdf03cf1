package archive

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
)

var secret = []byte("s3cr3t")

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "db", "wal"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "db", "data.bin"), []byte("payload"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "db", "wal", "0001"), []byte("log"), 0o600))
	require.NoError(t, os.Symlink("db/data.bin", filepath.Join(src, "current")))

	out := filepath.Join(t.TempDir(), "files.tar.gz.gpg")
	require.NoError(t, CreateEncrypted(context.Background(), src, out, secret))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "payload")

	dest := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, DecryptExtract(context.Background(), out, dest, secret))

	data, err := os.ReadFile(filepath.Join(dest, "db", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	info, err := os.Stat(filepath.Join(dest, "db", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	data, err = os.ReadFile(filepath.Join(dest, "db", "wal", "0001"))
	require.NoError(t, err)
	assert.Equal(t, "log", string(data))

	link, err := os.Readlink(filepath.Join(dest, "current"))
	require.NoError(t, err)
	assert.Equal(t, "db/data.bin", link)
}

func TestWrongPassphrase(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0o600))
	out := filepath.Join(t.TempDir(), "a.gpg")
	require.NoError(t, CreateEncrypted(context.Background(), src, out, secret))

	err := DecryptExtract(context.Background(), out, t.TempDir(), []byte("nope"))
	assert.Error(t, err)
}

func TestEmptyPassphrase(t *testing.T) {
	assert.ErrorIs(t, CreateEncrypted(context.Background(), t.TempDir(), "x", nil), ErrNoPassphrase)
	assert.ErrorIs(t, DecryptExtract(context.Background(), "x", t.TempDir(), nil), ErrNoPassphrase)
}

func TestRejectsEscapingEntries(t *testing.T) {
	for _, hdr := range []*tar.Header{
		{Name: "../evil", Typeflag: tar.TypeReg, Mode: 0o600, Size: 1},
		{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd"},
		{Name: "abs", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"},
	} {
		t.Run(hdr.Name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "evil.gpg")
			writeEncrypted(t, out, hdr)

			dest := t.TempDir()
			err := DecryptExtract(context.Background(), out, filepath.Join(dest, "in"), secret)
			require.ErrorIs(t, err, ErrUnsafePath)
			_, statErr := os.Stat(filepath.Join(dest, "evil"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func writeEncrypted(t *testing.T, path string, hdr *tar.Header) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	enc, err := openpgp.SymmetricallyEncrypt(f, secret, nil, nil)
	require.NoError(t, err)
	zw := gzip.NewWriter(enc)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(hdr))
	if hdr.Size > 0 {
		_, err = tw.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, enc.Close())
}

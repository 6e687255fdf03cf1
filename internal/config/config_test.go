package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BLOBSTORE_PROVIDER", "local")
	t.Setenv("LOCAL_BLOBSTORE_ROOT", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "incus", cfg.Compute)
	assert.Equal(t, "online", cfg.BackupType)
	assert.Equal(t, []string{"aws"}, cfg.SnapshotNative)
	assert.Equal(t, 10*time.Second, cfg.Job.PollInterval)
	assert.Equal(t, 18000*time.Second, cfg.Job.Timeout)
	assert.Equal(t, "/var/vcap/store/myfiles.tar.gz", cfg.Transfer.UploadSource)
	assert.Equal(t, "myfiles.tar.gz", cfg.Transfer.UploadDestination)
	assert.Equal(t, "/var/vcap/store/download.tar.gz", cfg.Transfer.DownloadTarget)
	assert.Equal(t, "persistent", cfg.Incus.PersistentDevice)
	assert.Equal(t, "default", cfg.Incus.Pool)
	assert.Equal(t, 5, cfg.RetryOptions().MaxAttempts)
}

func TestLoad_FileBeneathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blobstore_provider: sftp
SFTP_HOST: files.internal
SFTP_USER: backup
SFTP_PASSWORD: hunter2
SFTP_PORT: 2222
job_timeout: 60
snapshot_native_landscapes: [aws, Incus]
IAAS_LANDSCAPE: openstack
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("IAAS_LANDSCAPE", "aws")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sftp", cfg.BlobStore)
	assert.Equal(t, 2222, cfg.SFTP.Port)
	assert.Equal(t, time.Minute, cfg.Job.Timeout)
	assert.Equal(t, []string{"aws", "incus"}, cfg.SnapshotNative)
	assert.Equal(t, "aws", cfg.Landscape, "environment wins over the file")
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"azure without account": {"BLOBSTORE_PROVIDER": "azure"},
		"sftp without auth":     {"BLOBSTORE_PROVIDER": "sftp", "SFTP_HOST": "h", "SFTP_USER": "u"},
		"local without root":    {"BLOBSTORE_PROVIDER": "local"},
		"unknown store":         {"BLOBSTORE_PROVIDER": "s3"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nested:\n  key: value\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

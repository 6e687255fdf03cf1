package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	downloadsDir = "/tmp/service-fabrik-restore/downloads"
	downloaded   = downloadsDir + "/blueprint-files.tar.gz.gpg"
)

func TestRestore_TarballPayload(t *testing.T) {
	for _, meta := range []string{"", "{}", `{"snapshotId": null}`, `{"snapshotId": ""}`} {
		t.Run(meta, func(t *testing.T) {
			drv := newFakeDriver()
			drv.metadata = meta
			opts := testOptions(t)

			require.NoError(t, Restore(context.Background(), drv, session("", "openstack"), opts))

			metaPath := filepath.Join(opts.Layout.MetadataDir, "blueprint-metadata.json")
			want := []string{
				"Initialize",
				"GetPersistentVolumeForInstance(inst-1)",
				"DownloadFromBlobstore(guid-1/blueprint-metadata.json, " + metaPath + ")",
				"CreateVolume(10, )",
				"CreateAttachment(vol-1, inst-1)",
				"GetMountpoint(vol-1, )",
				"DeleteDirectory(" + downloadsDir + ")",
				"CreateDirectory(" + downloadsDir + ")",
				"FormatDevice(/dev/vol-1)",
				"MountDevice(/dev/vol-1, " + downloadsDir + ")",
				"DownloadFromBlobstore(guid-1/blueprint-files.tar.gz.gpg, " + downloaded + ")",
				"StopServiceJob",
				"WaitForServiceJobStatus(not monitored)",
				"DecryptAndExtractTarballOfDirectory(" + downloaded + ", " + filesDir + ")",
				"StartServiceJob",
				"UnmountDevice(/dev/vol-1)",
				"DeleteDirectory(" + downloadsDir + ")",
				"DeleteAttachment(vol-1, inst-1)",
				"DeleteVolume(vol-1)",
				"WaitForServiceJobStatus(running)",
				"Finalize",
			}
			assert.Equal(t, want, drv.trace())
		})
	}
}

func TestRestore_SnapshotPayload(t *testing.T) {
	drv := newFakeDriver()
	drv.metadata = `{"snapshotId": "enc-snap-1"}`
	opts := testOptions(t)

	require.NoError(t, Restore(context.Background(), drv, session("", "aws"), opts))

	metaPath := filepath.Join(opts.Layout.MetadataDir, "blueprint-metadata.json")
	want := []string{
		"Initialize",
		"GetPersistentVolumeForInstance(inst-1)",
		"DownloadFromBlobstore(guid-1/blueprint-metadata.json, " + metaPath + ")",
		"CreateVolume(10, enc-snap-1)",
		"CreateAttachment(vol-1, inst-1)",
		"GetMountpoint(vol-1, 1)",
		"DeleteDirectory(" + downloadsDir + ")",
		"CreateDirectory(" + downloadsDir + ")",
		"MountDevice(/dev/vol-1-part1, " + downloadsDir + ")",
		"StopServiceJob",
		"WaitForServiceJobStatus(not monitored)",
		"DeleteDirectory(" + filesDir + "/*)",
		"CreateDirectory(" + filesDir + ")",
		"CopyDirectory(" + downloadsDir + "/blueprint/files/*, " + filesDir + ")",
		"StartServiceJob",
		"UnmountDevice(/dev/vol-1-part1)",
		"DeleteDirectory(" + downloadsDir + ")",
		"DeleteAttachment(vol-1, inst-1)",
		"DeleteVolume(vol-1)",
		"WaitForServiceJobStatus(running)",
		"Finalize",
	}
	assert.Equal(t, want, drv.trace())
	assert.Zero(t, drv.count("FormatDevice"), "a volume cloned from a snapshot must not be formatted")
}

func TestRestore_FollowsSnapshotBackup(t *testing.T) {
	opts := testOptions(t)

	backup := newFakeDriver()
	require.NoError(t, Backup(context.Background(), backup, session(Online, "aws"), opts))
	written, err := os.ReadFile(opts.Layout.MetadataPath())
	require.NoError(t, err)

	restore := newFakeDriver()
	restore.metadata = string(written)
	require.NoError(t, Restore(context.Background(), restore, session("", "aws"), opts))

	assert.NotEqual(t, -1, restore.index("CreateVolume(10, enc-snap-vol-persistent)"))
	assert.Zero(t, restore.count("DecryptAndExtractTarballOfDirectory"))
}

func TestRestore_MetadataProblemsAbort(t *testing.T) {
	t.Run("download fails", func(t *testing.T) {
		drv := newFakeDriver()
		drv.failAt["DownloadFromBlobstore"] = 1

		err := Restore(context.Background(), drv, session("", "aws"), testOptions(t))

		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, StepFailure, ae.Kind)
		assert.Equal(t, []string{"Could not download the metadata blueprint-metadata.json for backup guid guid-1."}, drv.exits)
		assert.Zero(t, drv.count("CreateVolume"))
	})
	t.Run("corrupt", func(t *testing.T) {
		drv := newFakeDriver()
		drv.metadata = "not json"

		err := Restore(context.Background(), drv, session("", "aws"), testOptions(t))

		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, UnexpectedException, ae.Kind)
		assert.Equal(t, "read metadata", ae.Step)
		assert.Zero(t, drv.count("CreateVolume"))
		assert.Len(t, drv.exits, 1)
	})
}

func TestRestore_FailureStopsBeforeJobRestart(t *testing.T) {
	drv := newFakeDriver()
	drv.failAt["DecryptAndExtractTarballOfDirectory"] = 1

	err := Restore(context.Background(), drv, session("", "openstack"), testOptions(t))

	var ae *AbortError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Could not decrypt and extract the tarball "+downloaded+" to the persistent volume.", ae.Message)
	assert.Zero(t, drv.count("StartServiceJob"))
	assert.Zero(t, drv.count("UnmountDevice"))
	assert.Equal(t, []string{
		"volume vol-1",
		"attachment vol-1",
		"directory " + downloadsDir,
		"mount /dev/vol-1",
	}, ae.Orphaned)
}

func TestRestore_InvalidSession(t *testing.T) {
	drv := newFakeDriver()
	err := Restore(context.Background(), drv, Session{InstanceID: "i"}, Options{})
	require.ErrorIs(t, err, ErrInvalidSession)
	err = Restore(context.Background(), drv, Session{BackupGUID: "g"}, Options{})
	require.ErrorIs(t, err, ErrInvalidSession)
	assert.Empty(t, drv.calls)
}

func TestRestore_MissingPersistentVolumeAbortsFirst(t *testing.T) {
	for name, arm := range map[string]func(*fakeDriver){
		"not found": func(d *fakeDriver) { d.failAt["GetPersistentVolumeForInstance"] = 1 },
		"error":     func(d *fakeDriver) { d.errAt["GetPersistentVolumeForInstance"] = 1 },
	} {
		t.Run(name, func(t *testing.T) {
			drv := newFakeDriver()
			arm(drv)

			err := Restore(context.Background(), drv, session("", "aws"), testOptions(t))

			var ae *AbortError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "discover persistent volume", ae.Step)
			assert.Empty(t, ae.Orphaned)
			assert.Equal(t, []string{"Initialize", "GetPersistentVolumeForInstance", "Exit"}, drv.methods())
			assert.Len(t, drv.exits, 1)
			for _, m := range []string{
				"DownloadFromBlobstore", "CreateVolume", "CreateAttachment", "FormatDevice",
				"MountDevice", "StopServiceJob", "DeleteDirectory", "Finalize",
			} {
				assert.Zero(t, drv.count(m), m)
			}
			if name == "not found" {
				assert.Equal(t, StepFailure, ae.Kind)
				assert.Equal(t, []string{"Could not find the persistent volume attached to this instance."}, drv.exits)
			} else {
				assert.Equal(t, UnexpectedException, ae.Kind)
				assert.Equal(t, []string{"An unexpected exception occurred: GetPersistentVolumeForInstance boom"}, drv.exits)
			}
		})
	}
}

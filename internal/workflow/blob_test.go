package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobTransfer(t *testing.T) {
	tr := Transfer{
		UploadSource:      "/var/vcap/store/myfiles.tar.gz",
		UploadDestination: "myfiles.tar.gz",
		DownloadSource:    "myfiles.tar.gz",
		DownloadTarget:    "/var/vcap/store/download.tar.gz",
	}

	t.Run("ok", func(t *testing.T) {
		drv := newFakeDriver()
		require.NoError(t, BlobTransfer(context.Background(), drv, tr))
		assert.Equal(t, []string{
			"Initialize",
			"UploadToBlobstore(/var/vcap/store/myfiles.tar.gz, myfiles.tar.gz)",
			"DownloadFromBlobstore(myfiles.tar.gz, /var/vcap/store/download.tar.gz)",
			"Finalize",
		}, drv.trace())
	})

	t.Run("upload fails", func(t *testing.T) {
		drv := newFakeDriver()
		drv.failAt["UploadToBlobstore"] = 1
		err := BlobTransfer(context.Background(), drv, tr)
		require.ErrorIs(t, err, ErrAborted)
		assert.Zero(t, drv.count("DownloadFromBlobstore"))
		assert.Equal(t, []string{"Could not upload the file /var/vcap/store/myfiles.tar.gz to myfiles.tar.gz."}, drv.exits)
	})

	t.Run("invalid", func(t *testing.T) {
		drv := newFakeDriver()
		bad := tr
		bad.DownloadTarget = " "
		require.ErrorIs(t, BlobTransfer(context.Background(), drv, bad), ErrInvalidSession)
		assert.Empty(t, drv.calls)
	})
}

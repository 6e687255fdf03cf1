package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

// Transfer names one upload and one download between local files and blob keys.
type Transfer struct {
	UploadSource      string
	UploadDestination string
	DownloadSource    string
	DownloadTarget    string
}

// BlobTransfer uploads one local file and downloads one blob. It does not
// touch volumes.
func BlobTransfer(ctx context.Context, drv iaas.Driver, t Transfer) error {
	for k, v := range map[string]string{
		"upload source":      t.UploadSource,
		"upload destination": t.UploadDestination,
		"download source":    t.DownloadSource,
		"download target":    t.DownloadTarget,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidSession, k)
		}
	}

	p := &Plan{}
	p.Do("upload file",
		func(ctx context.Context) (bool, error) {
			return drv.UploadToBlobstore(ctx, t.UploadSource, t.UploadDestination)
		},
		msg("Could not upload the file %s to %s.", t.UploadSource, t.UploadDestination))
	p.Do("download file",
		func(ctx context.Context) (bool, error) {
			return drv.DownloadFromBlobstore(ctx, t.DownloadSource, t.DownloadTarget)
		},
		msg("Could not download the blob %s to %s.", t.DownloadSource, t.DownloadTarget))

	r := NewRunner(drv, "blob")
	if err := r.Start(ctx); err != nil {
		return err
	}
	if err := r.Run(ctx, p); err != nil {
		return err
	}
	return r.Finish(ctx)
}

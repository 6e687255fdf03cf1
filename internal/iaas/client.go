package iaas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/archive"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/servicejob"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/state"
)

// Client is the Driver used in production. It composes a compute backend,
// host commands, the archive codec, a blob store, the service job
// controller and the last-operation recorder. Parts a workflow does not use
// may be nil; calling them returns ErrUnsupported.
type Client struct {
	Compute Compute
	Host    *Host
	Store   blobstore.Store
	Job     servicejob.Controller
	State   state.Recorder
	// Secret is the passphrase of the tarball encryption.
	Secret string

	exitOnce sync.Once
}

var _ Driver = (*Client)(nil)

func (c *Client) recorder() state.Recorder {
	if c.State == nil {
		return state.Discard{}
	}
	return c.State
}

func (c *Client) Initialize(context.Context) error {
	return c.recorder().Record(state.Processing, "Operation started.")
}

func (c *Client) Finalize(context.Context) error {
	return c.recorder().Record(state.Succeeded, "Operation finished successfully.")
}

// Exit records the abort. Recording errors are logged; the run is over.
func (c *Client) Exit(_ context.Context, message string) {
	c.exitOnce.Do(func() {
		log.Error().Str("action", "exit").Msg(message)
		if err := c.recorder().Record(state.Failed, message); err != nil {
			log.Error().Err(err).Str("action", "exit").Msg("failed to record last operation")
		}
	})
}

func (c *Client) compute() (Compute, error) {
	if c.Compute == nil {
		return nil, fmt.Errorf("compute: %w", ErrUnsupported)
	}
	return c.Compute, nil
}

// notFound turns ErrNotFound into a falsy result and keeps other errors.
func notFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Msg("resource not found")
		return nil, nil
	}
	return v, err
}

func done(err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Msg("resource not found")
		return false, nil
	}
	return err == nil, err
}

func (c *Client) GetPersistentVolumeForInstance(ctx context.Context, instanceID string) (*Volume, error) {
	cp, err := c.compute()
	if err != nil {
		return nil, err
	}
	return notFound(cp.PersistentVolume(ctx, instanceID))
}

func (c *Client) CreateSnapshot(ctx context.Context, volumeID string) (*Snapshot, error) {
	cp, err := c.compute()
	if err != nil {
		return nil, err
	}
	return notFound(cp.CreateSnapshot(ctx, volumeID))
}

func (c *Client) CopySnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	cp, err := c.compute()
	if err != nil {
		return nil, err
	}
	return notFound(cp.CopySnapshot(ctx, snapshotID))
}

func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) (bool, error) {
	cp, err := c.compute()
	if err != nil {
		return false, err
	}
	return done(cp.DeleteSnapshot(ctx, snapshotID))
}

func (c *Client) CreateVolume(ctx context.Context, size int64, sourceSnapshotID string) (*Volume, error) {
	cp, err := c.compute()
	if err != nil {
		return nil, err
	}
	return notFound(cp.CreateVolume(ctx, size, sourceSnapshotID))
}

func (c *Client) DeleteVolume(ctx context.Context, volumeID string) (bool, error) {
	cp, err := c.compute()
	if err != nil {
		return false, err
	}
	return done(cp.DeleteVolume(ctx, volumeID))
}

func (c *Client) CreateAttachment(ctx context.Context, volumeID, instanceID string) (*Attachment, error) {
	cp, err := c.compute()
	if err != nil {
		return nil, err
	}
	return notFound(cp.Attach(ctx, volumeID, instanceID))
}

func (c *Client) DeleteAttachment(ctx context.Context, volumeID, instanceID string) (bool, error) {
	cp, err := c.compute()
	if err != nil {
		return false, err
	}
	return done(cp.Detach(ctx, volumeID, instanceID))
}

// GetMountpoint resolves the device path and waits for the node to appear.
func (c *Client) GetMountpoint(ctx context.Context, volumeID, partition string) (string, error) {
	cp, err := c.compute()
	if err != nil {
		return "", err
	}
	dev, err := cp.DevicePath(ctx, volumeID, partition)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil || dev == "" {
		return "", err
	}
	if c.Host != nil {
		ok, err := c.Host.WaitForDevice(ctx, dev)
		if err != nil || !ok {
			return "", err
		}
	}
	return dev, nil
}

func (c *Client) host() (*Host, error) {
	if c.Host == nil {
		return nil, fmt.Errorf("host: %w", ErrUnsupported)
	}
	return c.Host, nil
}

func (c *Client) DeleteDirectory(ctx context.Context, path string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.DeleteDirectory(ctx, path)
}

func (c *Client) CreateDirectory(ctx context.Context, path string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.CreateDirectory(ctx, path)
}

func (c *Client) CopyDirectory(ctx context.Context, src, dest string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.CopyDirectory(ctx, src, dest)
}

func (c *Client) FormatDevice(ctx context.Context, device string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.FormatDevice(ctx, device)
}

func (c *Client) MountDevice(ctx context.Context, device, path string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.MountDevice(ctx, device, path)
}

func (c *Client) UnmountDevice(ctx context.Context, device string) (bool, error) {
	h, err := c.host()
	if err != nil {
		return false, err
	}
	return h.UnmountDevice(ctx, device)
}

// CreateAndEncryptTarballOfDirectory reports archive failures as false.
func (c *Client) CreateAndEncryptTarballOfDirectory(ctx context.Context, src, dest string) (bool, error) {
	if err := archive.CreateEncrypted(ctx, src, dest, []byte(c.Secret)); err != nil {
		log.Error().Err(err).Str("action", "archive_create").Str("src", src).Msg("tarball failed")
		return false, nil
	}
	return true, nil
}

func (c *Client) DecryptAndExtractTarballOfDirectory(ctx context.Context, src, destDir string) (bool, error) {
	if err := archive.DecryptExtract(ctx, src, destDir, []byte(c.Secret)); err != nil {
		log.Error().Err(err).Str("action", "archive_extract").Str("src", src).Msg("extract failed")
		return false, nil
	}
	return true, nil
}

// UploadToBlobstore reports transport failures (after retries) as false.
func (c *Client) UploadToBlobstore(ctx context.Context, localPath, remoteKey string) (bool, error) {
	if c.Store == nil {
		return false, fmt.Errorf("blob store: %w", ErrUnsupported)
	}
	if err := c.Store.Upload(ctx, localPath, remoteKey); err != nil {
		log.Error().Err(err).Str("action", "upload").Str("store", c.Store.Name()).Str("key", remoteKey).Msg("upload failed")
		return false, nil
	}
	return true, nil
}

func (c *Client) DownloadFromBlobstore(ctx context.Context, remoteKey, localPath string) (bool, error) {
	if c.Store == nil {
		return false, fmt.Errorf("blob store: %w", ErrUnsupported)
	}
	if err := c.Store.Download(ctx, remoteKey, localPath); err != nil {
		log.Error().Err(err).Str("action", "download").Str("store", c.Store.Name()).Str("key", remoteKey).Msg("download failed")
		return false, nil
	}
	return true, nil
}

func (c *Client) StopServiceJob(ctx context.Context) error {
	if c.Job == nil {
		return fmt.Errorf("service job: %w", ErrUnsupported)
	}
	return c.Job.Stop(ctx)
}

func (c *Client) StartServiceJob(ctx context.Context) error {
	if c.Job == nil {
		return fmt.Errorf("service job: %w", ErrUnsupported)
	}
	return c.Job.Start(ctx)
}

func (c *Client) WaitForServiceJobStatus(ctx context.Context, status string) (bool, error) {
	if c.Job == nil {
		return false, fmt.Errorf("service job: %w", ErrUnsupported)
	}
	return c.Job.WaitFor(ctx, status)
}

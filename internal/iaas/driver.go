package iaas

import "context"

// Volume is a block volume known to the landscape. Size is in GiB.
type Volume struct {
	ID               string
	Size             int64
	SourceSnapshotID string
}

// Snapshot is a point-in-time copy of a volume. Size is in GiB.
type Snapshot struct {
	ID       string
	Size     int64
	VolumeID string
}

// Attachment binds a volume to an instance.
type Attachment struct {
	VolumeID   string
	InstanceID string
}

// Job statuses reported by the service supervisor.
const (
	JobRunning      = "running"
	JobNotMonitored = "not monitored"
)

// Driver is the capability set the backup/restore workflows run against.
//
// Every capability follows the same contract: a nil/false/empty result means
// the operation did not succeed (the workflow aborts with its own message),
// a non-nil error means something unexpected happened.
type Driver interface {
	Initialize(ctx context.Context) error
	Finalize(ctx context.Context) error
	// Exit reports the abort of the current run. It is called at most once.
	Exit(ctx context.Context, message string)

	GetPersistentVolumeForInstance(ctx context.Context, instanceID string) (*Volume, error)

	CreateSnapshot(ctx context.Context, volumeID string) (*Snapshot, error)
	CopySnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) (bool, error)

	// CreateVolume creates an empty volume, or one materialized from
	// sourceSnapshotID when it is not empty.
	CreateVolume(ctx context.Context, size int64, sourceSnapshotID string) (*Volume, error)
	DeleteVolume(ctx context.Context, volumeID string) (bool, error)

	CreateAttachment(ctx context.Context, volumeID, instanceID string) (*Attachment, error)
	DeleteAttachment(ctx context.Context, volumeID, instanceID string) (bool, error)

	// GetMountpoint returns the device path of an attached volume; partition
	// selects a partition index ("" for the whole device).
	GetMountpoint(ctx context.Context, volumeID, partition string) (string, error)

	DeleteDirectory(ctx context.Context, path string) (bool, error)
	CreateDirectory(ctx context.Context, path string) (bool, error)
	CopyDirectory(ctx context.Context, src, dest string) (bool, error)
	FormatDevice(ctx context.Context, device string) (bool, error)
	MountDevice(ctx context.Context, device, path string) (bool, error)
	UnmountDevice(ctx context.Context, device string) (bool, error)

	CreateAndEncryptTarballOfDirectory(ctx context.Context, src, dest string) (bool, error)
	DecryptAndExtractTarballOfDirectory(ctx context.Context, src, destDir string) (bool, error)

	UploadToBlobstore(ctx context.Context, localPath, remoteKey string) (bool, error)
	DownloadFromBlobstore(ctx context.Context, remoteKey, localPath string) (bool, error)

	// StopServiceJob and StartServiceJob only issue the request.
	StopServiceJob(ctx context.Context) error
	StartServiceJob(ctx context.Context) error
	WaitForServiceJobStatus(ctx context.Context, status string) (bool, error)
}

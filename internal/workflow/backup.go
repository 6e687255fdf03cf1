package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

// Backup types.
const (
	Online  = "online"
	Offline = "offline"
)

// Session holds the parameters of one backup or restore run.
type Session struct {
	BackupGUID string
	Type       string
	InstanceID string
	Landscape  string
}

// Options configures a workflow.
type Options struct {
	Layout Layout
	// SnapshotNative overrides DefaultSnapshotNative.
	SnapshotNative []string
	// WriteFile and ReadFile access the local metadata file.
	WriteFile func(name string, data []byte, perm os.FileMode) error
	ReadFile  func(name string) ([]byte, error)
}

func (o Options) withDefaults() Options {
	if o.Layout == (Layout{}) {
		o.Layout = DefaultLayout()
	}
	if o.WriteFile == nil {
		o.WriteFile = os.WriteFile
	}
	if o.ReadFile == nil {
		o.ReadFile = os.ReadFile
	}
	return o
}

// ErrInvalidSession reports parameters a run cannot start with.
var ErrInvalidSession = errors.New("invalid session")

// backupRun carries the values produced by one backup while its plan executes.
type backupRun struct {
	drv       iaas.Driver
	opts      Options
	layout    Layout
	session   Session
	landscape Landscape

	persistent *iaas.Volume
	snapshot   *iaas.Snapshot
	encrypted  *iaas.Snapshot

	clone, uploads       *iaas.Volume
	cloneAtt, uploadsAtt *iaas.Attachment
	cloneDev, uploadsDev string
}

// Backup runs one backup of the instance's persistent volume.
func Backup(ctx context.Context, drv iaas.Driver, s Session, opts Options) error {
	b, err := newBackupRun(drv, s, opts)
	if err != nil {
		return err
	}
	log.Info().Str("action", "backup").Str("backup_guid", s.BackupGUID).Str("type", b.session.Type).
		Str("landscape", b.landscape.Name()).Bool("snapshot_native", b.landscape.SnapshotNative()).
		Msg("backup branch selected")
	r := NewRunner(drv, "backup")
	if err := r.Start(ctx); err != nil {
		return err
	}
	if err := r.Run(ctx, b.plan()); err != nil {
		return err
	}
	return r.Finish(ctx)
}

func newBackupRun(drv iaas.Driver, s Session, opts Options) (*backupRun, error) {
	opts = opts.withDefaults()
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if strings.TrimSpace(s.BackupGUID) == "" {
		return nil, fmt.Errorf("%w: backup guid is empty", ErrInvalidSession)
	}
	if strings.TrimSpace(s.InstanceID) == "" {
		return nil, fmt.Errorf("%w: instance id is empty", ErrInvalidSession)
	}
	if s.Type != Online && s.Type != Offline {
		return nil, fmt.Errorf("%w: unsupported backup type %q", ErrInvalidSession, s.Type)
	}
	return &backupRun{
		drv:       drv,
		opts:      opts,
		layout:    opts.Layout,
		session:   s,
		landscape: LandscapeFor(s.Landscape, opts.SnapshotNative),
	}, nil
}

func (b *backupRun) plan() *Plan {
	p := &Plan{}
	p.Do("discover persistent volume",
		func(ctx context.Context) (bool, error) {
			v, err := b.drv.GetPersistentVolumeForInstance(ctx, b.session.InstanceID)
			b.persistent = v
			return ok(v, err)
		},
		msg("Could not find the persistent volume attached to this instance."))

	if b.session.Type == Online {
		return p.Append(b.online())
	}
	return p.Append(b.offline())
}

func (b *backupRun) online() *Plan {
	d := b.drv
	p := &Plan{}
	p.Acquire("create snapshot",
		func(ctx context.Context) (bool, error) {
			s, err := d.CreateSnapshot(ctx, b.persistent.ID)
			b.snapshot = s
			return ok(s, err)
		},
		msg("Could not create the snapshot of the persistent volume %s.", b.layout.PersistentDir),
		func() string { return "snapshot " + b.snapshot.ID })

	p.Append(b.landscape.online(b))

	p.Release("delete snapshot",
		func(ctx context.Context) (bool, error) { return d.DeleteSnapshot(ctx, b.snapshot.ID) },
		func() string { return fmt.Sprintf("Could not delete the snapshot with id %s.", b.snapshot.ID) },
		func() string { return "snapshot " + b.snapshot.ID })
	return p
}

func (b *backupRun) offline() *Plan {
	d, lay, inst := b.drv, b.layout, b.session.InstanceID
	p := &Plan{}

	p.Do("stop service job",
		func(ctx context.Context) (bool, error) { return true, d.StopServiceJob(ctx) },
		msg("Could not stop the service job."))

	p.Acquire("create uploads volume",
		func(ctx context.Context) (bool, error) {
			v, err := d.CreateVolume(ctx, b.persistent.Size, "")
			b.uploads = v
			return ok(v, err)
		},
		msg("Could not create a volume for the uploads."),
		func() string { return "volume " + b.uploads.ID })
	p.Acquire("attach uploads volume",
		func(ctx context.Context) (bool, error) {
			a, err := d.CreateAttachment(ctx, b.uploads.ID, inst)
			b.uploadsAtt = a
			return ok(a, err)
		},
		func() string {
			return fmt.Sprintf("Could not attach the upload volume with id %s to instance with id %s.", b.uploads.ID, inst)
		},
		func() string { return "attachment " + b.uploads.ID })
	p.Do("resolve uploads mountpoint",
		func(ctx context.Context) (bool, error) {
			m, err := d.GetMountpoint(ctx, b.uploads.ID, "")
			b.uploadsDev = m
			return nonEmpty(m, err)
		},
		func() string {
			return fmt.Sprintf("Could not determine the mountpoint for the upload volume (id: %s).", b.uploads.ID)
		})

	p.Do("clear uploads directory", dirStep(d.DeleteDirectory, lay.UploadsDir), removeDirMsg(lay.UploadsDir))
	p.Acquire("create uploads directory", dirStep(d.CreateDirectory, lay.UploadsDir), createDirMsg(lay.UploadsDir),
		res("directory "+lay.UploadsDir))
	p.Do("format uploads device",
		func(ctx context.Context) (bool, error) { return d.FormatDevice(ctx, b.uploadsDev) },
		func() string { return fmt.Sprintf("Could not format the following device: %s", b.uploadsDev) })
	p.Acquire("mount uploads device",
		func(ctx context.Context) (bool, error) { return d.MountDevice(ctx, b.uploadsDev, lay.UploadsDir) },
		func() string {
			return fmt.Sprintf("Could not mount the device %s to the directory %s.", b.uploadsDev, lay.UploadsDir)
		},
		func() string { return "mount " + b.uploadsDev })

	p.Do("wait for service job stopped",
		func(ctx context.Context) (bool, error) { return d.WaitForServiceJobStatus(ctx, iaas.JobNotMonitored) },
		msg("Could not stop the service job."))

	p.Append(b.tarballSteps())
	p.Append(b.landscape.offline(b))

	p.Do("start service job",
		func(ctx context.Context) (bool, error) { return true, d.StartServiceJob(ctx) },
		msg("Could not start the service job."))

	p.Append(b.uploadTarballStep())

	p.Release("unmount uploads device",
		func(ctx context.Context) (bool, error) { return d.UnmountDevice(ctx, b.uploadsDev) },
		func() string { return fmt.Sprintf("Could not unmount the device %s.", b.uploadsDev) },
		func() string { return "mount " + b.uploadsDev })
	p.Release("remove uploads directory", dirStep(d.DeleteDirectory, lay.UploadsDir), removeDirMsg(lay.UploadsDir),
		res("directory "+lay.UploadsDir))
	p.Release("detach uploads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteAttachment(ctx, b.uploadsAtt.VolumeID, inst) },
		func() string {
			return fmt.Sprintf("Could not detach the upload volume with id %s from instance with id %s.", b.uploadsAtt.VolumeID, inst)
		},
		func() string { return "attachment " + b.uploads.ID })
	p.Release("delete uploads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteVolume(ctx, b.uploads.ID) },
		func() string { return fmt.Sprintf("Could not delete the upload volume with id %s.", b.uploads.ID) },
		func() string { return "volume " + b.uploads.ID })

	p.Do("wait for service job running",
		func(ctx context.Context) (bool, error) { return d.WaitForServiceJobStatus(ctx, iaas.JobRunning) },
		msg("Could not get the service job to be running again."))
	return p
}

func (b *backupRun) tarballPath() string {
	return path.Join(b.layout.UploadsDir, b.layout.TarballName)
}

func (b *backupRun) tarballSteps() *Plan {
	src := b.layout.PersistentFiles()
	return (&Plan{}).Do("create encrypted tarball",
		func(ctx context.Context) (bool, error) {
			return b.drv.CreateAndEncryptTarballOfDirectory(ctx, src, b.tarballPath())
		},
		msg("Could not create and encrypt a tarball of the directory %s", src))
}

func (b *backupRun) uploadTarballStep() *Plan {
	key := b.layout.TarballKey(b.session.BackupGUID)
	return (&Plan{}).Do("upload tarball",
		func(ctx context.Context) (bool, error) {
			return b.drv.UploadToBlobstore(ctx, b.tarballPath(), key)
		},
		msg("Could not upload the tarball %s.", b.tarballPath()))
}

// encryptedCopySteps copies the snapshot named by source into an encrypted
// snapshot and uploads the metadata pointing at it. The copy is the backup
// payload and is never deleted by the run.
func (b *backupRun) encryptedCopySteps(source func() string) *Plan {
	lay := b.layout
	local, key := lay.MetadataPath(), lay.MetadataKey(b.session.BackupGUID)
	p := &Plan{}
	p.Do("copy encrypted snapshot",
		func(ctx context.Context) (bool, error) {
			s, err := b.drv.CopySnapshot(ctx, source())
			b.encrypted = s
			return ok(s, err)
		},
		msg("Could not create the encrypted copy of the snapshot %s.", lay.PersistentDir))
	p.Do("write metadata",
		func(context.Context) (bool, error) {
			data, err := MetadataFor(b.encrypted.ID).Encode()
			if err != nil {
				return false, err
			}
			return true, b.opts.WriteFile(local, data, 0o600)
		},
		msg("Could not write the metadata file %s.", local))
	p.Do("upload metadata",
		func(ctx context.Context) (bool, error) { return b.drv.UploadToBlobstore(ctx, local, key) },
		msg("Could not upload the metadata file %s.", local))
	return p
}

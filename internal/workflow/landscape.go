package workflow

import (
	"context"
	"fmt"
	"strings"
)

// Landscape contributes the provider-specific part of a backup.
type Landscape interface {
	Name() string
	// SnapshotNative reports whether the landscape keeps encrypted snapshot
	// copies as the backup payload.
	SnapshotNative() bool
	// online returns the steps that consume the snapshot taken by an online backup.
	online(b *backupRun) *Plan
	// offline returns the steps run once the offline tarball is captured.
	offline(b *backupRun) *Plan
}

// DefaultSnapshotNative lists landscapes whose snapshots are the backup payload.
var DefaultSnapshotNative = []string{"aws"}

// LandscapeFor selects the strategy for a landscape name.
func LandscapeFor(name string, snapshotNative []string) Landscape {
	n := strings.ToLower(strings.TrimSpace(name))
	if snapshotNative == nil {
		snapshotNative = DefaultSnapshotNative
	}
	for _, s := range snapshotNative {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return snapshotLandscape{name: n}
		}
	}
	return cloneLandscape{name: n}
}

// cloneLandscape clones the snapshot into a volume and uploads a tarball of it.
type cloneLandscape struct{ name string }

func (l cloneLandscape) Name() string       { return l.name }
func (cloneLandscape) SnapshotNative() bool { return false }

func (cloneLandscape) online(b *backupRun) *Plan {
	d, lay, inst := b.drv, b.layout, b.session.InstanceID
	p := &Plan{}

	p.Acquire("create clone volume",
		func(ctx context.Context) (bool, error) {
			v, err := d.CreateVolume(ctx, b.snapshot.Size, b.snapshot.ID)
			b.clone = v
			return ok(v, err)
		},
		func() string { return fmt.Sprintf("Could not create a volume from the %s snapshot.", lay.PersistentDir) },
		func() string { return "volume " + b.clone.ID })
	p.Acquire("create uploads volume",
		func(ctx context.Context) (bool, error) {
			v, err := d.CreateVolume(ctx, b.snapshot.Size, "")
			b.uploads = v
			return ok(v, err)
		},
		msg("Could not create a volume for the uploads."),
		func() string { return "volume " + b.uploads.ID })

	p.Acquire("attach clone volume",
		func(ctx context.Context) (bool, error) {
			a, err := d.CreateAttachment(ctx, b.clone.ID, inst)
			b.cloneAtt = a
			return ok(a, err)
		},
		func() string {
			return fmt.Sprintf("Could not attach the snapshot volume with id %s to instance with id %s.", b.clone.ID, inst)
		},
		func() string { return "attachment " + b.clone.ID })
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

	p.Do("resolve clone mountpoint",
		func(ctx context.Context) (bool, error) {
			m, err := d.GetMountpoint(ctx, b.clone.ID, lay.ClonePartition)
			b.cloneDev = m
			return nonEmpty(m, err)
		},
		func() string {
			return fmt.Sprintf("Could not determine the mountpoint for the snapshot volume (id: %s).", b.clone.ID)
		})
	p.Do("resolve uploads mountpoint",
		func(ctx context.Context) (bool, error) {
			m, err := d.GetMountpoint(ctx, b.uploads.ID, "")
			b.uploadsDev = m
			return nonEmpty(m, err)
		},
		func() string {
			return fmt.Sprintf("Could not determine the mountpoint for the upload volume (id: %s).", b.uploads.ID)
		})

	p.Do("clear snapshot directory", dirStep(d.DeleteDirectory, lay.SnapshotDir), removeDirMsg(lay.SnapshotDir))
	p.Do("clear uploads directory", dirStep(d.DeleteDirectory, lay.UploadsDir), removeDirMsg(lay.UploadsDir))
	p.Acquire("create snapshot directory", dirStep(d.CreateDirectory, lay.SnapshotDir), createDirMsg(lay.SnapshotDir),
		res("directory "+lay.SnapshotDir))
	p.Acquire("create uploads directory", dirStep(d.CreateDirectory, lay.UploadsDir), createDirMsg(lay.UploadsDir),
		res("directory "+lay.UploadsDir))

	p.Do("format uploads device",
		func(ctx context.Context) (bool, error) { return d.FormatDevice(ctx, b.uploadsDev) },
		func() string { return fmt.Sprintf("Could not format the following device: %s", b.uploadsDev) })
	p.Acquire("mount clone device",
		func(ctx context.Context) (bool, error) { return d.MountDevice(ctx, b.cloneDev, lay.SnapshotDir) },
		func() string {
			return fmt.Sprintf("Could not mount the device %s to the directory %s.", b.cloneDev, lay.SnapshotDir)
		},
		func() string { return "mount " + b.cloneDev })
	p.Acquire("mount uploads device",
		func(ctx context.Context) (bool, error) { return d.MountDevice(ctx, b.uploadsDev, lay.UploadsDir) },
		func() string {
			return fmt.Sprintf("Could not mount the device %s to the directory %s.", b.uploadsDev, lay.UploadsDir)
		},
		func() string { return "mount " + b.uploadsDev })

	p.Append(b.tarballSteps())
	p.Append(b.uploadTarballStep())

	p.Release("unmount uploads device",
		func(ctx context.Context) (bool, error) { return d.UnmountDevice(ctx, b.uploadsDev) },
		func() string { return fmt.Sprintf("Could not unmount the device %s.", b.uploadsDev) },
		func() string { return "mount " + b.uploadsDev })
	p.Release("unmount clone device",
		func(ctx context.Context) (bool, error) { return d.UnmountDevice(ctx, b.cloneDev) },
		func() string { return fmt.Sprintf("Could not unmount the device %s.", b.cloneDev) },
		func() string { return "mount " + b.cloneDev })
	p.Release("remove snapshot directory", dirStep(d.DeleteDirectory, lay.SnapshotDir), removeDirMsg(lay.SnapshotDir),
		res("directory "+lay.SnapshotDir))
	p.Release("remove uploads directory", dirStep(d.DeleteDirectory, lay.UploadsDir), removeDirMsg(lay.UploadsDir),
		res("directory "+lay.UploadsDir))
	p.Release("detach uploads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteAttachment(ctx, b.uploadsAtt.VolumeID, inst) },
		func() string {
			return fmt.Sprintf("Could not detach the upload volume with id %s from instance with id %s.", b.uploadsAtt.VolumeID, inst)
		},
		func() string { return "attachment " + b.uploads.ID })
	p.Release("detach clone volume",
		func(ctx context.Context) (bool, error) { return d.DeleteAttachment(ctx, b.cloneAtt.VolumeID, inst) },
		func() string {
			return fmt.Sprintf("Could not detach the snapshot volume with id %s from instance with id %s.", b.cloneAtt.VolumeID, inst)
		},
		func() string { return "attachment " + b.clone.ID })
	p.Release("delete uploads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteVolume(ctx, b.uploads.ID) },
		func() string { return fmt.Sprintf("Could not delete the upload volume with id %s.", b.uploads.ID) },
		func() string { return "volume " + b.uploads.ID })
	p.Release("delete clone volume",
		func(ctx context.Context) (bool, error) { return d.DeleteVolume(ctx, b.clone.ID) },
		func() string { return fmt.Sprintf("Could not delete the snapshot volume with id %s.", b.clone.ID) },
		func() string { return "volume " + b.clone.ID })
	return p
}

func (cloneLandscape) offline(*backupRun) *Plan { return nil }

// snapshotLandscape keeps an encrypted snapshot copy and records its id.
type snapshotLandscape struct{ name string }

func (l snapshotLandscape) Name() string       { return l.name }
func (snapshotLandscape) SnapshotNative() bool { return true }

func (snapshotLandscape) online(b *backupRun) *Plan {
	return b.encryptedCopySteps(func() string { return b.snapshot.ID })
}

func (snapshotLandscape) offline(b *backupRun) *Plan {
	return b.encryptedCopySteps(func() string { return b.persistent.ID })
}

func dirStep(fn func(context.Context, string) (bool, error), dir string) StepFunc {
	return func(ctx context.Context) (bool, error) { return fn(ctx, dir) }
}

func removeDirMsg(dir string) func() string {
	return msg("Could not remove the following directory: %s.", dir)
}

func createDirMsg(dir string) func() string {
	return msg("Could not create the following directory: %s", dir)
}

func res(name string) func() string {
	return func() string { return name }
}

package workflow

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

type restoreRun struct {
	drv     iaas.Driver
	opts    Options
	layout  Layout
	session Session

	persistent *iaas.Volume
	payload    Payload

	vol    *iaas.Volume
	att    *iaas.Attachment
	device string
}

// Restore replaces the persistent files of the instance with a backup.
// The backup payload kind is read from the metadata uploaded next to it.
func Restore(ctx context.Context, drv iaas.Driver, s Session, opts Options) error {
	opts = opts.withDefaults()
	if strings.TrimSpace(s.BackupGUID) == "" {
		return fmt.Errorf("%w: backup guid is empty", ErrInvalidSession)
	}
	if strings.TrimSpace(s.InstanceID) == "" {
		return fmt.Errorf("%w: instance id is empty", ErrInvalidSession)
	}
	rr := &restoreRun{drv: drv, opts: opts, layout: opts.Layout, session: s}

	r := NewRunner(drv, "restore")
	if err := r.Start(ctx); err != nil {
		return err
	}
	if err := r.Run(ctx, rr.discoverPlan()); err != nil {
		return err
	}
	log.Info().Str("action", "restore").Str("backup_guid", s.BackupGUID).
		Str("payload", rr.payload.String()).Msg("restore branch selected")

	if err := r.Run(ctx, rr.payload.restorePlan(rr)); err != nil {
		return err
	}
	if err := r.Run(ctx, rr.tailPlan()); err != nil {
		return err
	}
	return r.Finish(ctx)
}

func (rr *restoreRun) discoverPlan() *Plan {
	lay := rr.layout
	local, key := lay.MetadataPath(), lay.MetadataKey(rr.session.BackupGUID)
	p := &Plan{}
	p.Do("discover persistent volume",
		func(ctx context.Context) (bool, error) {
			v, err := rr.drv.GetPersistentVolumeForInstance(ctx, rr.session.InstanceID)
			rr.persistent = v
			return ok(v, err)
		},
		msg("Could not find the persistent volume attached to this instance."))
	p.Do("download metadata",
		func(ctx context.Context) (bool, error) { return rr.drv.DownloadFromBlobstore(ctx, key, local) },
		msg("Could not download the metadata %s for backup guid %s.", lay.MetadataName, rr.session.BackupGUID))
	p.Do("read metadata",
		func(context.Context) (bool, error) {
			data, err := rr.opts.ReadFile(local)
			if err != nil {
				return false, err
			}
			m, err := ParseMetadata(data)
			if err != nil {
				return false, err
			}
			rr.payload = m.Payload()
			return true, nil
		},
		msg("Could not read the metadata file %s.", local))
	return p
}

func (TarballPayload) restorePlan(rr *restoreRun) *Plan {
	d, lay := rr.drv, rr.layout
	tarball := path.Join(lay.DownloadsDir, lay.TarballName)
	pl := &Plan{}

	pl.Acquire("create downloads volume",
		func(ctx context.Context) (bool, error) {
			v, err := d.CreateVolume(ctx, rr.persistent.Size, "")
			rr.vol = v
			return ok(v, err)
		},
		msg("Could not create a volume for the downloads."),
		func() string { return "volume " + rr.vol.ID })
	rr.attachSteps(pl, "")

	pl.Do("clear downloads directory", dirStep(d.DeleteDirectory, lay.DownloadsDir), removeDirMsg(lay.DownloadsDir))
	pl.Acquire("create downloads directory", dirStep(d.CreateDirectory, lay.DownloadsDir), createDirMsg(lay.DownloadsDir),
		res("directory "+lay.DownloadsDir))
	pl.Do("format downloads device",
		func(ctx context.Context) (bool, error) { return d.FormatDevice(ctx, rr.device) },
		func() string { return fmt.Sprintf("Could not format the following device: %s", rr.device) })
	rr.mountStep(pl)

	pl.Do("download tarball",
		func(ctx context.Context) (bool, error) {
			return d.DownloadFromBlobstore(ctx, lay.TarballKey(rr.session.BackupGUID), tarball)
		},
		msg("Could not download the tarball %s for backup guid %s.", lay.TarballName, rr.session.BackupGUID))

	rr.stopJobSteps(pl)
	pl.Do("extract tarball",
		func(ctx context.Context) (bool, error) {
			return d.DecryptAndExtractTarballOfDirectory(ctx, tarball, lay.PersistentFiles())
		},
		msg("Could not decrypt and extract the tarball %s to the persistent volume.", tarball))
	rr.startJobStep(pl)

	rr.teardownSteps(pl)
	return pl
}

func (p SnapshotPayload) restorePlan(rr *restoreRun) *Plan {
	d, lay := rr.drv, rr.layout
	files := lay.PersistentFiles()
	pl := &Plan{}

	pl.Acquire("create volume from snapshot",
		func(ctx context.Context) (bool, error) {
			v, err := d.CreateVolume(ctx, rr.persistent.Size, p.ID)
			rr.vol = v
			return ok(v, err)
		},
		msg("Could not create a volume from the snapshot %s.", p.ID),
		func() string { return "volume " + rr.vol.ID })
	rr.attachSteps(pl, lay.ClonePartition)

	pl.Do("clear downloads directory", dirStep(d.DeleteDirectory, lay.DownloadsDir), removeDirMsg(lay.DownloadsDir))
	pl.Acquire("create downloads directory", dirStep(d.CreateDirectory, lay.DownloadsDir), createDirMsg(lay.DownloadsDir),
		res("directory "+lay.DownloadsDir))
	rr.mountStep(pl)

	rr.stopJobSteps(pl)
	pl.Do("clear persistent files", dirStep(d.DeleteDirectory, files+"/*"), removeDirMsg(files))
	pl.Do("create persistent files directory", dirStep(d.CreateDirectory, files), createDirMsg(files))
	pl.Do("copy snapshot files",
		func(ctx context.Context) (bool, error) {
			return d.CopyDirectory(ctx, path.Join(lay.DownloadsDir, lay.JobFilesDir)+"/*", files)
		},
		msg("Could not copy from %s to the persistent volume.", path.Join(lay.DownloadsDir, lay.JobFilesDir)))
	rr.startJobStep(pl)

	rr.teardownSteps(pl)
	return pl
}

func (rr *restoreRun) attachSteps(pl *Plan, partition string) {
	d, inst := rr.drv, rr.session.InstanceID
	pl.Acquire("attach downloads volume",
		func(ctx context.Context) (bool, error) {
			a, err := d.CreateAttachment(ctx, rr.vol.ID, inst)
			rr.att = a
			return ok(a, err)
		},
		func() string {
			return fmt.Sprintf("Could not attach the download volume with id %s to instance with id %s.", rr.vol.ID, inst)
		},
		func() string { return "attachment " + rr.vol.ID })
	pl.Do("resolve downloads mountpoint",
		func(ctx context.Context) (bool, error) {
			m, err := d.GetMountpoint(ctx, rr.vol.ID, partition)
			rr.device = m
			return nonEmpty(m, err)
		},
		func() string {
			return fmt.Sprintf("Could not determine the mountpoint for the download volume (id: %s).", rr.vol.ID)
		})
}

func (rr *restoreRun) mountStep(pl *Plan) {
	dir := rr.layout.DownloadsDir
	pl.Acquire("mount downloads device",
		func(ctx context.Context) (bool, error) { return rr.drv.MountDevice(ctx, rr.device, dir) },
		func() string { return fmt.Sprintf("Could not mount the device %s to the directory %s.", rr.device, dir) },
		func() string { return "mount " + rr.device })
}

func (rr *restoreRun) stopJobSteps(pl *Plan) {
	pl.Do("stop service job",
		func(ctx context.Context) (bool, error) { return true, rr.drv.StopServiceJob(ctx) },
		msg("Could not stop the service job."))
	pl.Do("wait for service job stopped",
		func(ctx context.Context) (bool, error) {
			return rr.drv.WaitForServiceJobStatus(ctx, iaas.JobNotMonitored)
		},
		msg("Could not stop the service job."))
}

func (rr *restoreRun) startJobStep(pl *Plan) {
	pl.Do("start service job",
		func(ctx context.Context) (bool, error) { return true, rr.drv.StartServiceJob(ctx) },
		msg("Could not start the service job."))
}

func (rr *restoreRun) teardownSteps(pl *Plan) {
	d, lay, inst := rr.drv, rr.layout, rr.session.InstanceID
	pl.Release("unmount downloads device",
		func(ctx context.Context) (bool, error) { return d.UnmountDevice(ctx, rr.device) },
		func() string { return fmt.Sprintf("Could not unmount the device %s.", rr.device) },
		func() string { return "mount " + rr.device })
	pl.Release("remove downloads directory", dirStep(d.DeleteDirectory, lay.DownloadsDir), removeDirMsg(lay.DownloadsDir),
		res("directory "+lay.DownloadsDir))
	pl.Release("detach downloads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteAttachment(ctx, rr.att.VolumeID, inst) },
		func() string {
			return fmt.Sprintf("Could not detach the download volume with id %s from instance with id %s.", rr.att.VolumeID, inst)
		},
		func() string { return "attachment " + rr.vol.ID })
	pl.Release("delete downloads volume",
		func(ctx context.Context) (bool, error) { return d.DeleteVolume(ctx, rr.vol.ID) },
		func() string { return fmt.Sprintf("Could not delete the download volume with id %s.", rr.vol.ID) },
		func() string { return "volume " + rr.vol.ID })
}

func (rr *restoreRun) tailPlan() *Plan {
	return (&Plan{}).Do("wait for service job running",
		func(ctx context.Context) (bool, error) { return rr.drv.WaitForServiceJobStatus(ctx, iaas.JobRunning) },
		msg("Could not start the service job."))
}

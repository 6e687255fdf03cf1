package incus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lxc/incus/shared/api"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

// DevicePrefix is the by-id path under which QEMU exposes Incus disks.
const DevicePrefix = "/dev/disk/by-id/scsi-0QEMU_QEMU_HARDDISK_incus_"

// defaultSizeGiB is used for volumes without an explicit size (the Incus default).
const defaultSizeGiB = 10

// Compute maps the landscape primitives onto Incus custom block volumes.
// Snapshot ids are "<volume>/<snapshot>".
type Compute struct {
	srv              server
	pool             string
	persistentDevice string
	newName          func(prefix string) string
}

func init() {
	iaas.RegisterCompute("incus", func(cfg any) (iaas.Compute, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("incus: invalid config type %T", cfg)
		}
		srv, err := connect(c.Incus.Socket, c.Incus.Project)
		if err != nil {
			return nil, fmt.Errorf("incus: connect: %w", err)
		}
		return newCompute(srv, c.Incus), nil
	})
}

func newCompute(srv server, c config.IncusConfig) *Compute {
	return &Compute{
		srv:              srv,
		pool:             c.Pool,
		persistentDevice: c.PersistentDevice,
		newName:          func(prefix string) string { return prefix + "-" + uuid.NewString()[:8] },
	}
}

func (c *Compute) Name() string { return "incus" }

// check maps Incus 404s onto iaas.ErrNotFound.
func check(err error, what string) error {
	if err == nil {
		return nil
	}
	if api.StatusErrorCheck(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %s: %v", iaas.ErrNotFound, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// sizeGiB reads the size of a volume, rounding up to whole GiB.
func sizeGiB(v *api.StorageVolume) (int64, error) {
	raw := strings.TrimSpace(v.Config["size"])
	if raw == "" {
		return defaultSizeGiB, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("volume %s size %q: %w", v.Name, raw, err)
	}
	const gib = 1 << 30
	return int64((n + gib - 1) / gib), nil
}

func (c *Compute) volumeSize(pool, name string) (int64, error) {
	v, err := c.srv.Volume(pool, name)
	if err != nil {
		return 0, check(err, "volume "+name)
	}
	return sizeGiB(v)
}

func deviceName(volumeID string) string {
	return "bk-" + volumeID
}

func splitSnapshot(id string) (string, string, error) {
	vol, snap, ok := strings.Cut(id, "/")
	if !ok || vol == "" || snap == "" {
		return "", "", fmt.Errorf("invalid snapshot id %q", id)
	}
	return vol, snap, nil
}

// PersistentVolume resolves the disk device holding the persistent volume.
func (c *Compute) PersistentVolume(ctx context.Context, instanceID string) (*iaas.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, _, err := c.srv.Instance(instanceID)
	if err != nil {
		return nil, check(err, "instance "+instanceID)
	}
	dev, ok := inst.Devices[c.persistentDevice]
	if !ok {
		dev, ok = inst.ExpandedDevices[c.persistentDevice]
	}
	if !ok || dev["type"] != "disk" || dev["source"] == "" {
		return nil, fmt.Errorf("%w: instance %s has no disk device %q", iaas.ErrNotFound, instanceID, c.persistentDevice)
	}
	if p := dev["pool"]; p != "" && p != c.pool {
		log.Warn().Str("action", "incus").Str("device_pool", p).Str("pool", c.pool).
			Msg("persistent volume lives outside the configured pool")
	}
	size, err := c.volumeSize(c.pool, dev["source"])
	if err != nil {
		return nil, err
	}
	return &iaas.Volume{ID: dev["source"], Size: size}, nil
}

func (c *Compute) CreateSnapshot(ctx context.Context, volumeID string) (*iaas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, err := c.volumeSize(c.pool, volumeID)
	if err != nil {
		return nil, err
	}
	name := c.newName("snap")
	if err := c.srv.CreateSnapshot(c.pool, volumeID, name); err != nil {
		return nil, check(err, "snapshot "+volumeID)
	}
	log.Info().Str("action", "incus").Str("volume", volumeID).Str("snapshot", name).Msg("snapshot created")
	return &iaas.Snapshot{ID: volumeID + "/" + name, Size: size, VolumeID: volumeID}, nil
}

// CopySnapshot copies the source into a dedicated backup volume and
// snapshots it. The backup volume is kept as the payload.
func (c *Compute) CopySnapshot(ctx context.Context, sourceID string) (*iaas.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, _, _ := strings.Cut(sourceID, "/")
	size, err := c.volumeSize(c.pool, base)
	if err != nil {
		return nil, err
	}
	target := c.newName("backup")
	if err := c.srv.CopyVolume(c.pool, sourceID, target); err != nil {
		return nil, check(err, "copy "+sourceID)
	}
	if err := c.srv.CreateSnapshot(c.pool, target, "payload"); err != nil {
		return nil, check(err, "snapshot "+target)
	}
	log.Info().Str("action", "incus").Str("source", sourceID).Str("volume", target).Msg("backup copy created")
	return &iaas.Snapshot{ID: target + "/payload", Size: size, VolumeID: target}, nil
}

func (c *Compute) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vol, snap, err := splitSnapshot(snapshotID)
	if err != nil {
		return err
	}
	return check(c.srv.DeleteSnapshot(c.pool, vol, snap), "snapshot "+snapshotID)
}

func (c *Compute) CreateVolume(ctx context.Context, size int64, sourceSnapshotID string) (*iaas.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := c.newName("sf")
	if sourceSnapshotID != "" {
		if err := c.srv.CopyVolume(c.pool, sourceSnapshotID, name); err != nil {
			return nil, check(err, "clone "+sourceSnapshotID)
		}
	} else {
		if size <= 0 {
			size = defaultSizeGiB
		}
		err := c.srv.CreateVolume(c.pool, api.StorageVolumesPost{
			Name:        name,
			Type:        customVolume,
			ContentType: "block",
			StorageVolumePut: api.StorageVolumePut{
				Config: map[string]string{"size": fmt.Sprintf("%dGiB", size)},
			},
		})
		if err != nil {
			return nil, check(err, "volume "+name)
		}
	}
	log.Info().Str("action", "incus").Str("volume", name).Int64("size_gib", size).
		Str("source", sourceSnapshotID).Msg("volume created")
	return &iaas.Volume{ID: name, Size: size, SourceSnapshotID: sourceSnapshotID}, nil
}

func (c *Compute) DeleteVolume(ctx context.Context, volumeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return check(c.srv.DeleteVolume(c.pool, volumeID), "volume "+volumeID)
}

func (c *Compute) Attach(ctx context.Context, volumeID, instanceID string) (*iaas.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := c.updateDevices(instanceID, func(devices map[string]map[string]string) error {
		devices[deviceName(volumeID)] = map[string]string{
			"type":   "disk",
			"pool":   c.pool,
			"source": volumeID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &iaas.Attachment{VolumeID: volumeID, InstanceID: instanceID}, nil
}

func (c *Compute) Detach(ctx context.Context, volumeID, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.updateDevices(instanceID, func(devices map[string]map[string]string) error {
		name := deviceName(volumeID)
		if _, ok := devices[name]; !ok {
			return fmt.Errorf("%w: device %s on %s", iaas.ErrNotFound, name, instanceID)
		}
		delete(devices, name)
		return nil
	})
}

func (c *Compute) updateDevices(instanceID string, edit func(map[string]map[string]string) error) error {
	inst, etag, err := c.srv.Instance(instanceID)
	if err != nil {
		return check(err, "instance "+instanceID)
	}
	put := inst.Writable()
	if put.Devices == nil {
		put.Devices = map[string]map[string]string{}
	}
	if err := edit(put.Devices); err != nil {
		return err
	}
	return check(c.srv.UpdateInstance(instanceID, put, etag), "instance "+instanceID)
}

func (c *Compute) DevicePath(_ context.Context, volumeID, partition string) (string, error) {
	if volumeID == "" {
		return "", errors.New("empty volume id")
	}
	p := DevicePrefix + deviceName(volumeID)
	if partition != "" {
		p += "-part" + partition
	}
	return p, nil
}

package incus

import (
	incuscli "github.com/lxc/incus/client"
	"github.com/lxc/incus/shared/api"
)

const customVolume = "custom"

// server is the narrow part of the Incus API the compute backend uses.
// Asynchronous calls are waited on before returning.
type server interface {
	Instance(name string) (*api.Instance, string, error)
	UpdateInstance(name string, put api.InstancePut, etag string) error

	Volume(pool, name string) (*api.StorageVolume, error)
	CreateVolume(pool string, post api.StorageVolumesPost) error
	// CopyVolume materializes source ("vol" or "vol/snap") as target.
	CopyVolume(pool, source, target string) error
	DeleteVolume(pool, name string) error

	CreateSnapshot(pool, volume, name string) error
	DeleteSnapshot(pool, volume, name string) error
}

// remote wraps the official Incus Go client.
type remote struct {
	c incuscli.InstanceServer
}

// connect opens the local Incus UNIX socket ("" for the default path).
func connect(socket, project string) (*remote, error) {
	c, err := incuscli.ConnectIncusUnix(socket, nil)
	if err != nil {
		return nil, err
	}
	if project != "" {
		c = c.UseProject(project)
	}
	return &remote{c: c}, nil
}

func (r *remote) Instance(name string) (*api.Instance, string, error) {
	return r.c.GetInstance(name)
}

func (r *remote) UpdateInstance(name string, put api.InstancePut, etag string) error {
	op, err := r.c.UpdateInstance(name, put, etag)
	if err != nil {
		return err
	}
	return op.Wait()
}

func (r *remote) Volume(pool, name string) (*api.StorageVolume, error) {
	v, _, err := r.c.GetStoragePoolVolume(pool, customVolume, name)
	return v, err
}

func (r *remote) CreateVolume(pool string, post api.StorageVolumesPost) error {
	return r.c.CreateStoragePoolVolume(pool, post)
}

func (r *remote) CopyVolume(pool, source, target string) error {
	op, err := r.c.CopyStoragePoolVolume(pool, r.c, pool,
		api.StorageVolume{Name: source, Type: customVolume},
		&incuscli.StoragePoolVolumeCopyArgs{Name: target, VolumeOnly: true})
	if err != nil {
		return err
	}
	return op.Wait()
}

func (r *remote) DeleteVolume(pool, name string) error {
	return r.c.DeleteStoragePoolVolume(pool, customVolume, name)
}

func (r *remote) CreateSnapshot(pool, volume, name string) error {
	op, err := r.c.CreateStoragePoolVolumeSnapshot(pool, customVolume, volume, api.StorageVolumeSnapshotsPost{Name: name})
	if err != nil {
		return err
	}
	return op.Wait()
}

func (r *remote) DeleteSnapshot(pool, volume, name string) error {
	op, err := r.c.DeleteStoragePoolVolumeSnapshot(pool, customVolume, volume, name)
	if err != nil {
		return err
	}
	return op.Wait()
}

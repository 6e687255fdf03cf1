package incus

import (
	"net/http"
	"sort"
	"strings"

	"github.com/lxc/incus/shared/api"
)

// fakeServer is an in-memory Incus with one pool.
type fakeServer struct {
	instances map[string]*api.Instance
	volumes   map[string]map[string]string // name -> config
	snapshots map[string]bool              // "vol/snap"
	updates   int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		instances: map[string]*api.Instance{},
		volumes:   map[string]map[string]string{},
		snapshots: map[string]bool{},
	}
}

func notFound(what string) error {
	return api.StatusErrorf(http.StatusNotFound, "%s not found", what)
}

func (f *fakeServer) Instance(name string) (*api.Instance, string, error) {
	inst, ok := f.instances[name]
	if !ok {
		return nil, "", notFound("instance " + name)
	}
	cp := *inst
	cp.Devices = map[string]map[string]string{}
	for k, v := range inst.Devices {
		cp.Devices[k] = v
	}
	return &cp, "etag", nil
}

func (f *fakeServer) UpdateInstance(name string, put api.InstancePut, _ string) error {
	inst, ok := f.instances[name]
	if !ok {
		return notFound("instance " + name)
	}
	f.updates++
	inst.Devices = put.Devices
	return nil
}

func (f *fakeServer) Volume(_ string, name string) (*api.StorageVolume, error) {
	cfg, ok := f.volumes[name]
	if !ok {
		return nil, notFound("volume " + name)
	}
	return &api.StorageVolume{Name: name, StorageVolumePut: api.StorageVolumePut{Config: cfg}}, nil
}

func (f *fakeServer) CreateVolume(_ string, post api.StorageVolumesPost) error {
	f.volumes[post.Name] = post.Config
	return nil
}

func (f *fakeServer) CopyVolume(_ string, source, target string) error {
	base, _, isSnap := strings.Cut(source, "/")
	if isSnap && !f.snapshots[source] {
		return notFound("snapshot " + source)
	}
	cfg, ok := f.volumes[base]
	if !ok {
		return notFound("volume " + base)
	}
	f.volumes[target] = cfg
	return nil
}

func (f *fakeServer) DeleteVolume(_ string, name string) error {
	if _, ok := f.volumes[name]; !ok {
		return notFound("volume " + name)
	}
	delete(f.volumes, name)
	return nil
}

func (f *fakeServer) CreateSnapshot(_ string, volume, name string) error {
	if _, ok := f.volumes[volume]; !ok {
		return notFound("volume " + volume)
	}
	f.snapshots[volume+"/"+name] = true
	return nil
}

func (f *fakeServer) DeleteSnapshot(_ string, volume, name string) error {
	id := volume + "/" + name
	if !f.snapshots[id] {
		return notFound("snapshot " + id)
	}
	delete(f.snapshots, id)
	return nil
}

func (f *fakeServer) volumeNames() []string {
	out := make([]string, 0, len(f.volumes))
	for n := range f.volumes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

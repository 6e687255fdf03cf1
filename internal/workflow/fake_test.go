package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/iaas"
)

// call is one recorded driver invocation.
type call struct {
	Method string
	Args   []string
}

func (c call) String() string {
	if len(c.Args) == 0 {
		return c.Method
	}
	return c.Method + "(" + strings.Join(c.Args, ", ") + ")"
}

// fakeDriver records every call and succeeds unless told otherwise.
type fakeDriver struct {
	mu    sync.Mutex
	calls []call

	persistent *iaas.Volume
	// failAt makes the n-th call (1-based) of a method return a falsy result.
	failAt map[string]int
	// errAt makes the n-th call of a method return an error.
	errAt map[string]int
	// panicAt makes the n-th call of a method panic.
	panicAt map[string]int
	// metadata is written to the local path by metadata downloads.
	metadata string

	seq   map[string]int
	exits []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		persistent: &iaas.Volume{ID: "vol-persistent", Size: 10},
		failAt:     map[string]int{},
		errAt:      map[string]int{},
		panicAt:    map[string]int{},
		seq:        map[string]int{},
	}
}

// record returns (fail, err) for the current call of method.
func (f *fakeDriver) record(method string, args ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: method, Args: args})
	f.seq[method]++
	n := f.seq[method]
	if f.panicAt[method] == n {
		panic(method + " exploded")
	}
	if f.errAt[method] == n {
		return false, errors.New(method + " boom")
	}
	return f.failAt[method] == n, nil
}

func (f *fakeDriver) methods() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeDriver) trace() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeDriver) count(method string) int {
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeDriver) index(entry string) int {
	for i, c := range f.calls {
		if c.String() == entry || c.Method == entry {
			return i
		}
	}
	return -1
}

func (f *fakeDriver) Initialize(context.Context) error {
	_, err := f.record("Initialize")
	return err
}

func (f *fakeDriver) Finalize(context.Context) error {
	_, err := f.record("Finalize")
	return err
}

func (f *fakeDriver) Exit(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "Exit", Args: []string{message}})
	f.exits = append(f.exits, message)
}

func (f *fakeDriver) GetPersistentVolumeForInstance(_ context.Context, instanceID string) (*iaas.Volume, error) {
	fail, err := f.record("GetPersistentVolumeForInstance", instanceID)
	if fail || err != nil {
		return nil, err
	}
	return f.persistent, nil
}

func (f *fakeDriver) CreateSnapshot(_ context.Context, volumeID string) (*iaas.Snapshot, error) {
	fail, err := f.record("CreateSnapshot", volumeID)
	if fail || err != nil {
		return nil, err
	}
	return &iaas.Snapshot{ID: "snap-" + volumeID, Size: 10, VolumeID: volumeID}, nil
}

func (f *fakeDriver) CopySnapshot(_ context.Context, snapshotID string) (*iaas.Snapshot, error) {
	fail, err := f.record("CopySnapshot", snapshotID)
	if fail || err != nil {
		return nil, err
	}
	return &iaas.Snapshot{ID: "enc-" + snapshotID, Size: 10}, nil
}

func (f *fakeDriver) DeleteSnapshot(_ context.Context, snapshotID string) (bool, error) {
	fail, err := f.record("DeleteSnapshot", snapshotID)
	return !fail, err
}

func (f *fakeDriver) CreateVolume(_ context.Context, size int64, sourceSnapshotID string) (*iaas.Volume, error) {
	fail, err := f.record("CreateVolume", fmt.Sprint(size), sourceSnapshotID)
	if fail || err != nil {
		return nil, err
	}
	id := fmt.Sprintf("vol-%d", f.seq["CreateVolume"])
	return &iaas.Volume{ID: id, Size: size, SourceSnapshotID: sourceSnapshotID}, nil
}

func (f *fakeDriver) DeleteVolume(_ context.Context, volumeID string) (bool, error) {
	fail, err := f.record("DeleteVolume", volumeID)
	return !fail, err
}

func (f *fakeDriver) CreateAttachment(_ context.Context, volumeID, instanceID string) (*iaas.Attachment, error) {
	fail, err := f.record("CreateAttachment", volumeID, instanceID)
	if fail || err != nil {
		return nil, err
	}
	return &iaas.Attachment{VolumeID: volumeID, InstanceID: instanceID}, nil
}

func (f *fakeDriver) DeleteAttachment(_ context.Context, volumeID, instanceID string) (bool, error) {
	fail, err := f.record("DeleteAttachment", volumeID, instanceID)
	return !fail, err
}

func (f *fakeDriver) GetMountpoint(_ context.Context, volumeID, partition string) (string, error) {
	fail, err := f.record("GetMountpoint", volumeID, partition)
	if fail || err != nil {
		return "", err
	}
	dev := "/dev/" + volumeID
	if partition != "" {
		dev += "-part" + partition
	}
	return dev, nil
}

func (f *fakeDriver) DeleteDirectory(_ context.Context, path string) (bool, error) {
	fail, err := f.record("DeleteDirectory", path)
	return !fail, err
}

func (f *fakeDriver) CreateDirectory(_ context.Context, path string) (bool, error) {
	fail, err := f.record("CreateDirectory", path)
	return !fail, err
}

func (f *fakeDriver) CopyDirectory(_ context.Context, src, dest string) (bool, error) {
	fail, err := f.record("CopyDirectory", src, dest)
	return !fail, err
}

func (f *fakeDriver) FormatDevice(_ context.Context, device string) (bool, error) {
	fail, err := f.record("FormatDevice", device)
	return !fail, err
}

func (f *fakeDriver) MountDevice(_ context.Context, device, path string) (bool, error) {
	fail, err := f.record("MountDevice", device, path)
	return !fail, err
}

func (f *fakeDriver) UnmountDevice(_ context.Context, device string) (bool, error) {
	fail, err := f.record("UnmountDevice", device)
	return !fail, err
}

func (f *fakeDriver) CreateAndEncryptTarballOfDirectory(_ context.Context, src, dest string) (bool, error) {
	fail, err := f.record("CreateAndEncryptTarballOfDirectory", src, dest)
	return !fail, err
}

func (f *fakeDriver) DecryptAndExtractTarballOfDirectory(_ context.Context, src, destDir string) (bool, error) {
	fail, err := f.record("DecryptAndExtractTarballOfDirectory", src, destDir)
	return !fail, err
}

func (f *fakeDriver) UploadToBlobstore(_ context.Context, localPath, remoteKey string) (bool, error) {
	fail, err := f.record("UploadToBlobstore", localPath, remoteKey)
	return !fail, err
}

func (f *fakeDriver) DownloadFromBlobstore(_ context.Context, remoteKey, localPath string) (bool, error) {
	fail, err := f.record("DownloadFromBlobstore", remoteKey, localPath)
	if fail || err != nil {
		return false, err
	}
	if strings.HasSuffix(remoteKey, ".json") {
		if werr := os.WriteFile(localPath, []byte(f.metadata), 0o600); werr != nil {
			return false, werr
		}
	}
	return true, nil
}

func (f *fakeDriver) StopServiceJob(context.Context) error {
	_, err := f.record("StopServiceJob")
	return err
}

func (f *fakeDriver) StartServiceJob(context.Context) error {
	_, err := f.record("StartServiceJob")
	return err
}

func (f *fakeDriver) WaitForServiceJobStatus(_ context.Context, status string) (bool, error) {
	fail, err := f.record("WaitForServiceJobStatus", status)
	return !fail, err
}

var _ iaas.Driver = (*fakeDriver)(nil)

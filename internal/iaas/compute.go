package iaas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by a Compute when the named resource does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrUnsupported is returned for capabilities the client was built without.
var ErrUnsupported = errors.New("capability not configured")

// Compute is the landscape-specific part of a driver: volumes, snapshots,
// attachments and device paths.
type Compute interface {
	Name() string
	PersistentVolume(ctx context.Context, instanceID string) (*Volume, error)

	CreateSnapshot(ctx context.Context, volumeID string) (*Snapshot, error)
	// CopySnapshot materializes a snapshot (or a volume) into a new snapshot
	// owned by the landscape, e.g. an encrypted copy.
	CopySnapshot(ctx context.Context, sourceID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error

	CreateVolume(ctx context.Context, size int64, sourceSnapshotID string) (*Volume, error)
	DeleteVolume(ctx context.Context, volumeID string) error

	Attach(ctx context.Context, volumeID, instanceID string) (*Attachment, error)
	Detach(ctx context.Context, volumeID, instanceID string) error

	// DevicePath is where an attached volume (or one of its partitions)
	// appears on the instance.
	DevicePath(ctx context.Context, volumeID, partition string) (string, error)
}

// ComputeFactory creates a compute backend from opaque config.
type ComputeFactory func(any) (Compute, error)

var (
	computeMu sync.RWMutex
	computes  = map[string]ComputeFactory{}
)

// RegisterCompute binds a backend name to its factory.
func RegisterCompute(name string, f ComputeFactory) {
	computeMu.Lock()
	defer computeMu.Unlock()
	computes[name] = f
}

// NewCompute returns a compute backend by name.
func NewCompute(name string, cfg any) (Compute, error) {
	computeMu.RLock()
	f, ok := computes[name]
	names := make([]string, 0, len(computes))
	for n := range computes {
		names = append(names, n)
	}
	computeMu.RUnlock()
	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("compute backend not found: %s (have %v)", name, names)
	}
	return f(cfg)
}

package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is what a backup left behind for the restore to consume.
type Payload interface {
	// restorePlan returns the branch that restores this payload.
	restorePlan(r *restoreRun) *Plan
	String() string
}

// SnapshotPayload: the backup is an encrypted snapshot retained by the landscape.
type SnapshotPayload struct {
	ID string
}

func (p SnapshotPayload) String() string { return "snapshot " + p.ID }

// TarballPayload: the backup is an encrypted tarball in the blob store.
type TarballPayload struct{}

func (TarballPayload) String() string { return "tarball" }

// Metadata is the record uploaded next to a backup.
type Metadata struct {
	SnapshotID *string `json:"snapshotId"`
}

// MetadataFor records the snapshot holding a backup.
func MetadataFor(snapshotID string) Metadata {
	return Metadata{SnapshotID: &snapshotID}
}

// Payload decodes the record into the payload variant.
func (m Metadata) Payload() Payload {
	if m.SnapshotID == nil || strings.TrimSpace(*m.SnapshotID) == "" {
		return TarballPayload{}
	}
	return SnapshotPayload{ID: *m.SnapshotID}
}

// ParseMetadata decodes the metadata file contents. An empty file decodes
// to the tarball payload.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode backup metadata: %w", err)
	}
	return m, nil
}

// Encode renders the wire form, e.g. {"snapshotId":"snap-1"}.
func (m Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

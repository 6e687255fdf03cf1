package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Checksum identifies the content of a local file before it is uploaded.
type Checksum struct {
	SHA256 string // hex digest
	Size   int64
}

// FileChecksum reads the file at path once and returns its digest and size.
func FileChecksum(path string) (Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksum{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Checksum{}, fmt.Errorf("checksum %s: %w", path, err)
	}
	return Checksum{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// MatchSize fails when a stored blob does not have the uploaded size.
func (c Checksum) MatchSize(remote int64) error {
	if remote != c.Size {
		return fmt.Errorf("size mismatch: local=%d remote=%d", c.Size, remote)
	}
	return nil
}

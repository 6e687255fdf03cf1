package workflow

import (
	"path"
	"strings"
)

// Layout holds every path and blob key the workflows use.
type Layout struct {
	PersistentDir string // mount point of the persistent volume
	JobFilesDir   string // job data below PersistentDir and below a mounted snapshot volume
	SnapshotDir   string // mount point of a volume cloned from a snapshot
	UploadsDir    string // mount point of the scratch volume used by backups
	DownloadsDir  string // mount point of the scratch volume used by restores
	MetadataDir   string // local directory for the metadata file
	TarballName   string
	MetadataName  string
	// ClonePartition is the partition index of volumes created from a snapshot.
	ClonePartition string
}

// DefaultLayout matches the directories used on service instances.
func DefaultLayout() Layout {
	return Layout{
		PersistentDir:  "/var/vcap/store",
		JobFilesDir:    "blueprint/files",
		SnapshotDir:    "/tmp/service-fabrik-backup/snapshot",
		UploadsDir:     "/tmp/service-fabrik-backup/uploads",
		DownloadsDir:   "/tmp/service-fabrik-restore/downloads",
		MetadataDir:    "/tmp",
		TarballName:    "blueprint-files.tar.gz.gpg",
		MetadataName:   "blueprint-metadata.json",
		ClonePartition: "1",
	}
}

// PersistentFiles is the directory whose contents are backed up.
func (l Layout) PersistentFiles() string {
	return path.Join(l.PersistentDir, l.JobFilesDir)
}

// TarballKey is the blob key of the tarball for one backup.
func (l Layout) TarballKey(guid string) string {
	return blobKey(guid, l.TarballName)
}

// MetadataKey is the blob key of the metadata file for one backup.
func (l Layout) MetadataKey(guid string) string {
	return blobKey(guid, l.MetadataName)
}

// MetadataPath is the local path of the metadata file.
func (l Layout) MetadataPath() string {
	return path.Join(l.MetadataDir, l.MetadataName)
}

func blobKey(guid, name string) string {
	return strings.Trim(guid, "/") + "/" + name
}

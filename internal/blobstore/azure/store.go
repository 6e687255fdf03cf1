package azure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/retry"
)

// Store keeps backup blobs in one Azure Blob Storage container.
type Store struct {
	client    *azblob.Client
	container string
	auth      auth
	ro        retry.Options
}

func (s *Store) Name() string { return "azure" }

// attempt runs fn under the retry policy and logs every try under action.
func (s *Store) attempt(ctx context.Context, action, key string, fn func(context.Context) error) error {
	start := time.Now()
	n := 0
	err := retry.Do(ctx, s.ro, isRetryable, func(ctx context.Context) error {
		n++
		ev := log.Debug().Str("action", action).Str("container", s.container).Str("key", key).Int("attempt", n)
		if err := fn(ctx); err != nil {
			ev.Err(err).Msg("attempt failed")
			return err
		}
		ev.Msg("attempt succeeded")
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("action", action).Str("container", s.container).Str("key", key).
		Int("attempts", n).Dur("elapsed_ms", time.Since(start)).Msg("OK")
	return nil
}

// Upload stores the file with its sha256 as metadata and validates the
// result (blob properties with SAS, list otherwise).
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	if err := s.ensureContainer(ctx); err != nil {
		return fmt.Errorf("ensure container: %w", err)
	}
	key = normalizeKey(key)

	cs, err := blobstore.FileChecksum(localPath)
	if err != nil {
		return err
	}
	sum, size := cs.SHA256, cs.Size

	err = s.attempt(ctx, "azure_upload", key, func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("file", localPath).Msg("failed to close source file after upload")
			}
		}()
		_, err = s.client.UploadFile(ctx, s.container, key, f, &azblob.UploadFileOptions{
			Metadata: map[string]*string{"sha256": to.Ptr(sum)},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if s.auth.viaSAS() {
		err = s.attempt(ctx, "azure_properties", key, func(ctx context.Context) error {
			remoteSize, remoteSHA, err := s.properties(ctx, key)
			if err != nil {
				return err
			}
			return compare(size, remoteSize, sum, remoteSHA, true)
		})
		if err != nil {
			return fmt.Errorf("validate (properties): %w", err)
		}
		return nil
	}

	err = s.attempt(ctx, "azure_list_validate", key, func(ctx context.Context) error {
		found, remoteSize, err := s.sizeByList(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("uploaded blob not found at %q", key)
		}
		return compare(size, remoteSize, "", "", false)
	})
	if err != nil {
		return fmt.Errorf("validate (list): %w", err)
	}
	return nil
}

func compare(size, remoteSize int64, sum, remoteSHA string, checkSHA bool) error {
	if remoteSize != size {
		return fmt.Errorf("size mismatch: local=%d, remote=%d", size, remoteSize)
	}
	if !checkSHA {
		return nil
	}
	if remoteSHA == "" {
		return errors.New("missing metadata: sha256")
	}
	if remoteSHA != sum {
		return fmt.Errorf("sha256 mismatch: local=%s, remote=%s", sum, remoteSHA)
	}
	return nil
}

// Download writes the blob to localPath. A missing blob yields
// blobstore.ErrNotFound and is not retried.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	key = normalizeKey(key)
	err := s.attempt(ctx, "azure_download", key, func(ctx context.Context) error {
		out, err := os.Create(localPath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := out.Close(); cerr != nil {
				log.Warn().Err(cerr).Str("file", localPath).Msg("failed to close local file after download")
			}
		}()
		_, err = s.client.DownloadFile(ctx, s.container, key, out, nil)
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return fmt.Errorf("%w: %s/%s", blobstore.ErrNotFound, s.container, key)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			_ = os.Remove(localPath)
		}
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "/")
}

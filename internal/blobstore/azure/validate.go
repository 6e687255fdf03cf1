package azure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// ensureContainer checks access using a minimal list (SAS sr=c cannot create containers).
func (s *Store) ensureContainer(ctx context.Context) error {
	return s.attempt(ctx, "azure_container_check", "", func(ctx context.Context) error {
		pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
			MaxResults: to.Ptr(int32(1)),
		})
		if !pager.More() {
			return nil
		}
		_, err := pager.NextPage(ctx)
		switch {
		case err == nil:
			return nil
		case bloberror.HasCode(err, bloberror.ContainerNotFound):
			return fmt.Errorf("container %q not found: create it first (container SAS cannot create containers)", s.container)
		case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch,
			bloberror.AuthenticationFailed):
			return fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwl", s.container)
		}
		return err
	})
}

// sizeByList finds the exact blob and returns (found, size).
func (s *Store) sizeByList(ctx context.Context, exactKey string) (bool, int64, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(exactKey),
		MaxResults: to.Ptr(int32(1)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, 0, err
		}
		for _, it := range page.Segment.BlobItems {
			if it.Name == nil || *it.Name != exactKey {
				continue
			}
			if it.Properties != nil && it.Properties.ContentLength != nil {
				return true, *it.Properties.ContentLength, nil
			}
			return true, 0, nil
		}
	}
	return false, 0, nil
}

// properties reads the blob size and its sha256 metadata through the SDK.
// A container SAS carries over to the blob client.
func (s *Store) properties(ctx context.Context, key string) (int64, string, error) {
	props, err := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	if props.ContentLength == nil {
		return 0, "", errors.New("missing Content-Length")
	}
	return *props.ContentLength, metaValue(props.Metadata, "sha256"), nil
}

// metaValue looks a metadata key up case-insensitively; the service
// returns keys in canonical header form.
func metaValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

// isRetryable: timeouts, 5xx, 429, 408 and ServerBusy.
func isRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	switch {
	case re.StatusCode == http.StatusTooManyRequests, re.StatusCode == http.StatusRequestTimeout:
		return true
	case re.StatusCode >= 500 && re.StatusCode <= 599:
		return true
	}
	return re.ErrorCode == string(bloberror.ServerBusy)
}

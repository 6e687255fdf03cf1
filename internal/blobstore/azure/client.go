package azure

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
)

// auth describes how the client was built; SAS clients validate with HEAD.
type auth struct {
	endpoint string // e.g. https://<account>.blob.core.windows.net/
	sas      string // raw SAS without leading "?"
}

func (a auth) viaSAS() bool { return a.sas != "" }

// newClient builds a blob client. Priority: SAS, service principal, then
// DefaultAzureCredential (managed identity, workload identity, CLI).
func newClient(c config.AzureConfig) (*azblob.Client, auth, error) {
	a := auth{endpoint: strings.TrimSpace(c.Endpoint)}
	if a.endpoint == "" {
		a.endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(a.endpoint, "/") {
		a.endpoint += "/"
	}

	if sas := strings.TrimPrefix(strings.TrimSpace(c.SASToken), "?"); sas != "" {
		a.sas = sas
		cl, err := azblob.NewClientWithNoCredential(a.endpoint+"?"+sas, nil)
		return cl, a, err
	}

	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, a, fmt.Errorf("service principal: %w", err)
		}
		cl, err := azblob.NewClient(a.endpoint, cred, nil)
		return cl, a, err
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, a, fmt.Errorf("default credential: %w", err)
	}
	cl, err := azblob.NewClient(a.endpoint, cred, nil)
	return cl, a, err
}

func init() {
	blobstore.Register("azure", func(cfg any) (blobstore.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("azure: invalid config type %T", cfg)
		}
		client, a, err := newClient(c.Azure)
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		return &Store{
			client:    client,
			container: c.Azure.Container,
			auth:      a,
			ro:        c.RetryOptions(),
		}, nil
	})
}

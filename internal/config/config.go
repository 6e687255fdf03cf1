package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/retry"
)

type Config struct {
	Landscape      string
	Compute        string
	BlobStore      string
	SnapshotNative []string

	// Session
	BackupGUID string
	BackupType string
	InstanceID string
	Secret     string

	Job      JobConfig
	StateDir string
	LogDir   string
	Transfer TransferConfig

	Azure AzureConfig
	SFTP  SFTPConfig
	Local LocalConfig
	Incus IncusConfig

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryEnableJitter bool
}

type JobConfig struct {
	Name         string
	PollInterval time.Duration
	Timeout      time.Duration
}

// TransferConfig holds the paths of the blob transfer workflow.
type TransferConfig struct {
	UploadSource      string
	UploadDestination string
	DownloadSource    string
	DownloadTarget    string
}

type AzureConfig struct {
	Account   string
	Container string
	SASToken  string
	Endpoint  string

	ClientID     string
	ClientSecret string
	TenantID     string
}

type SFTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
	// KnownHosts is the known_hosts file used to verify the server key.
	KnownHosts            string
	InsecureIgnoreHostKey bool
	Root                  string
	Timeout               time.Duration
}

type LocalConfig struct {
	Root string
}

type IncusConfig struct {
	Socket           string // unix socket, empty for the default
	Project          string
	Pool             string
	PersistentDevice string // disk device holding the persistent volume
}

// source resolves a key from the environment first, then from the file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := s.file[key]
	return v, ok
}

// readFile loads a flat YAML mapping. Keys are matched like env vars.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch t := v.(type) {
		case nil:
			out[key] = ""
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			out[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file %s: key %s must be a scalar or a list", path, k)
		default:
			out[key] = fmt.Sprint(t)
		}
	}
	return out, nil
}

// Load reads config from environment variables and the optional CONFIG_FILE,
// applies defaults and validates. The environment wins over the file.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	get := func(key, def string) string {
		if v, ok := src.lookup(key); ok {
			return v
		}
		return def
	}

	parseInt := func(key string, def int) int {
		if v, ok := src.lookup(key); ok && strings.TrimSpace(v) != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
		return def
	}

	parseDur := func(key string, def time.Duration) time.Duration {
		if v, ok := src.lookup(key); ok && strings.TrimSpace(v) != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
			// Bare numbers are seconds.
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return time.Duration(n) * time.Second
			}
		}
		return def
	}

	parseFloat := func(key string, def float64) float64 {
		if v, ok := src.lookup(key); ok && strings.TrimSpace(v) != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return f
			}
		}
		return def
	}

	parseBool := func(key string, def bool) bool {
		if v, ok := src.lookup(key); ok && strings.TrimSpace(v) != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y", "on":
				return true
			case "0", "false", "no", "n", "off":
				return false
			}
		}
		return def
	}

	parseList := func(key string, def []string) []string {
		v, ok := src.lookup(key)
		if !ok {
			return def
		}
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	home, _ := os.UserHomeDir()

	cfg := Config{
		Landscape:      strings.ToLower(strings.TrimSpace(get("IAAS_LANDSCAPE", ""))),
		Compute:        strings.ToLower(strings.TrimSpace(get("COMPUTE_BACKEND", "incus"))),
		BlobStore:      strings.ToLower(strings.TrimSpace(get("BLOBSTORE_PROVIDER", "azure"))),
		SnapshotNative: parseList("SNAPSHOT_NATIVE_LANDSCAPES", []string{"aws"}),

		BackupGUID: strings.TrimSpace(get("BACKUP_GUID", "")),
		BackupType: strings.ToLower(strings.TrimSpace(get("BACKUP_TYPE", "online"))),
		InstanceID: strings.TrimSpace(get("INSTANCE_ID", "")),
		Secret:     get("BACKUP_SECRET", ""),

		Job: JobConfig{
			Name:         strings.TrimSpace(get("SERVICE_JOB", "")),
			PollInterval: parseDur("JOB_POLL_INTERVAL", 10*time.Second),
			Timeout:      parseDur("JOB_TIMEOUT", 18000*time.Second),
		},
		StateDir: get("LAST_OPERATION_DIR", "/tmp/backup-restore/last-operation"),
		LogDir:   get("LOG_DIR", ""),
		Transfer: TransferConfig{
			UploadSource:      get("BLOB_UPLOAD_SOURCE", "/var/vcap/store/myfiles.tar.gz"),
			UploadDestination: get("BLOB_UPLOAD_DESTINATION", "myfiles.tar.gz"),
			DownloadSource:    get("BLOB_DOWNLOAD_SOURCE", "myfiles.tar.gz"),
			DownloadTarget:    get("BLOB_DOWNLOAD_TARGET", "/var/vcap/store/download.tar.gz"),
		},

		Azure: AzureConfig{
			Account:      get("AZURE_STORAGE_ACCOUNT", ""),
			Container:    get("AZURE_STORAGE_CONTAINER", ""),
			SASToken:     get("AZURE_STORAGE_SAS", ""),
			Endpoint:     get("AZURE_BLOB_ENDPOINT", ""),
			ClientID:     get("AZURE_CLIENT_ID", ""),
			ClientSecret: get("AZURE_CLIENT_SECRET", ""),
			TenantID:     get("AZURE_TENANT_ID", ""),
		},
		SFTP: SFTPConfig{
			Host:                  strings.TrimSpace(get("SFTP_HOST", "")),
			Port:                  parseInt("SFTP_PORT", 22),
			User:                  strings.TrimSpace(get("SFTP_USER", "")),
			Password:              get("SFTP_PASSWORD", ""),
			KeyFile:               strings.TrimSpace(get("SFTP_KEY_FILE", "")),
			KnownHosts:            strings.TrimSpace(get("SFTP_KNOWN_HOSTS", home+"/.ssh/known_hosts")),
			InsecureIgnoreHostKey: parseBool("SFTP_INSECURE_IGNORE_HOST_KEY", false),
			Root:                  get("SFTP_ROOT", "."),
			Timeout:               parseDur("SFTP_TIMEOUT", 30*time.Second),
		},
		Local: LocalConfig{
			Root: get("LOCAL_BLOBSTORE_ROOT", ""),
		},
		Incus: IncusConfig{
			Socket:           strings.TrimSpace(get("INCUS_SOCKET", "")),
			Project:          strings.TrimSpace(get("INCUS_PROJECT", "")),
			Pool:             strings.TrimSpace(get("INCUS_STORAGE_POOL", "default")),
			PersistentDevice: strings.TrimSpace(get("INCUS_PERSISTENT_DEVICE", "persistent")),
		},

		RetryMaxAttempts:  parseInt("RETRY_MAX_ATTEMPTS", retry.Default.MaxAttempts),
		RetryInitialDelay: parseDur("RETRY_INITIAL_DELAY", retry.Default.InitialDelay),
		RetryMaxDelay:     parseDur("RETRY_MAX_DELAY", retry.Default.MaxDelay),
		RetryMultiplier:   parseFloat("RETRY_MULTIPLIER", retry.Default.Multiplier),
		RetryEnableJitter: parseBool("RETRY_JITTER", retry.Default.Jitter),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks blob store specific requirements. Session fields are
// checked by the workflow that needs them.
func (c *Config) validate() error {
	switch c.BlobStore {
	case "azure":
		if c.Azure.Account == "" || c.Azure.Container == "" {
			return errors.New("azure: AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_CONTAINER are required")
		}
		// Without SAS or a service principal the store falls back to DefaultAzureCredential.
	case "sftp":
		if c.SFTP.Host == "" || c.SFTP.User == "" {
			return errors.New("sftp: SFTP_HOST and SFTP_USER are required")
		}
		if c.SFTP.Password == "" && c.SFTP.KeyFile == "" {
			return errors.New("sftp: SFTP_PASSWORD or SFTP_KEY_FILE is required")
		}
	case "local":
		if strings.TrimSpace(c.Local.Root) == "" {
			return errors.New("local: LOCAL_BLOBSTORE_ROOT is required")
		}
	default:
		return errors.New("unsupported blob store: " + c.BlobStore)
	}
	if c.Job.PollInterval <= 0 || c.Job.Timeout <= 0 {
		return errors.New("JOB_POLL_INTERVAL and JOB_TIMEOUT must be positive")
	}
	return nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryEnableJitter,
	}
}

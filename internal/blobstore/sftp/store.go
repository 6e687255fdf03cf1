package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/blobstore"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/config"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/retry"
)

// session is one open SFTP connection.
type session struct {
	client *sftp.Client
	close  func() error
}

// Store keeps blobs as files below a root directory on an SFTP server.
// Each operation opens its own connection.
type Store struct {
	root string
	ro   retry.Options
	dial func(ctx context.Context) (*session, error)
}

func (s *Store) Name() string { return "sftp" }

func init() {
	blobstore.Register("sftp", func(cfg any) (blobstore.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("sftp: invalid config type %T", cfg)
		}
		cc, err := clientConfig(c.SFTP)
		if err != nil {
			return nil, fmt.Errorf("sftp: %w", err)
		}
		addr := net.JoinHostPort(c.SFTP.Host, strconv.Itoa(c.SFTP.Port))
		return &Store{
			root: c.SFTP.Root,
			ro:   c.RetryOptions(),
			dial: func(ctx context.Context) (*session, error) { return dialSSH(ctx, addr, cc) },
		}, nil
	})
}

func clientConfig(c config.SFTPConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		pem, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no authentication method configured")
	}

	var hostKey ssh.HostKeyCallback
	if c.InsecureIgnoreHostKey {
		log.Warn().Str("action", "sftp_connect").Str("host", c.Host).Msg("host key verification disabled")
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known_hosts %s: %w", c.KnownHosts, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}

func dialSSH(ctx context.Context, addr string, cc *ssh.ClientConfig) (*session, error) {
	d := net.Dialer{Timeout: cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sc, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &session{
		client: sftpClient,
		close: func() error {
			_ = sftpClient.Close()
			return client.Close()
		},
	}, nil
}

// with runs fn on a fresh connection under the retry policy.
func (s *Store) with(ctx context.Context, action, key string, fn func(*sftp.Client) error) error {
	start := time.Now()
	n := 0
	err := retry.Do(ctx, s.ro, isRetryable, func(ctx context.Context) error {
		n++
		sess, err := s.dial(ctx)
		if err != nil {
			log.Debug().Err(err).Str("action", action).Str("key", key).Int("attempt", n).Msg("connect failed")
			return err
		}
		defer func() { _ = sess.close() }()
		if err := fn(sess.client); err != nil {
			log.Debug().Err(err).Str("action", action).Str("key", key).Int("attempt", n).Msg("attempt failed")
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("action", action).Str("key", key).Int("attempts", n).
		Dur("elapsed_ms", time.Since(start)).Msg("OK")
	return nil
}

// Upload writes to a temporary name, checks the written size and renames
// it into place.
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	cs, err := blobstore.FileChecksum(localPath)
	if err != nil {
		return err
	}
	remote := path.Join(s.root, key)
	return s.with(ctx, "sftp_upload", key, func(c *sftp.Client) error {
		if err := c.MkdirAll(path.Dir(remote)); err != nil {
			return fmt.Errorf("mkdir %s: %w", path.Dir(remote), err)
		}
		in, err := os.Open(localPath)
		if err != nil {
			return retry.Permanent(err)
		}
		defer func() { _ = in.Close() }()

		tmp := fmt.Sprintf("%s.part.%d", remote, time.Now().UnixNano())
		out, err := c.Create(tmp)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmp, err)
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			_ = c.Remove(tmp)
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		if err := out.Close(); err != nil {
			_ = c.Remove(tmp)
			return err
		}
		fi, err := c.Stat(tmp)
		if err == nil {
			err = cs.MatchSize(fi.Size())
		}
		if err != nil {
			_ = c.Remove(tmp)
			return fmt.Errorf("verify %s: %w", tmp, err)
		}
		_ = c.Remove(remote)
		if err := c.Rename(tmp, remote); err != nil {
			_ = c.Remove(tmp)
			return fmt.Errorf("rename %s: %w", remote, err)
		}
		return nil
	})
}

// Download copies the remote file to localPath. A missing file yields
// blobstore.ErrNotFound.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	remote := path.Join(s.root, key)
	return s.with(ctx, "sftp_download", key, func(c *sftp.Client) error {
		in, err := c.Open(remote)
		if errors.Is(err, fs.ErrNotExist) {
			return retry.Permanent(fmt.Errorf("%w: %s", blobstore.ErrNotFound, remote))
		}
		if err != nil {
			return fmt.Errorf("open %s: %w", remote, err)
		}
		defer func() { _ = in.Close() }()

		out, err := os.Create(localPath)
		if err != nil {
			return retry.Permanent(err)
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return fmt.Errorf("read %s: %w", remote, err)
		}
		return out.Close()
	})
}

// isRetryable rejects host key mismatches; other failures get a new connection.
func isRetryable(err error) bool {
	var ke *knownhosts.KeyError
	return !errors.As(err, &ke)
}

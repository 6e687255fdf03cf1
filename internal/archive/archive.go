package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/openpgp"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ErrNoPassphrase is returned when encryption is requested without a secret.
var ErrNoPassphrase = errors.New("empty passphrase")

// CreateEncrypted writes the contents of src as a gzip tarball encrypted
// with the passphrase (OpenPGP symmetric) to dest.
func CreateEncrypted(ctx context.Context, src, dest string, passphrase []byte) (err error) {
	if len(passphrase) == 0 {
		return ErrNoPassphrase
	}
	start := time.Now()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc, err := openpgp.SymmetricallyEncrypt(out, passphrase, nil, nil)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	zw := gzip.NewWriter(enc)
	tw := tar.NewWriter(zw)

	n, err := writeTree(ctx, tw, src)
	if err != nil {
		return err
	}
	// Close in stream order so every layer flushes into the next.
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize encryption: %w", err)
	}

	log.Info().Str("action", "archive_create").Str("src", src).Str("dest", dest).
		Int("entries", n).Dur("elapsed_ms", time.Since(start)).Msg("tarball created")
	return nil
}

func writeTree(ctx context.Context, tw *tar.Writer, root string) (int, error) {
	entries := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", rel, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", rel, err)
		}
		entries++
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		return nil
	})
	return entries, err
}

// DecryptExtract decrypts the tarball at src with the passphrase and
// extracts it below destDir, which is created when missing.
func DecryptExtract(ctx context.Context, src, destDir string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return ErrNoPassphrase
	}
	start := time.Now()

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	prompted := false
	md, err := openpgp.ReadMessage(in, openpgp.EntityList{}, func([]openpgp.Key, bool) ([]byte, error) {
		if prompted {
			return nil, errors.New("wrong passphrase")
		}
		prompted = true
		return passphrase, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", src, err)
	}
	zr, err := gzip.NewReader(md.UnverifiedBody)
	if err != nil {
		return fmt.Errorf("gunzip %s: %w", src, err)
	}
	defer func() { _ = zr.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	n, err := extract(ctx, tar.NewReader(zr), destDir)
	if err != nil {
		return err
	}

	log.Info().Str("action", "archive_extract").Str("src", src).Str("dest", destDir).
		Int("entries", n).Dur("elapsed_ms", time.Since(start)).Msg("tarball extracted")
	return nil
}

func extract(ctx context.Context, tr *tar.Reader, destDir string) (int, error) {
	root := filepath.Clean(destDir)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return entries, fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return entries, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return entries, err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return entries, fmt.Errorf("%w: absolute link %s", ErrUnsafePath, hdr.Name)
			}
			resolved := filepath.Join(filepath.Dir(target), hdr.Linkname)
			if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
				return entries, fmt.Errorf("%w: link %s", ErrUnsafePath, hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return entries, err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return entries, err
			}
		default:
			log.Warn().Str("action", "archive_extract").Str("entry", hdr.Name).
				Int("type", int(hdr.Typeflag)).Msg("skipping unsupported entry")
			continue
		}
		entries++
	}
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}

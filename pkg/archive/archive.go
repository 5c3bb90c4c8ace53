package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/remote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultExcludes are directory and suffix patterns never shipped to the
// target: version-control metadata and build caches.
var DefaultExcludes = []string{
	".git",
	".venv",
	"node_modules",
	"__pycache__",
	".pytest_cache",
	".mypy_cache",
	"*.pyc",
	"*.tar.gz",
}

const remoteArchiveName = ".stevedore-release.tar.gz"

// Pack writes a gzipped tarball of srcDir to w, skipping excluded entries.
// Paths inside the archive are relative to srcDir.
func Pack(srcDir string, w io.Writer, excludes []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Sockets, devices and other irregular files cannot be archived
		if !info.Mode().IsRegular() && !info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func excluded(rel, base string, excludes []string) bool {
	for _, pattern := range excludes {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(base, pattern[1:]) {
				return true
			}
			continue
		}
		if base == pattern || rel == pattern {
			return true
		}
		// Exclusions apply at any depth
		if strings.HasPrefix(rel, pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Transferrer ships the packed working tree to the remote application
// directory over the deployment's SSH connection.
type Transferrer struct {
	client   *ssh.Client
	runner   remote.Runner
	excludes []string
}

// NewTransferrer creates a transferrer that reuses the SSH connection
// behind the given runner.
func NewTransferrer(client *ssh.Client, runner remote.Runner) *Transferrer {
	return &Transferrer{
		client:   client,
		runner:   runner,
		excludes: DefaultExcludes,
	}
}

// Push packs srcDir, streams the archive to remoteDir via SFTP, and
// unpacks it there. Any failure is a TransferError, which aborts the run
// before container state is touched.
func (t *Transferrer) Push(ctx context.Context, srcDir, remoteDir string) error {
	logger := log.WithComponent("archive")
	start := time.Now()

	sftpClient, err := sftp.NewClient(t.client)
	if err != nil {
		return &errdefs.TransferError{Path: remoteDir, Err: err}
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return &errdefs.TransferError{Path: remoteDir, Err: err}
	}

	remotePath := path.Join(remoteDir, remoteArchiveName)
	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return &errdefs.TransferError{Path: remotePath, Err: err}
	}

	if err := Pack(srcDir, dst, t.excludes); err != nil {
		dst.Close()
		return &errdefs.TransferError{Path: srcDir, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &errdefs.TransferError{Path: remotePath, Err: err}
	}

	if _, err := t.runner.Run(ctx, remote.Command{
		Name:    "tar",
		Args:    []string{"-xzf", remoteArchiveName},
		Dir:     remoteDir,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return &errdefs.TransferError{Path: remotePath, Err: err}
	}
	if _, err := t.runner.Run(ctx, remote.Command{
		Name: "rm",
		Args: []string{"-f", remoteArchiveName},
		Dir:  remoteDir,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to remove remote archive")
	}

	logger.Info().Str("dir", remoteDir).Dur("took", time.Since(start)).Msg("working tree transferred")
	return nil
}

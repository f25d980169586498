// Package targz provides an archiver adapter using archive/tar and
// compress/gzip.
package targz

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

// TarGzArchiver implements ports.Archiver using tar.gz containers.
type TarGzArchiver struct{}

// New creates a new TarGzArchiver adapter.
func New() *TarGzArchiver {
	return &TarGzArchiver{}
}

// MaxDecompressSize is the maximum allowed uncompressed entry size (10GB).
// This prevents decompression bomb attacks.
const MaxDecompressSize = 10 * 1024 * 1024 * 1024 // 10GB

// Create writes a tar.gz archive at destPath containing the given
// files. Each entry of files is a path relative to baseDir and becomes
// the archive name of that file. onAdd, when non-nil, is invoked with
// the running count after each file is added.
//
// Any unreadable source file fails the whole call: a partial archive
// would not match the manifest written next to it.
func (a *TarGzArchiver) Create(destPath, baseDir string, files []string, onAdd func(done int)) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	var addErr error
	for i, rel := range files {
		if addErr = addFile(tw, filepath.Join(baseDir, rel), rel); addErr != nil {
			addErr = fmt.Errorf("archiving %s: %w", rel, addErr)
			break
		}
		if onAdd != nil {
			onAdd(i + 1)
		}
	}

	// Close writers in order to flush data
	if closeErr := tw.Close(); closeErr != nil && addErr == nil {
		addErr = fmt.Errorf("closing tar writer: %w", closeErr)
	}
	if closeErr := gw.Close(); closeErr != nil && addErr == nil {
		addErr = fmt.Errorf("closing gzip writer: %w", closeErr)
	}
	if closeErr := outFile.Close(); closeErr != nil && addErr == nil {
		addErr = fmt.Errorf("closing archive file: %w", closeErr)
	}
	return addErr
}

// addFile appends one regular file to the tar stream.
func addFile(tw *tar.Writer, srcPath, arcName string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(arcName)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	file, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(tw, file)
	_ = file.Close() // Data already copied; close error is irrelevant
	return copyErr
}

// List returns the regular entries of the archive keyed by name. The
// whole stream is consumed, so a truncated or corrupted archive always
// surfaces as an error even when the damage is near the end.
func (a *TarGzArchiver) List(archivePath string) (map[string]ports.FileEntry, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gr.Close() }()

	tr := tar.NewReader(gr)
	entries := make(map[string]ports.FileEntry)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		entries[path.Clean(header.Name)] = ports.FileEntry{
			Size:    header.Size,
			ModTime: header.ModTime,
		}
	}
	return entries, nil
}

// Extract unpacks the archive into destDir, preserving entry
// modification times.
func (a *TarGzArchiver) Extract(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer func() { _ = gr.Close() }()

	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolving destination path: %w", err)
	}
	absDestDir = filepath.Clean(absDestDir)

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		// SECURITY: Only directories and regular files; symlinks and
		// devices are blocked to prevent link attacks.
		switch header.Typeflag {
		case tar.TypeDir, tar.TypeReg:
		default:
			return fmt.Errorf("unsupported entry type in archive: %s", header.Name)
		}

		fpath := filepath.Join(destDir, header.Name)

		// SECURITY: Check for path traversal
		if !isWithinDir(absDestDir, fpath) {
			return fmt.Errorf("invalid file path (path traversal detected): %s", header.Name)
		}

		if header.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return fmt.Errorf("creating directory %s: %w", fpath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return fmt.Errorf("creating parent directory for %s: %w", fpath, err)
		}
		if err := extractFile(tr, header, fpath); err != nil {
			return fmt.Errorf("extracting %s: %w", header.Name, err)
		}
	}
	return nil
}

// extractFile writes a single entry, restoring its modification time so
// time-based comparisons over the extracted tree keep working.
func extractFile(tr *tar.Reader, header *tar.Header, destPath string) error {
	// SECURITY: Limit decompression size to prevent archive bombs
	if header.Size > MaxDecompressSize {
		return fmt.Errorf("file too large: %d bytes exceeds limit of %d bytes", header.Size, int64(MaxDecompressSize))
	}

	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode())
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(outFile, tr)
	closeErr := outFile.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}

	return os.Chtimes(destPath, header.ModTime, header.ModTime)
}

// ReadFile returns the contents of one entry without unpacking the rest.
func (a *TarGzArchiver) ReadFile(archivePath, name string) ([]byte, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gr.Close() }()

	want := path.Clean(filepath.ToSlash(name))
	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg || path.Clean(header.Name) != want {
			continue
		}
		if header.Size > MaxDecompressSize {
			return nil, fmt.Errorf("file too large: %d bytes", header.Size)
		}
		return io.ReadAll(tr)
	}
	return nil, fmt.Errorf("file not found in archive: %s", name)
}

// isWithinDir checks if the target path is within the base directory.
func isWithinDir(absBaseDir, targetPath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absTarget = filepath.Clean(absTarget)

	return strings.HasPrefix(absTarget, absBaseDir+string(filepath.Separator)) ||
		absTarget == absBaseDir
}

// Compile-time check that TarGzArchiver implements ports.Archiver.
var _ ports.Archiver = (*TarGzArchiver)(nil)

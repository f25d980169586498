package ports

import "time"

// Archiver abstracts gzip-compressed tar operations for testability.
// Production code uses TarGzArchiver adapter; tests use MockArchiver.
type Archiver interface {
	// Create writes a gzip-compressed tar archive at destPath containing
	// the given files. Each path is relative to baseDir and is stored in
	// the archive under that relative path. onAdd, when non-nil, is
	// called after each file is appended with the 1-based count.
	Create(destPath, baseDir string, files []string, onAdd func(done int)) error

	// List walks every entry of the archive and returns metadata keyed
	// by entry path. Any structural damage (bad gzip stream, truncated
	// tar, corrupt header) is reported as an error.
	List(archivePath string) (map[string]FileEntry, error)

	// Extract unpacks the archive into destDir.
	Extract(archivePath, destDir string) error

	// ReadFile reads the contents of a single file from the archive.
	ReadFile(archivePath, name string) ([]byte, error)
}

// FileEntry contains metadata about a file in an archive.
type FileEntry struct {
	Size    int64
	ModTime time.Time
}

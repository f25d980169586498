// Package storage enumerates the mirror registry's package cache tree.
//
// The tree layout is owned by the registry server, not by us:
// storage/<name>/<name>-<version>.tgz for plain packages and
// storage/@<scope>/<name>/... for scoped ones, with a registry metadata
// document named package.json inside each package directory.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mirrorops/mirrorctl/internal/logging"
)

// PackageRef identifies a package independent of version.
type PackageRef struct {
	Scope string // "@angular" for scoped packages, empty otherwise
	Name  string
}

// String returns the registry name: "name" or "@scope/name".
func (r PackageRef) String() string {
	if r.Scope != "" {
		return r.Scope + "/" + r.Name
	}
	return r.Name
}

// Spec returns the install spec for a version; an empty version means latest.
func (r PackageRef) Spec(version string) string {
	if version == "" {
		version = "latest"
	}
	return r.String() + "@" + version
}

// ParseRef parses "name" or "@scope/name" into a PackageRef. Names that
// fail the registry charset filter are rejected so nothing flag-shaped
// reaches the installer's argument list.
func ParseRef(s string) (PackageRef, error) {
	if strings.HasPrefix(s, "@") {
		scope, name, ok := strings.Cut(s, "/")
		if !ok || !validSegment(strings.TrimPrefix(scope, "@")) || !validSegment(name) {
			return PackageRef{}, fmt.Errorf("invalid package name: %q", s)
		}
		return PackageRef{Scope: scope, Name: name}, nil
	}
	if !validSegment(s) {
		return PackageRef{}, fmt.Errorf("invalid package name: %q", s)
	}
	return PackageRef{Name: s}, nil
}

// nameRe matches the registry's allowed charset. A leading dot (hidden),
// dash (reads as a flag downstream), or underscore is not a package name.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._~-]*$`)

func validSegment(name string) bool {
	if name == "" || strings.HasSuffix(name, ".json") {
		return false
	}
	return nameRe.MatchString(name)
}

// packument is the slice of the registry metadata document needed for
// eligibility checks.
type packument struct {
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]json.RawMessage `json:"time"`
}

// eligible reports whether a package directory's metadata document
// allows a refresh. No versions left, or an unpublished marker in the
// time map, means the package was removed upstream on purpose. A
// missing or unreadable document never vetoes the entry.
func eligible(pkgDir string) bool {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return true
	}
	var doc packument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Debug("unreadable package metadata", logging.String("dir", pkgDir), logging.Err(err))
		return true
	}
	if _, ok := doc.Time["unpublished"]; ok {
		return false
	}
	if doc.Versions != nil && len(doc.Versions) == 0 {
		return false
	}
	return true
}

// ListPackages enumerates the eligible packages cached under storageDir.
// The walk is shallow: top-level entries, descending one extra level for
// scope namespaces. A missing storage tree yields an empty list.
func ListPackages(storageDir string) []PackageRef {
	var refs []PackageRef

	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return refs
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.IsDir() {
			continue
		}

		if strings.HasPrefix(name, "@") {
			if !validSegment(strings.TrimPrefix(name, "@")) {
				logging.Debug("skipping invalid scope directory", logging.String("name", name))
				continue
			}
			subEntries, err := os.ReadDir(filepath.Join(storageDir, name))
			if err != nil {
				continue
			}
			for _, sub := range subEntries {
				subName := sub.Name()
				if !sub.IsDir() || strings.HasPrefix(subName, ".") {
					continue
				}
				if !validSegment(subName) {
					logging.Debug("skipping invalid package directory",
						logging.String("name", name+"/"+subName))
					continue
				}
				if !eligible(filepath.Join(storageDir, name, subName)) {
					continue
				}
				refs = append(refs, PackageRef{Scope: name, Name: subName})
			}
			continue
		}

		if !validSegment(name) {
			logging.Debug("skipping invalid package directory", logging.String("name", name))
			continue
		}
		if !eligible(filepath.Join(storageDir, name)) {
			continue
		}
		refs = append(refs, PackageRef{Name: name})
	}

	return refs
}

// ListModifiedPackages returns the eligible packages whose registry
// metadata document changed within the lookback window. This walk is
// fully recursive; each hit is mapped back to its owning package and
// deduplicated.
func ListModifiedPackages(storageDir string, since time.Duration) []PackageRef {
	cutoff := time.Now().Add(-since)
	seen := make(map[string]bool)
	var refs []PackageRef

	_ = filepath.Walk(storageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || info.Name() != "package.json" {
			return nil
		}
		if !info.ModTime().After(cutoff) {
			return nil
		}

		rel, err := filepath.Rel(storageDir, filepath.Dir(path))
		if err != nil {
			return nil
		}
		ref, ok := refFromRelDir(rel)
		if !ok || seen[ref.String()] {
			return nil
		}
		seen[ref.String()] = true

		if !eligible(filepath.Join(storageDir, ref.Scope, ref.Name)) {
			return nil
		}
		refs = append(refs, ref)
		return nil
	})

	return refs
}

// ListArchives returns every package tarball under storageDir in walk order.
func ListArchives(storageDir string) []string {
	var archives []string
	_ = filepath.Walk(storageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".tgz") {
			archives = append(archives, path)
		}
		return nil
	})
	return archives
}

// versionRe matches the first semver-shaped substring of a tarball name,
// prerelease suffix included.
var versionRe = regexp.MustCompile(`(\d+\.\d+\.\d+(?:-[\w.]+)?)`)

// ParseArchivePath derives the owning package and version from an
// archive path. The version is the first semver-shaped substring of the
// filename; anything unparseable falls back to latest.
func ParseArchivePath(storageDir, archivePath string) (PackageRef, string) {
	version := "latest"
	if m := versionRe.FindString(filepath.Base(archivePath)); m != "" {
		if _, err := semver.NewVersion(m); err == nil {
			version = m
		}
	}

	ref := PackageRef{Name: filepath.Base(filepath.Dir(archivePath))}
	if rel, err := filepath.Rel(storageDir, filepath.Dir(archivePath)); err == nil {
		if r, ok := refFromRelDir(rel); ok {
			ref = r
		}
	}
	return ref, version
}

// refFromRelDir maps a directory path relative to the storage root back
// to the package that owns it.
func refFromRelDir(rel string) (PackageRef, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "" || parts[0] == "." {
		return PackageRef{}, false
	}
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 {
			return PackageRef{}, false
		}
		if !validSegment(strings.TrimPrefix(parts[0], "@")) || !validSegment(parts[1]) {
			return PackageRef{}, false
		}
		return PackageRef{Scope: parts[0], Name: parts[1]}, true
	}
	if !validSegment(parts[0]) {
		return PackageRef{}, false
	}
	return PackageRef{Name: parts[0]}, true
}

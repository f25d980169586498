package install

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mirrorops/mirrorctl/internal/logging"
)

// syncTypeDeclarations augments the scratch manifest with the @types
// counterparts of the dependencies the primary install resolved, then
// reruns the client once so the mirror caches the declaration packages
// too. Strictly best effort: any problem is logged and dropped, the
// primary install has already succeeded.
func (s *Service) syncTypeDeclarations(ctx context.Context, workDir, spec string) {
	manifestPath := filepath.Join(workDir, "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		logging.Debug("type sync skipped", logging.String("package", spec), logging.Err(err))
		return
	}

	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		logging.Debug("type sync skipped", logging.String("package", spec), logging.Err(err))
		return
	}

	deps := stringMap(manifest["dependencies"])
	devDeps := stringMap(manifest["devDependencies"])

	missing := missingTypePackages(deps, devDeps)
	if len(missing) == 0 {
		return
	}

	for _, name := range missing {
		devDeps[name] = "latest"
	}
	manifest["devDependencies"] = devDeps

	updated, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		logging.Debug("type sync skipped", logging.String("package", spec), logging.Err(err))
		return
	}
	if err := os.WriteFile(manifestPath, updated, 0o644); err != nil {
		logging.Debug("type sync skipped", logging.String("package", spec), logging.Err(err))
		return
	}

	args := append([]string{"install"}, s.baseArgs()...)
	cctx, cancel := context.WithTimeout(ctx, s.cfg.PackageTimeout())
	defer cancel()

	if _, err := s.pnpm.Run(cctx, workDir, args...); err != nil {
		logging.Warn("type declaration install failed",
			logging.String("package", spec), logging.Err(err))
		return
	}
	logging.Info("type declarations cached",
		logging.String("package", spec), logging.Int("count", len(missing)))
}

// stringMap coerces a manifest dependency block into a string map.
func stringMap(v any) map[string]string {
	out := make(map[string]string)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// missingTypePackages returns the declaration packages implied by deps
// that are present in neither dependency block, sorted for a stable
// manifest.
func missingTypePackages(deps, devDeps map[string]string) []string {
	var missing []string
	for name := range deps {
		typeName := typePackageName(name)
		if typeName == "" {
			continue
		}
		if _, ok := deps[typeName]; ok {
			continue
		}
		if _, ok := devDeps[typeName]; ok {
			continue
		}
		missing = append(missing, typeName)
	}
	sort.Strings(missing)
	return missing
}

// typePackageName maps a package to its DefinitelyTyped counterpart:
// lodash becomes @types/lodash, @babel/core becomes @types/babel__core.
// Declaration packages themselves map to nothing.
func typePackageName(name string) string {
	if strings.HasPrefix(name, "@types/") {
		return ""
	}
	if strings.HasPrefix(name, "@") {
		scope, pkg, ok := strings.Cut(strings.TrimPrefix(name, "@"), "/")
		if !ok {
			return ""
		}
		return "@types/" + scope + "__" + pkg
	}
	return "@types/" + name
}

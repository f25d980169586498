// Package install drives the pnpm client to pull packages through the
// mirror registry. Installing into a disposable directory is the whole
// point: the registry server caches every tarball it proxies, so the
// scratch tree is thrown away afterwards.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/logging"
	"github.com/mirrorops/mirrorctl/internal/ports"
	"github.com/mirrorops/mirrorctl/internal/storage"
)

// Service runs pnpm installs against the mirror registry.
type Service struct {
	cfg  *config.Config
	pnpm ports.PnpmClient
}

// NewService creates an installer backed by the given pnpm client.
func NewService(cfg *config.Config, pnpm ports.PnpmClient) *Service {
	return &Service{cfg: cfg, pnpm: pnpm}
}

// Install fetches one package through the mirror. An empty version
// means latest. The returned error, when non-nil, is always an *Error.
func (s *Service) Install(ctx context.Context, ref storage.PackageRef, version string) error {
	return s.install(ctx, ref, version, false)
}

// InstallBulk is Install with the flags used on mass refresh runs:
// scripts disabled, a reduced network concurrency, and a longer
// per-request fetch timeout so a full sweep does not overload the
// registry.
func (s *Service) InstallBulk(ctx context.Context, ref storage.PackageRef, version string) error {
	return s.install(ctx, ref, version, true)
}

func (s *Service) install(ctx context.Context, ref storage.PackageRef, version string, bulk bool) error {
	spec := ref.Spec(version)

	workDir, err := os.MkdirTemp("", "mirrorctl-install-*")
	if err != nil {
		return &Error{Kind: KindGeneric, Package: spec, Message: "failed to create work dir: " + err.Error()}
	}
	defer os.RemoveAll(workDir)

	args := append([]string{"install", spec}, s.baseArgs()...)
	if bulk {
		args = append(args,
			"--ignore-scripts",
			fmt.Sprintf("--network-concurrency=%d", s.cfg.NetworkConcurrency),
			fmt.Sprintf("--fetch-timeout=%d", s.cfg.FetchTimeoutMS),
		)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.PackageTimeout())
	defer cancel()

	output, runErr := s.pnpm.Run(cctx, workDir, args...)
	if runErr != nil {
		instErr := s.classifyFailure(cctx, spec, output, runErr)
		logging.Error("✗ "+spec,
			logging.String("kind", instErr.Kind.String()),
			logging.String("error", truncate(instErr.Message, 200)))
		return instErr
	}

	logging.Info("✓ " + spec)

	if s.cfg.TypeSync {
		s.syncTypeDeclarations(ctx, workDir, spec)
	}
	return nil
}

// baseArgs returns the flags shared by every install invocation.
func (s *Service) baseArgs() []string {
	args := []string{"--force", "--registry=" + s.cfg.RegistryURL}
	if s.cfg.PnpmStoreDir != "" {
		args = append(args, "--store-dir="+s.cfg.PnpmStoreDir)
	}
	return args
}

func (s *Service) classifyFailure(ctx context.Context, spec string, output []byte, runErr error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Kind:    KindTimeout,
			Package: spec,
			Message: fmt.Sprintf("timeout (%ds)", s.cfg.PackageTimeoutSec),
		}
	}
	if len(output) == 0 {
		// The client never produced diagnostics, e.g. the binary is
		// missing or was killed before writing anything.
		return &Error{Kind: KindGeneric, Package: spec, Message: truncate(runErr.Error(), maxRawLen)}
	}
	return classifyOutput(spec, string(output))
}

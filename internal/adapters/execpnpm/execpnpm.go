// Package execpnpm provides a pnpm client adapter using exec.CommandContext.
package execpnpm

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

// ExecPnpmClient implements ports.PnpmClient using exec.CommandContext.
type ExecPnpmClient struct {
	// pnpmPath is the path to the pnpm binary. Defaults to "pnpm".
	pnpmPath string
}

// Option is a functional option for configuring ExecPnpmClient.
type Option func(*ExecPnpmClient)

// WithPnpmPath sets a custom path to the pnpm binary.
func WithPnpmPath(path string) Option {
	return func(c *ExecPnpmClient) {
		c.pnpmPath = path
	}
}

// New creates a new ExecPnpmClient adapter.
func New(opts ...Option) *ExecPnpmClient {
	c := &ExecPnpmClient{
		pnpmPath: "pnpm",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes pnpm with the given arguments inside workDir and returns
// the combined output. The context deadline kills a hung invocation.
// Proxy variables are stripped from the child environment so the local
// registry is always reached directly.
func (c *ExecPnpmClient) Run(ctx context.Context, workDir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.pnpmPath, args...)
	cmd.Dir = workDir
	cmd.Env = scrubProxyEnv(os.Environ())
	return cmd.CombinedOutput()
}

// scrubProxyEnv drops HTTP(S) proxy variables, upper or lower case,
// from an environment list.
func scrubProxyEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		switch strings.ToUpper(key) {
		case "HTTP_PROXY", "HTTPS_PROXY":
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Compile-time check that ExecPnpmClient implements ports.PnpmClient.
var _ ports.PnpmClient = (*ExecPnpmClient)(nil)

package ports

import "context"

// PnpmClient abstracts the pnpm subprocess for testability.
// Production code uses ExecPnpmClient adapter; tests use MockPnpmClient.
type PnpmClient interface {
	// Run invokes pnpm with the given arguments in workDir and returns
	// the combined stdout/stderr. The context bounds the invocation:
	// when it expires the process is killed and the error reflects the
	// context state alongside any partial output.
	Run(ctx context.Context, workDir string, args ...string) ([]byte, error)
}

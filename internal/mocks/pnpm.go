// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

// MockPnpmClient implements ports.PnpmClient for testing.
type MockPnpmClient struct {
	mu sync.Mutex
	// Calls records the argument list of every invocation in order
	Calls [][]string
	// WorkDirs records the working directory of every invocation
	WorkDirs []string
	// Output maps a package spec to the combined output returned for it;
	// the key "" covers invocations without a spec (manifest installs)
	Output map[string][]byte
	// Fail maps a package spec to the error returned for it
	Fail map[string]error
	// Hang marks specs whose invocation blocks until the context is done
	Hang map[string]bool
}

// NewMockPnpmClient creates a new mock pnpm client.
func NewMockPnpmClient() *MockPnpmClient {
	return &MockPnpmClient{
		Output: make(map[string][]byte),
		Fail:   make(map[string]error),
		Hang:   make(map[string]bool),
	}
}

// Run records the invocation and returns the configured result for its
// package spec.
func (m *MockPnpmClient) Run(ctx context.Context, workDir string, args ...string) ([]byte, error) {
	spec := specOf(args)

	m.mu.Lock()
	m.Calls = append(m.Calls, append([]string{}, args...))
	m.WorkDirs = append(m.WorkDirs, workDir)
	m.mu.Unlock()

	if m.Hang[spec] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := m.Fail[spec]; ok {
		return m.Output[spec], err
	}
	return m.Output[spec], nil
}

// CallCount returns how many invocations were recorded.
func (m *MockPnpmClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns the recorded argument lists whose spec matches.
func (m *MockPnpmClient) CallsFor(spec string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]string
	for _, call := range m.Calls {
		if specOf(call) == spec {
			out = append(out, call)
		}
	}
	return out
}

// specOf extracts the package spec from an argument list: the first
// non-flag argument after the subcommand, or "" for manifest installs.
func specOf(args []string) string {
	if len(args) < 2 {
		return ""
	}
	for _, a := range args[1:] {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// Compile-time check that MockPnpmClient implements ports.PnpmClient.
var _ ports.PnpmClient = (*MockPnpmClient)(nil)

package install

import (
	"strings"
)

// Kind classifies a failed install attempt.
type Kind int

const (
	// KindGeneric is any unrecognized non-zero exit.
	KindGeneric Kind = iota
	// KindUpstreamUnavailable means a version-control dependency needs
	// network access the mirror environment does not have.
	KindUpstreamUnavailable
	// KindRegistryOverloaded means the mirror registry dropped or timed
	// out the connection.
	KindRegistryOverloaded
	// KindNoMatchingVersion means a dependency constraint cannot be
	// satisfied from the mirror cache.
	KindNoMatchingVersion
	// KindTimeout means the client invocation exceeded its allotted time.
	KindTimeout
)

// String returns the stable identifier used in logs.
func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindRegistryOverloaded:
		return "registry_overloaded"
	case KindNoMatchingVersion:
		return "no_matching_version"
	case KindTimeout:
		return "timeout"
	default:
		return "generic"
	}
}

// Error describes a failed install attempt for one package spec.
type Error struct {
	Kind    Kind
	Package string
	Message string
}

func (e *Error) Error() string {
	return e.Package + ": " + e.Message
}

// maxRawLen bounds the diagnostic carried by a generic failure.
const maxRawLen = 500

// classifyRules maps client output signatures to failure kinds,
// ordered by specificity. The first matching rule wins.
var classifyRules = []struct {
	substr  string
	kind    Kind
	message string
}{
	{"git ls-remote", KindUpstreamUnavailable, "upstream version control host unreachable from mirror"},
	{"Could not resolve host", KindUpstreamUnavailable, "upstream version control host unreachable from mirror"},
	{"fatal: unable to access", KindUpstreamUnavailable, "upstream version control host unreachable from mirror"},
	{"ETIMEDOUT", KindRegistryOverloaded, "registry connection timed out"},
	{"ESOCKETTIMEDOUT", KindRegistryOverloaded, "registry connection timed out"},
	{"ECONNRESET", KindRegistryOverloaded, "registry connection reset"},
	{"socket timeout", KindRegistryOverloaded, "registry connection timed out"},
	{"ERR_PNPM_NO_MATCHING_VERSION", KindNoMatchingVersion, "no matching version in mirror cache"},
	{"No matching version found", KindNoMatchingVersion, "no matching version in mirror cache"},
}

// classifyOutput maps a non-zero exit's combined output to an Error.
func classifyOutput(pkg, output string) *Error {
	for _, r := range classifyRules {
		if strings.Contains(output, r.substr) {
			return &Error{Kind: r.kind, Package: pkg, Message: r.message}
		}
	}
	return &Error{Kind: KindGeneric, Package: pkg, Message: truncate(strings.TrimSpace(output), maxRawLen)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"build-collector/src/contracts"
)

var (
	ErrInvalidURL = errors.New("invalid instance URL")
)

// Gateway defines the interface for reading jobs and builds from a CI server.
// Implementations are stateless and safe for concurrent use.
type Gateway interface {
	// ListJobs returns every job on the instance together with summaries of
	// its currently listed builds. An instance with no jobs yields an empty
	// slice, not an error.
	ListJobs(ctx context.Context, instanceURL string) ([]DiscoveredJob, error)

	// FetchBuild retrieves the full detail for one build. It returns
	// ErrBuildNotFound when the build is gone or its body cannot be parsed.
	FetchBuild(ctx context.Context, buildURL string) (*contracts.Build, error)
}

// NormalizeInstanceURL validates an instance URL and returns it with a
// single trailing slash so relative API paths can be appended.
func NormalizeInstanceURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return strings.TrimRight(u.String(), "/") + "/", nil
}

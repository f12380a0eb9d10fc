// Package github fetches documentation trees from GitHub repositories so
// they can be used as training sources.
package github

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"

	"github.com/bull/ragbot/internal/errs"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// NewClient creates a GitHub client. Primary and secondary rate limits are
// waited out by the transport. An empty token uses anonymous access.
func NewClient(token string) (*Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}

// classify maps go-github failures onto the errs taxonomy.
func classify(err error, what string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: github: %s: %v", errs.ErrRateLimited, what, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: github: %s: %v", errs.ErrRateLimited, what, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrNotFound, "github: %s", what)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: github: %s: %s", errs.ErrBackend, what, respErr.Message)
		}
		return errs.FromStatus("github", respErr.Response.StatusCode, "", respErr.Message)
	}
	return errs.FromTransport("github", fmt.Errorf("%s: %w", what, err))
}

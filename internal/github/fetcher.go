package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/extract"
)

// FetchedDoc represents a document fetched from GitHub
type FetchedDoc struct {
	Path    string // Relative path within the base directory
	Content string
	SHA     string // File's Git blob SHA
	URL     string // Raw download URL
}

// Location names a directory inside a repository.
type Location struct {
	Owner    string
	Repo     string
	BasePath string
	Ref      string
}

// ParseLocation accepts "owner/repo", "owner/repo/dir/sub" and an optional
// "@ref" suffix.
func ParseLocation(s string) (Location, error) {
	var loc Location
	s = strings.Trim(strings.TrimSpace(s), "/")
	if at := strings.LastIndex(s, "@"); at >= 0 {
		loc.Ref = s[at+1:]
		s = strings.TrimRight(s[:at], "/")
	}
	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Location{}, errs.Wrap(errs.ErrInvalidInput, "github location %q must look like owner/repo[/path][@ref]", s)
	}
	loc.Owner, loc.Repo = parts[0], parts[1]
	if len(parts) == 3 {
		loc.BasePath = parts[2]
	}
	return loc, nil
}

func (l Location) String() string {
	s := path.Join(l.Owner, l.Repo, l.BasePath)
	if l.Ref != "" {
		s += "@" + l.Ref
	}
	return s
}

// Fetcher lists and downloads the markdown and html files under a
// repository directory.
type Fetcher struct {
	client *Client
	loc    Location
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client, loc Location) *Fetcher {
	return &Fetcher{client: client, loc: loc}
}

// Location returns the directory the fetcher reads.
func (f *Fetcher) Location() Location { return f.loc }

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.loc.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.loc.Ref}
}

// ListDocs recursively lists the trainable files under the base path.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.loc.BasePath, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.loc.Owner, f.loc.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, classify(err, "list "+fullPath)
	}

	for _, item := range dirContents {
		name, kind := item.GetName(), item.GetType()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch kind {
		case "file":
			if extract.FormatFor(name) != extract.FormatPlain {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// FetchDoc downloads one file relative to the base path.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.loc.BasePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.loc.Owner, f.loc.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, classify(err, "get "+fullPath)
	}
	if fileContent == nil {
		return nil, errs.Wrap(errs.ErrNotFound, "github: %s is not a file", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fullPath, err)
	}

	ref := f.loc.Ref
	if ref == "" {
		ref = "HEAD"
	}
	rawURL := fileContent.GetDownloadURL()
	if rawURL == "" {
		rawURL = fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", f.loc.Owner, f.loc.Repo, ref, fullPath)
	}

	return &FetchedDoc{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     rawURL,
	}, nil
}

// LatestCommitSHA returns the most recent commit touching the base path.
func (f *Fetcher) LatestCommitSHA(ctx context.Context) (string, error) {
	opts := &github.CommitsListOptions{
		Path:        f.loc.BasePath,
		SHA:         f.loc.Ref,
		ListOptions: github.ListOptions{PerPage: 1},
	}
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.loc.Owner, f.loc.Repo, opts)
	if err != nil {
		return "", classify(err, "list commits")
	}
	if len(commits) == 0 || commits[0].GetSHA() == "" {
		return "", errs.Wrap(errs.ErrNotFound, "no commits found for %s", f.loc)
	}
	return commits[0].GetSHA(), nil
}

// Package vcs reads file contents as they were at a git revision. Lookups
// go through the content cache when one is wired in, so detect runs against
// the same pair of revisions only hit git once per file.
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"

	"fieldmv/internal/errors"
	"fieldmv/internal/logging"
	"fieldmv/internal/storage"
)

// FetchResult is the outcome of one file lookup. Found is false when the
// path does not exist at the revision; that is an answer, not an error.
type FetchResult struct {
	Content []byte
	Found   bool
}

// Snapshot is a read-only view of a repository at one revision.
type Snapshot struct {
	root   string
	rev    string
	cache  *storage.ContentCache
	logger *logging.Logger
}

// NewSnapshot pins a revision. The revision is resolved immediately so a
// typo fails the run up front instead of surfacing as a flood of misses.
// cache may be nil to disable caching.
func NewSnapshot(ctx context.Context, root, rev string, cache *storage.ContentCache, logger *logging.Logger) (*Snapshot, error) {
	resolved, err := gitOutput(ctx, root, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return nil, errors.New(errors.NotFoundAtSnapshot, "cannot resolve revision "+rev, err)
	}
	return &Snapshot{
		root:   root,
		rev:    strings.TrimSpace(resolved),
		cache:  cache,
		logger: logger,
	}, nil
}

// Rev returns the resolved commit hash.
func (s *Snapshot) Rev() string {
	return s.rev
}

// Fetch reads one root-relative file at the snapshot revision.
func (s *Snapshot) Fetch(ctx context.Context, path string) (FetchResult, error) {
	if s.cache != nil {
		if content, hit, err := s.cache.Get(s.rev, path); err == nil && hit {
			return FetchResult{Content: content, Found: true}, nil
		}
	}

	out, err := gitOutput(ctx, s.root, "show", s.rev+":"+path)
	if err != nil {
		// The revision itself was verified at construction, so a failing
		// show means the path does not exist there.
		if _, ok := err.(*exec.ExitError); ok {
			return FetchResult{}, nil
		}
		return FetchResult{}, errors.New(errors.InternalError, "git show failed for "+path, err)
	}

	content := []byte(out)
	if s.cache != nil {
		if err := s.cache.Put(s.rev, path, content); err != nil {
			s.logger.Warn("content cache write failed", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		}
	}
	return FetchResult{Content: content, Found: true}, nil
}

// ListFiles returns the root-relative paths under prefix at the snapshot
// revision, filtered by extension, sorted.
func (s *Snapshot) ListFiles(ctx context.Context, prefix, ext string) ([]string, error) {
	args := []string{"ls-tree", "-r", "--name-only", s.rev}
	if prefix != "" {
		args = append(args, prefix)
	}
	out, err := gitOutput(ctx, s.root, args...)
	if err != nil {
		return nil, errors.New(errors.InternalError, "git ls-tree failed", err)
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if ext != "" && !strings.HasSuffix(line, ext) {
			continue
		}
		files = append(files, line)
	}
	sort.Strings(files)
	return files, nil
}

// FetchAll fetches a batch of files, skipping paths absent at the
// revision.
func (s *Snapshot) FetchAll(ctx context.Context, paths []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		res, err := s.Fetch(ctx, p)
		if err != nil {
			return nil, err
		}
		if res.Found {
			out[p] = res.Content
		}
	}
	return out, nil
}

// gitOutput runs one git command rooted at dir and returns stdout.
func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

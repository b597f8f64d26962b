package gitsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/gzip"

	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/parser"
	"github.com/conorfennell/mentaton/internal/remote"
)

// DefaultManifestPath is where the manifest lives inside the repository.
const DefaultManifestPath = "data/version.json"

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does. An empty ref follows the remote HEAD.
func Sync(ctx context.Context, logger *slog.Logger, repoURL, localPath, ref string) error {
	var refName plumbing.ReferenceName
	if ref != "" {
		refName = plumbing.NewBranchReferenceName(ref)
	}

	_, err := os.Stat(localPath)
	if os.IsNotExist(err) {
		logger.Info("Cloning question repository", "url", repoURL, "path", localPath)
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:           repoURL,
			ReferenceName: refName,
			SingleBranch:  ref != "",
		})
		if err != nil {
			os.RemoveAll(localPath)
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	logger.Debug("Pulling question repository", "path", localPath)
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: refName,
		SingleBranch:  ref != "",
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
	}
	return nil
}

// Source serves the manifest and dataset from a git repository checked out
// under a local directory. Dataset locations in the manifest are paths
// relative to the repository root; absolute http(s) URLs are fetched over HTTP.
type Source struct {
	repoURL      string
	localPath    string
	ref          string
	manifestPath string
	defaultPath  string
	http         *remote.Client
	logger       *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithRef pins the branch to follow.
func WithRef(ref string) Option {
	return func(s *Source) { s.ref = ref }
}

// WithManifestPath overrides DefaultManifestPath.
func WithManifestPath(p string) Option {
	return func(s *Source) {
		if p != "" {
			s.manifestPath = p
		}
	}
}

// WithDefaultDataset sets the dataset used when the manifest names none.
func WithDefaultDataset(location string) Option {
	return func(s *Source) { s.defaultPath = location }
}

// WithHTTPClient sets the client used for absolute dataset URLs.
func WithHTTPClient(c *remote.Client) Option {
	return func(s *Source) { s.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Source for repoURL, checked out below reposDir.
func New(repoURL, reposDir string, opts ...Option) (*Source, error) {
	localPath, err := LocalPath(reposDir, repoURL)
	if err != nil {
		return nil, err
	}
	s := &Source{
		repoURL:      repoURL,
		localPath:    localPath,
		manifestPath: DefaultManifestPath,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FetchManifest syncs the repository and reads the manifest from it.
func (s *Source) FetchManifest(ctx context.Context) (domain.Manifest, error) {
	if err := Sync(ctx, s.logger, s.repoURL, s.localPath, s.ref); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: %v", remote.ErrNetwork, err)
	}

	b, err := s.readFile(s.manifestPath)
	if err != nil {
		return domain.Manifest{}, err
	}
	m, err := parser.ParseManifest(bytes.NewReader(b))
	if err != nil {
		return domain.Manifest{}, err
	}
	if m.QuestionsURL == "" {
		m.QuestionsURL = s.defaultPath
	}
	return m, nil
}

// FetchDataset reads the dataset from the checked out repository.
func (s *Source) FetchDataset(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		location = s.defaultPath
	}
	if isHTTP(location) {
		if s.http == nil {
			return nil, fmt.Errorf("%w: no http client for %s", remote.ErrNetwork, location)
		}
		return s.http.FetchDataset(ctx, location)
	}

	b, err := s.readFile(location)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(location, ".gz") {
		return b, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad gzip stream: %v", parser.ErrMalformed, location, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", parser.ErrMalformed, location, err)
	}
	return out, nil
}

// readFile reads a repository-relative path, refusing paths that escape the
// checkout.
func (s *Source) readFile(rel string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: invalid repository path %q", remote.ErrNetwork, rel)
	}
	b, err := os.ReadFile(filepath.Join(s.localPath, clean))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrNetwork, err)
	}
	return b, nil
}

func isHTTP(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// LocalPath maps a repository URL to a directory below baseDir.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http" && parsedURL.Scheme != "file") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		if filepath.IsAbs(repoURL) {
			return filepath.Join(baseDir, "local", strings.TrimSuffix(filepath.Base(repoURL), ".git")), nil
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	host := parsedURL.Host
	if host == "" {
		host = "local"
	}
	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, host, sanitizedPath), nil
}

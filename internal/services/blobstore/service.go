package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"golang.org/x/oauth2"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Service resolves source URIs to raw document bytes. Dispatch is by scheme:
// github:// uses the repository contents API, http(s):// uses a cookie-jar
// session with browser headers for portals fronted by a WAF, and everything
// else is read from disk relative to the blob directory.
type Service struct {
	blobDir      string
	fetchTimeout time.Duration
	githubClient *gogithub.Client
	logger       arbor.ILogger
}

// NewService creates the blob store and ensures the blob directory exists.
func NewService(cfg *common.Config, logger arbor.ILogger) (*Service, error) {
	blobDir := cfg.Storage.Blobs.Dir
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	var ghClient *gogithub.Client
	if cfg.GitHub.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token})
		ghClient = gogithub.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		ghClient = gogithub.NewClient(nil)
	}

	return &Service{
		blobDir:      blobDir,
		fetchTimeout: common.ParseDurationOr(cfg.Ingestion.FetchTimeout, 30*time.Second),
		githubClient: ghClient,
		logger:       logger,
	}, nil
}

// Store writes uploaded bytes into the blob directory and returns the
// local:// URI under which Fetch finds them again.
func (s *Service) Store(ctx context.Context, fileName string, data []byte) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("file name is required")
	}

	// Strip any path components so uploads cannot escape the blob dir.
	safeName := filepath.Base(fileName)
	path := filepath.Join(s.blobDir, safeName)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.logger.Debug().
		Str("file", safeName).
		Int("size_bytes", len(data)).
		Msg("Stored uploaded blob")

	return "local://" + safeName, nil
}

// Delete removes a blob previously written by Store. Only local:// URIs
// resolve to files we own; everything else is left alone.
func (s *Service) Delete(ctx context.Context, sourceURI string) error {
	if !strings.HasPrefix(sourceURI, "local://") {
		return nil
	}

	safeName := filepath.Base(strings.TrimPrefix(sourceURI, "local://"))
	path := filepath.Join(s.blobDir, safeName)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	s.logger.Debug().
		Str("file", safeName).
		Msg("Deleted stored blob")

	return nil
}

// Fetch retrieves the document bytes for a source URI.
func (s *Service) Fetch(ctx context.Context, sourceURI string) (*interfaces.BlobResult, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("source URI is required")
	}

	switch {
	case strings.HasPrefix(sourceURI, "github://"):
		return s.fetchGitHub(ctx, sourceURI)
	case strings.HasPrefix(sourceURI, "http://"), strings.HasPrefix(sourceURI, "https://"):
		return s.fetchHTTP(ctx, sourceURI)
	case strings.HasPrefix(sourceURI, "local://"):
		return s.fetchLocal(strings.TrimPrefix(sourceURI, "local://"))
	default:
		// Bare paths are treated as local files.
		return s.fetchLocal(sourceURI)
	}
}

func (s *Service) fetchLocal(path string) (*interfaces.BlobResult, error) {
	// Relative paths resolve inside the blob directory.
	if !filepath.IsAbs(path) {
		candidate := filepath.Join(s.blobDir, path)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local file: %w", err)
	}

	return &interfaces.BlobResult{
		Data:        data,
		ContentType: DetectContentType(data, path),
		FileName:    filepath.Base(path),
	}, nil
}

// fetchGitHub resolves github://owner/repo/path[@ref] through the contents
// API. Content comes back base64-encoded inside the JSON response.
func (s *Service) fetchGitHub(ctx context.Context, sourceURI string) (*interfaces.BlobResult, error) {
	owner, repo, path, ref, err := parseGitHubURI(sourceURI)
	if err != nil {
		return nil, err
	}

	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	content, _, _, err := s.githubClient.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get github content: %w", err)
	}
	if content == nil {
		return nil, fmt.Errorf("github file not found: %s", path)
	}

	decoded, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode github content: %w", err)
	}
	data := []byte(decoded)

	s.logger.Debug().
		Str("owner", owner).
		Str("repo", repo).
		Str("path", path).
		Int("size_bytes", len(data)).
		Msg("Fetched github content")

	return &interfaces.BlobResult{
		Data:        data,
		ContentType: DetectContentType(data, path),
		FileName:    filepath.Base(path),
	}, nil
}

// fetchHTTP downloads with a per-URI cookie jar and browser-like headers.
// Some filing portals sit behind a WAF that rejects bare client requests;
// the session cookies set on the first response satisfy it on retries.
func (s *Service) fetchHTTP(ctx context.Context, sourceURI string) (*interfaces.BlobResult, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: s.fetchTimeout,
	}

	var data []byte
	policy := fetchRetryPolicy()

	status, err := policy.ExecuteWithRetry(ctx, s.logger, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", sourceURI, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Accept", "application/pdf,text/html,application/xhtml+xml,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("fetch failed with status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
		}
		data = body
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s (status %d): %w", sourceURI, status, err)
	}

	s.logger.Debug().
		Str("url", sourceURI).
		Int("size_bytes", len(data)).
		Msg("Fetched remote document")

	return &interfaces.BlobResult{
		Data:        data,
		ContentType: DetectContentType(data, sourceURI),
		FileName:    fileNameFromURL(sourceURI),
	}, nil
}

// fetchRetryPolicy retries rate limits on a slower schedule (5s, 10s) than
// server errors (1s, 2s). Other 4xx fail immediately.
func fetchRetryPolicy() *common.RetryPolicy {
	return &common.RetryPolicy{
		MaxAttempts:          3,
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: []int{429, 500, 502, 503, 504},
		DelayOverride: func(attempt, statusCode int, err error) (time.Duration, bool) {
			if statusCode == 429 {
				return 5 * time.Second << uint(attempt), true
			}
			return 0, false
		},
	}
}

// parseGitHubURI splits github://owner/repo/path/to/file[@ref].
func parseGitHubURI(uri string) (owner, repo, path, ref string, err error) {
	rest := strings.TrimPrefix(uri, "github://")

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		ref = rest[at+1:]
		rest = rest[:at]
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("invalid github URI %q, want github://owner/repo/path[@ref]", uri)
	}

	return parts[0], parts[1], parts[2], ref, nil
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "document"
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		return "document"
	}
	return name
}

// DetectContentType sniffs the payload, preferring content magic over the
// URI extension.
func DetectContentType(data []byte, uri string) string {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf"
	}

	head := bytes.ToLower(bytes.TrimSpace(firstN(data, 512)))
	if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
		return "text/html"
	}

	switch strings.ToLower(filepath.Ext(strippedPath(uri))) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	}

	return "text/plain"
}

func firstN(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}

func strippedPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return u.Path
	}
	return uri
}

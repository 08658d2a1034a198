package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// KnownGoodURL lists every Chrome for Testing build with its downloads.
	KnownGoodURL = "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"
	// LastKnownGoodURL lists the current build of each release channel.
	LastKnownGoodURL = "https://googlechromelabs.github.io/chrome-for-testing/last-known-good-versions-with-downloads.json"
)

// Release is one downloadable chromedriver build.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Major returns the release's major version, or 0 if it cannot be parsed.
func (r *Release) Major() int {
	m, _ := MajorVersion(r.Version)
	return m
}

// Platform maps GOOS/GOARCH to the Chrome for Testing platform key.
func Platform(goos, goarch string) (string, error) {
	switch goos {
	case "linux":
		if goarch == "amd64" {
			return "linux64", nil
		}
	case "darwin":
		switch goarch {
		case "arm64":
			return "mac-arm64", nil
		case "amd64":
			return "mac-x64", nil
		}
	case "windows":
		switch goarch {
		case "386":
			return "win32", nil
		case "amd64", "arm64":
			return "win64", nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

// ManifestClient resolves driver releases from the Chrome for Testing endpoints.
type ManifestClient struct {
	knownGoodURL     string
	lastKnownGoodURL string
	httpClient       *http.Client
}

// NewManifestClient creates a client for the public endpoints.
func NewManifestClient() *ManifestClient {
	return &ManifestClient{
		knownGoodURL:     KnownGoodURL,
		lastKnownGoodURL: LastKnownGoodURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithURLs points the client at alternative manifest locations.
func (m *ManifestClient) WithURLs(knownGood, lastKnownGood string) *ManifestClient {
	m.knownGoodURL = knownGood
	m.lastKnownGoodURL = lastKnownGood
	return m
}

// Resolve picks the newest driver whose major version equals browserMajor,
// falling back to the latest stable driver when there is none.
// A browserMajor of 0 goes straight to the stable channel.
func (m *ManifestClient) Resolve(ctx context.Context, browserMajor int, platform string) (*Release, error) {
	if browserMajor > 0 {
		body, err := m.fetch(ctx, m.knownGoodURL)
		if err != nil {
			return nil, err
		}
		if rel, ok := SelectRelease(body, browserMajor, platform); ok {
			return rel, nil
		}
	}

	body, err := m.fetch(ctx, m.lastKnownGoodURL)
	if err != nil {
		return nil, err
	}
	return StableRelease(body, platform)
}

func (m *ManifestClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "browsr-driver")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("manifest %s returned status %d: %s", url, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("manifest %s is not valid JSON", url)
	}
	return body, nil
}

func chromedriverURL(entry gjson.Result, platform string) string {
	return entry.Get(fmt.Sprintf(`downloads.chromedriver.#(platform==%q).url`, platform)).String()
}

// SelectRelease scans a known-good-versions document for the newest version
// with the given major that ships a chromedriver for platform.
func SelectRelease(manifest []byte, major int, platform string) (*Release, bool) {
	var best *Release
	gjson.GetBytes(manifest, "versions").ForEach(func(_, entry gjson.Result) bool {
		version := entry.Get("version").String()
		if m, err := MajorVersion(version); err != nil || m != major {
			return true
		}
		url := chromedriverURL(entry, platform)
		if url == "" {
			return true
		}
		if best == nil || compareVersions(version, best.Version) > 0 {
			best = &Release{Version: version, URL: url}
		}
		return true
	})
	return best, best != nil
}

// StableRelease reads channels.Stable from a last-known-good document.
func StableRelease(manifest []byte, platform string) (*Release, error) {
	stable := gjson.GetBytes(manifest, "channels.Stable")
	if !stable.Exists() {
		return nil, fmt.Errorf("%w: manifest has no Stable channel", ErrNoRelease)
	}
	url := chromedriverURL(stable, platform)
	if url == "" {
		return nil, fmt.Errorf("%w: no stable chromedriver for %s", ErrNoRelease, platform)
	}
	return &Release{Version: stable.Get("version").String(), URL: url}, nil
}

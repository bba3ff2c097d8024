package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

const (
	releasesURL          = "https://api.github.com/repos/oszuidwest/zwfm-micwatch/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // first check runs after startup settles
	versionCheckTimeout  = 30 * time.Second
	versionAttempts      = 3
)

// versionRetryDelay is the pause between attempts of one check.
var versionRetryDelay = time.Minute

// VersionChecker polls GitHub for the latest release. It is safe for concurrent use.
type VersionChecker struct {
	apiURL string
	client *http.Client
	clock  clockwork.Clock

	mu     sync.RWMutex
	latest string
	etag   string // sent as If-None-Match

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker starts a background release check. Call Stop to end it.
func NewVersionChecker() *VersionChecker {
	vc := newVersionChecker(releasesURL, clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	vc.done = make(chan struct{})
	go func() {
		defer close(vc.done)
		vc.run(ctx)
	}()
	return vc
}

func newVersionChecker(apiURL string, clock clockwork.Clock) *VersionChecker {
	return &VersionChecker{
		apiURL: apiURL,
		client: &http.Client{Timeout: versionCheckTimeout},
		clock:  clock,
	}
}

// Stop ends the background check and waits for it. Safe to call more than once.
func (vc *VersionChecker) Stop() {
	if vc.cancel == nil {
		return
	}
	vc.cancel()
	<-vc.done
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	select {
	case <-vc.clock.After(versionCheckDelay):
	case <-ctx.Done():
		return
	}

	ticker := vc.clock.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		if err := vc.refresh(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("version check failed", "error", err)
		}
		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return
		}
	}
}

// refresh queries the latest release, retrying rate limits and server errors.
func (vc *VersionChecker) refresh(ctx context.Context) error {
	return retry.Do(
		func() error { return vc.fetch(ctx) },
		retry.Context(ctx),
		retry.Attempts(versionAttempts),
		retry.Delay(versionRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// githubRelease is the subset of the release payload that matters.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// fetch performs one conditional request. Errors wrapped in
// retry.Unrecoverable are not worth repeating.
func (vc *VersionChecker) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.apiURL, http.NoBody)
	if err != nil {
		return retry.Unrecoverable(util.WrapError("create release request", err))
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-micwatch/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return util.WrapError("query releases", err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response")()

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified, code == http.StatusNotFound:
		// Unchanged, or nothing released yet.
		return nil
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("release query returned status %d", code)
	case code != http.StatusOK:
		return retry.Unrecoverable(fmt.Errorf("release query returned status %d", code))
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return util.WrapError("decode release", err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return fmt.Errorf("release has no tag")
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the running and latest versions for status responses.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is a higher semver than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastVersionRetries(t *testing.T) {
	t.Helper()
	prev := versionRetryDelay
	versionRetryDelay = time.Millisecond
	t.Cleanup(func() { versionRetryDelay = prev })
}

func TestIsNewerVersion(t *testing.T) {
	assert.True(t, isNewerVersion("1.2.0", "1.1.9"))
	assert.True(t, isNewerVersion("v2.0.0", "1.9.9"))
	assert.False(t, isNewerVersion("1.0.0", "1.0.0"))
	assert.False(t, isNewerVersion("1.0.0", "1.0.1"))
	assert.Equal(t, "1.4.0", normalizeVersion(" v1.4.0 "))
}

func TestVersionCheckUsesETag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			assert.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL, clockwork.NewFakeClock())
	require.NoError(t, vc.refresh(context.Background()))
	require.NoError(t, vc.refresh(context.Background()))
	assert.Equal(t, int32(2), calls.Load())

	info := vc.Info()
	assert.Equal(t, "9.9.9", info.Latest)
	assert.False(t, info.UpdateAvail, "dev builds never report updates")
}

func TestVersionCheckSkipsPrereleases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v10.0.0-rc1","prerelease":true}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL, clockwork.NewFakeClock())
	assert.NoError(t, vc.refresh(context.Background()))
	assert.Empty(t, vc.Info().Latest)
}

func TestVersionCheckRetriesRateLimits(t *testing.T) {
	fastVersionRetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.3"}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL, clockwork.NewFakeClock())
	require.NoError(t, vc.refresh(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "1.2.3", vc.Info().Latest)
}

func TestVersionCheckClientErrorIsFinal(t *testing.T) {
	fastVersionRetries(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL, clockwork.NewFakeClock())
	assert.Error(t, vc.refresh(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestVersionCheckRunWaitsForStartupDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"tag_name":"v3.0.0"}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	vc := newVersionChecker(srv.URL, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		vc.run(ctx)
	}()

	clock.BlockUntil(1)
	assert.Zero(t, calls.Load(), "no request before the startup delay")

	clock.Advance(versionCheckDelay)
	require.Eventually(t, func() bool { return vc.Info().Latest == "3.0.0" }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestVersionCheckerStopWithoutStart(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0", clockwork.NewFakeClock())
	vc.Stop()
	vc.Stop()
}

package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-micwatch/internal/config"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

var (
	since = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	until = since.Add(2*time.Minute + 5*time.Second)

	activation = types.Transition{
		Current: types.MicState{Active: true, DeviceName: "USB Mic", ActiveSince: since},
		At:      since,
	}
	deactivation = types.Transition{
		Previous: types.MicState{Active: true, DeviceName: "USB Mic", ActiveSince: since},
		At:       until,
	}
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := webhookRetryDelay
	webhookRetryDelay = time.Millisecond
	t.Cleanup(func() { webhookRetryDelay = prev })
}

// webhookRecorder collects decoded payloads.
type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	status   func(n int) int
}

func (r *webhookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var p WebhookPayload
	_ = json.NewDecoder(req.Body).Decode(&p)

	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	n := len(r.payloads)
	r.mu.Unlock()

	status := http.StatusNoContent
	if r.status != nil {
		status = r.status(n)
	}
	w.WriteHeader(status)
}

func (r *webhookRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		out = append(out, p.Event)
	}
	return out
}

func TestTransitionPayload(t *testing.T) {
	t.Parallel()

	p := newTransitionPayload("studio-1", activation)
	assert.Equal(t, EventMicActive, p.Event)
	assert.Equal(t, "USB Mic", p.Device)
	assert.Equal(t, "2026-03-02T09:00:00Z", p.ActiveSince)
	assert.Zero(t, p.DurationMs)

	p = newTransitionPayload("studio-1", deactivation)
	assert.Equal(t, EventMicInactive, p.Event)
	assert.Equal(t, "USB Mic", p.Device)
	assert.Equal(t, "2026-03-02T09:00:00Z", p.ActiveSince)
	assert.Equal(t, int64(125000), p.DurationMs)
	assert.Equal(t, "2m 5s", p.Duration)
	assert.Equal(t, "studio-1", p.Instance)
}

func TestSendTransitionWebhookRetriesServerErrors(t *testing.T) {
	fastRetries(t)

	rec := &webhookRecorder{status: func(n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	require.NoError(t, SendTransitionWebhook(context.Background(), srv.URL, "studio-1", activation))
	assert.Equal(t, []string{EventMicActive, EventMicActive, EventMicActive}, rec.events())
}

func TestSendTransitionWebhookClientErrorIsFinal(t *testing.T) {
	fastRetries(t)

	rec := &webhookRecorder{status: func(int) int { return http.StatusBadRequest }}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	err := SendTransitionWebhook(context.Background(), srv.URL, "studio-1", activation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Len(t, rec.events(), 1)
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()
	assert.NoError(t, SendTransitionWebhook(context.Background(), "", "x", activation))
	assert.Error(t, SendTestWebhook(context.Background(), "", "x"))
}

// fakeZabbix accepts sender requests and records item values.
type fakeZabbix struct {
	ln     net.Listener
	mu     sync.Mutex
	values []string
	reply  string
}

func newFakeZabbix(t *testing.T, reply string) *fakeZabbix {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	z := &fakeZabbix{ln: ln, reply: reply}
	go z.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return z
}

func (z *fakeZabbix) serve() {
	for {
		conn, err := z.ln.Accept()
		if err != nil {
			return
		}
		body, err := readZabbixFrame(conn)
		if err == nil {
			var req zabbixRequest
			if json.Unmarshal(body, &req) == nil {
				z.mu.Lock()
				for _, item := range req.Data {
					z.values = append(z.values, item.Value)
				}
				z.mu.Unlock()
			}
			_, _ = conn.Write(frameZabbix([]byte(z.reply)))
		}
		_ = conn.Close()
	}
}

func (z *fakeZabbix) port() int {
	return z.ln.Addr().(*net.TCPAddr).Port
}

func (z *fakeZabbix) received() []string {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]string(nil), z.values...)
}

const zabbixOK = `{"response":"success","info":"processed: 1; failed: 0; total: 1; seconds spent: 0.000055"}`

func TestSendStateZabbix(t *testing.T) {
	t.Parallel()

	z := newFakeZabbix(t, zabbixOK)
	require.NoError(t, SendStateZabbix("127.0.0.1", z.port(), "studio", "mic.active", true))
	require.NoError(t, SendStateZabbix("127.0.0.1", z.port(), "studio", "mic.active", false))
	assert.Equal(t, []string{"1", "0"}, z.received())
}

func TestSendStateZabbixRejected(t *testing.T) {
	t.Parallel()

	z := newFakeZabbix(t, `{"response":"success","info":"processed: 0; failed: 0; total: 1"}`)
	err := SendStateZabbix("127.0.0.1", z.port(), "studio", "mic.active", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items")

	z = newFakeZabbix(t, `{"response":"failed","info":"bad host"}`)
	err = SendStateZabbix("127.0.0.1", z.port(), "studio", "mic.active", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad host")
}

func TestSendTestZabbixRequiresConfig(t *testing.T) {
	t.Parallel()
	assert.Error(t, SendTestZabbix("", 10051, "studio", "mic.active", false))
	assert.NoError(t, SendStateZabbix("", 10051, "studio", "mic.active", false))
}

func TestReadZabbixFrameLimits(t *testing.T) {
	t.Parallel()

	_, err := readZabbixFrame(&net.Buffers{[]byte("HTTP/1.1 400 Bad")})
	assert.Error(t, err)

	body, err := readZabbixFrame(&net.Buffers{frameZabbix([]byte(`{}`))})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(body))
}

func TestTransitionEmail(t *testing.T) {
	t.Parallel()

	subject, body := transitionEmail("studio-1", activation)
	assert.Equal(t, "[ON AIR] Microphone Active - studio-1", subject)
	assert.Contains(t, body, "USB Mic")

	subject, body = transitionEmail("studio-1", deactivation)
	assert.Equal(t, "[OFF] Microphone Inactive - studio-1", subject)
	assert.Contains(t, body, "2m 5s")
}

func TestGraphSendMailHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/desk@example.org/sendMail", r.URL.Path)
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := &GraphClient{
		fromAddress: "desk@example.org",
		baseURL:     srv.URL,
		retryWait:   time.Millisecond,
		httpClient:  srv.Client(),
	}
	require.NoError(t, c.SendMail(context.Background(), []string{" a@example.org "}, "s", "b"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGraphSendMailPermanentError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &GraphClient{fromAddress: "desk@example.org", baseURL: srv.URL, retryWait: time.Millisecond, httpClient: srv.Client()}
	err := c.SendMail(context.Background(), []string{"a@example.org"}, "s", "b")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	assert.Error(t, c.SendMail(context.Background(), []string{" ", ""}, "s", "b"))
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cfg := &GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "desk@example.org",
		Recipients:   "a@example.org, b@example.org",
	}
	require.NoError(t, ValidateConfig(cfg))
	assert.True(t, IsConfigured(cfg))
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, ParseRecipients(cfg.Recipients))

	bad := *cfg
	bad.TenantID = "not-a-guid"
	assert.Error(t, ValidateConfig(&bad))
}

func newNotifierConfig(t *testing.T, webhookURL string, zabbixPort int) *config.Config {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.SetWebhookURL(webhookURL))
	if zabbixPort > 0 {
		require.NoError(t, cfg.SetZabbix("127.0.0.1", zabbixPort, "studio", "mic.active"))
	}
	return cfg
}

func TestStateNotifierSendsEdgesInOrder(t *testing.T) {
	fastRetries(t)

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	z := newFakeZabbix(t, zabbixOK)

	n := NewStateNotifier(newNotifierConfig(t, srv.URL, z.port()))
	ctx := context.Background()

	n.HandleTransition(ctx, activation)
	// Device switch while active is not announced.
	n.HandleTransition(ctx, types.Transition{
		Previous: activation.Current,
		Current:  types.MicState{Active: true, DeviceName: "Headset", ActiveSince: since},
	})
	n.HandleTransition(ctx, deactivation)
	n.Wait()

	assert.Equal(t, []string{EventMicActive, EventMicInactive}, rec.events())
	assert.Equal(t, []string{"1", "0"}, z.received())
}

func TestStateNotifierSkipsRecoveryWithoutStart(t *testing.T) {
	fastRetries(t)

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := NewStateNotifier(newNotifierConfig(t, srv.URL, 0))
	n.HandleTransition(context.Background(), deactivation)
	n.Wait()

	assert.Empty(t, rec.events())
}

func TestStateNotifierRun(t *testing.T) {
	fastRetries(t)

	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := NewStateNotifier(newNotifierConfig(t, srv.URL, 0))
	ch := make(chan types.Transition, 2)
	ch <- activation
	ch <- deactivation
	close(ch)

	n.Run(context.Background(), ch)
	assert.Equal(t, []string{EventMicActive, EventMicInactive}, rec.events())
}

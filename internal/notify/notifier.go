package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-micwatch/internal/config"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// lane runs queued sends one at a time so a channel never sees the
// inactive message before the matching active one.
type lane struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (l *lane) push(wg *sync.WaitGroup, fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.running = false
				l.mu.Unlock()
				return
			}
			next := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			next()
		}
	}()
}

// StateNotifier sends alerts when the microphone becomes active or inactive.
type StateNotifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which channels announced the current activation
	webhookSent bool
	emailSent   bool
	zabbixSent  bool

	// Cached Graph client for email notifications
	graphClient *GraphClient

	webhook lane
	email   lane
	zabbix  lane
	wg      sync.WaitGroup
}

// NewStateNotifier returns a StateNotifier configured with the given config.
func NewStateNotifier(cfg *config.Config) *StateNotifier {
	return &StateNotifier{cfg: cfg}
}

// report runs send and logs its outcome.
func (n *StateNotifier) report(channel string, t types.Transition, send func() error) {
	if err := send(); err != nil {
		slog.Error("notification failed", "channel", channel, "edge", edgeLabel(t), "error", err)
		return
	}
	slog.Info("notification sent", "channel", channel, "edge", edgeLabel(t))
}

// Run handles transitions from ch until ctx ends or ch closes, then waits
// for pending sends.
func (n *StateNotifier) Run(ctx context.Context, ch <-chan types.Transition) {
	defer n.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			n.HandleTransition(ctx, t)
		}
	}
}

// Wait blocks until all queued notifications have been attempted.
func (n *StateNotifier) Wait() {
	n.wg.Wait()
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *StateNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *StateNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleTransition triggers notifications for activation edges. Changes
// that keep the microphone active, such as a device switch or mute
// toggle, are not announced.
func (n *StateNotifier) HandleTransition(ctx context.Context, t types.Transition) {
	switch {
	case t.Activated():
		n.handleActive(ctx, t)
	case t.Deactivated():
		n.handleInactive(ctx, t)
	}
}

// handleActive announces an activation on every configured channel.
func (n *StateNotifier) handleActive(ctx context.Context, t types.Transition) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), &n.webhook, func() { n.sendWebhook(ctx, cfg, t) })
	n.trySend(&n.emailSent, cfg.HasGraph(), &n.email, func() { n.sendEmail(ctx, cfg, t) })
	n.trySend(&n.zabbixSent, cfg.HasZabbix(), &n.zabbix, func() { n.sendZabbix(cfg, t) })
}

// trySend queues a notification if the condition is met and not already sent.
func (n *StateNotifier) trySend(sent *bool, condition bool, l *lane, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		l.push(&n.wg, sender)
	}
}

// handleInactive sends the matching recovery on channels that announced
// the activation.
func (n *StateNotifier) handleInactive(ctx context.Context, t types.Transition) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	webhook, email, zabbix := n.webhookSent, n.emailSent, n.zabbixSent
	n.webhookSent = false
	n.emailSent = false
	n.zabbixSent = false
	n.mu.Unlock()

	if webhook {
		n.webhook.push(&n.wg, func() { n.sendWebhook(ctx, cfg, t) })
	}
	if email {
		n.email.push(&n.wg, func() { n.sendEmail(ctx, cfg, t) })
	}
	if zabbix {
		n.zabbix.push(&n.wg, func() { n.sendZabbix(cfg, t) })
	}
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *StateNotifier) sendWebhook(ctx context.Context, cfg config.Snapshot, t types.Transition) {
	n.report("webhook", t, func() error {
		return SendTransitionWebhook(ctx, cfg.WebhookURL, cfg.InstanceName, t)
	})
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *StateNotifier) sendZabbix(cfg config.Snapshot, t types.Transition) {
	n.report("zabbix", t, func() error {
		return SendStateZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey, t.Current.Active)
	})
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func BuildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *StateNotifier) sendEmail(ctx context.Context, cfg config.Snapshot, t types.Transition) {
	graphCfg := BuildGraphConfig(cfg)
	subject, body := transitionEmail(cfg.InstanceName, t)
	n.report("email", t, func() error {
		return n.deliverEmail(ctx, graphCfg, subject, body)
	})
}

// deliverEmail sends through the cached Graph client.
func (n *StateNotifier) deliverEmail(ctx context.Context, cfg *GraphConfig, subject, body string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}

func edgeLabel(t types.Transition) string {
	if t.Activated() {
		return "Active"
	}
	return "Inactive"
}

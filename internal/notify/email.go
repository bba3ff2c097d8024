package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// transitionEmail returns the subject and body describing t.
func transitionEmail(instance string, t types.Transition) (subject, body string) {
	if t.Activated() {
		subject = "[ON AIR] Microphone Active - " + instance
		body = fmt.Sprintf(
			"A microphone was activated.\n\n"+
				"Device: %s\n"+
				"Muted:  %s\n"+
				"Since:  %s",
			deviceLabel(t.Current.DeviceName), yesNo(t.Current.Muted), util.HumanTime(t.Current.ActiveSince),
		)
		return subject, body
	}

	subject = "[OFF] Microphone Inactive - " + instance
	body = fmt.Sprintf(
		"The microphone is no longer in use.\n\n"+
			"Device:  %s\n"+
			"Active:  %s\n"+
			"Started: %s\n"+
			"Ended:   %s",
		deviceLabel(t.Previous.DeviceName), util.FormatDuration(t.Previous.Duration(t.At)),
		util.HumanTime(t.Previous.ActiveSince), util.HumanTime(t.At),
	)
	return subject, body
}

func deviceLabel(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, instance string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + instance
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(time.Now()),
	)

	recipients := ParseRecipients(cfg.Recipients)
	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

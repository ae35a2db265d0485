// Package notify holds the external side-effect capabilities the poller
// consumes. The poller only sees the two interfaces; concrete SMTP, Vonage
// and platform clients live behind them so tests can swap in fakes.
package notify

import (
	"context"
)

// Notifier delivers a reminder over one channel. Implementations must
// tolerate being called again for the same logical reminder: the caller
// retries until a log entry exists (at-least-once).
type Notifier interface {
	// Send delivers content to recipient and returns a provider message id
	// when the provider reports one.
	Send(ctx context.Context, recipient, content string) (externalID string, err error)
}

// Publisher performs the one-shot publish of a post to a social platform.
type Publisher interface {
	Publish(ctx context.Context, platform, content, accessToken string) (externalID string, err error)
}
